// Package handlers is the REST surface of the dispatch server.
package handlers

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/auth"
	"food-delivery/dispatch/chat"
	"food-delivery/dispatch/config"
	"food-delivery/dispatch/location"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/metrics"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/orders"

	_ "food-delivery/dispatch/docs"
)

// SessionCloser ends the realtime connection of a signed out session.
type SessionCloser interface {
	CloseSession(sessionID string)
}

// Realtime mounts the websocket endpoint.
type Realtime interface {
	SessionCloser
	Upgrade() fiber.Handler
	Handler() fiber.Handler
}

type Deps struct {
	Issuer   *auth.Issuer
	Realtime Realtime
	Orders   *orders.Service
	Chats    *chat.Service
	Location *location.Service
	Logger   logx.Logger
}

type Handler struct {
	issuer     *auth.Issuer
	sessions   SessionCloser
	orders     *orders.Service
	chats      *chat.Service
	location   *location.Service
	logger     logx.Logger
	exposeCode bool
	validate   *validator.Validate
}

// New builds the fiber app with every route mounted.
func New(d Deps, server config.ServerConfig, delivery config.DeliveryConfig) *fiber.App {
	h := &Handler{
		issuer:     d.Issuer,
		sessions:   d.Realtime,
		orders:     d.Orders,
		chats:      d.Chats,
		location:   d.Location,
		logger:     d.Logger,
		exposeCode: delivery.ExposeCode,
		validate:   validator.New(),
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           server.ReadTimeout,
		WriteTimeout:          server.WriteTimeout,
		ErrorHandler:          errorHandler(d.Logger),
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())
	app.Use(metrics.Middleware())

	app.Get("/health", healthCheck)
	app.Get("/metrics", metrics.Handler())
	app.Get("/swagger/*", swagger.HandlerDefault)

	mountRealtime(app, d.Issuer, d.Realtime)
	h.routes(app.Group("/api/v1"))
	return app
}

func (h *Handler) routes(v1 fiber.Router) {
	authn := h.issuer.Middleware()

	v1.Post("/auth/signin", h.signIn)
	v1.Get("/auth/me", authn, h.me)
	v1.Post("/auth/signout", authn, h.signOut)

	ord := v1.Group("/orders", authn)
	ord.Post("/", auth.RequireRole(models.RoleCustomer), h.placeOrder)
	ord.Get("/", h.myOrders)
	ord.Get("/:id", h.getOrder)
	ord.Put("/:id/shop-orders/:shopOrderId/status", auth.RequireRole(models.RoleOwner), h.updateStatus)
	ord.Post("/:id/shop-orders/:shopOrderId/delivery-code", auth.RequireRole(models.RoleCourier), h.sendCode)
	ord.Post("/:id/shop-orders/:shopOrderId/delivery-code/verify",
		auth.RequireRole(models.RoleCourier), verifyLimiter(), h.verifyCode)

	dlv := v1.Group("/delivery", authn, auth.RequireRole(models.RoleCourier))
	dlv.Get("/assignments", h.assignments)
	dlv.Post("/assignments/:id/accept", h.acceptAssignment)
	dlv.Get("/current", h.currentOrder)
	dlv.Get("/stats", h.stats)
	dlv.Post("/location", h.updateLocation)

	ch := v1.Group("/chat", authn)
	ch.Get("/order/:orderId/:shopOrderId", h.chatForOrder)
	ch.Get("/:id", h.getChat)
	ch.Post("/:id/message", h.sendMessage)
	ch.Put("/:id/read", h.markRead)
}

func (h *Handler) bind(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	return nil
}

// errorHandler answers {"error", "code"}; the code lets clients recover the
// sentinel behind the status.
func errorHandler(log logx.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}

		status := apperr.HTTPStatus(err)
		msg := err.Error()
		if status >= fiber.StatusInternalServerError {
			log.Error("request failed",
				logx.String("method", c.Method()),
				logx.String("path", c.Path()),
				logx.Err(err),
			)
			msg = "internal error"
		}
		return c.Status(status).JSON(fiber.Map{
			"error": msg,
			"code":  apperr.Code(err),
		})
	}
}

// healthCheck godoc
// @Summary Liveness probe
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"time":   time.Now(),
	})
}
