package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/auth"
)

type locationRequest struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

type locationResponse struct {
	ActiveOrderID string `json:"active_order_id,omitempty"`
}

// verifyLimiter caps code guesses per courier.
func verifyLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        20,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id, err := auth.Identity(c); err == nil {
				return id.ID
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.ErrTooManyRequests
		},
	})
}

// assignments godoc
// @Summary Open offers for the courier
// @Tags delivery
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {array} models.Assignment
// @Router /delivery/assignments [get]
func (h *Handler) assignments(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	list, err := h.orders.Assignments(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(list)
}

// acceptAssignment godoc
// @Summary Accept an offer
// @Description Exactly one courier wins; the rest get 409 ALREADY_ACCEPTED.
// @Tags delivery
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "assignment id"
// @Success 200 {object} models.ShopOrder
// @Failure 409 {object} map[string]string
// @Failure 410 {object} map[string]string
// @Router /delivery/assignments/{id}/accept [post]
func (h *Handler) acceptAssignment(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	so, err := h.orders.Accept(c.UserContext(), id, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(so)
}

// currentOrder godoc
// @Summary The delivery the courier is carrying
// @Tags delivery
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} orders.CurrentDelivery
// @Failure 404 {object} map[string]string
// @Router /delivery/current [get]
func (h *Handler) currentOrder(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	cur, err := h.orders.Current(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(cur)
}

// stats godoc
// @Summary Courier earnings
// @Tags delivery
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} models.CourierStats
// @Router /delivery/stats [get]
func (h *Handler) stats(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	st, err := h.orders.Stats(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(st)
}

// updateLocation godoc
// @Summary Report the courier position
// @Tags delivery
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body locationRequest true "position"
// @Success 200 {object} locationResponse
// @Router /delivery/location [post]
func (h *Handler) updateLocation(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	var req locationRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	if req.Latitude == 0 && req.Longitude == 0 {
		return apperr.ErrInvalid
	}
	active, err := h.location.UpdatePosition(c.UserContext(), id, req.Latitude, req.Longitude)
	if err != nil {
		return err
	}
	return c.JSON(locationResponse{ActiveOrderID: active})
}
