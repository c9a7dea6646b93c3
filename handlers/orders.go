package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"food-delivery/dispatch/auth"
	"food-delivery/dispatch/models"
	"food-delivery/dispatch/orders"
)

type statusRequest struct {
	Status models.ShopOrderStatus `json:"status" validate:"required"`
}

type verifyCodeRequest struct {
	Code string `json:"code" validate:"required,len=4,numeric"`
}

type sendCodeResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
	Code      string    `json:"code,omitempty"`
}

// placeOrder godoc
// @Summary Place an order
// @Tags orders
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body orders.PlaceOrderRequest true "order"
// @Success 201 {object} models.Order
// @Failure 400 {object} map[string]string
// @Router /orders [post]
func (h *Handler) placeOrder(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	var req orders.PlaceOrderRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	o, err := h.orders.Place(c.UserContext(), id, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(o)
}

// myOrders godoc
// @Summary Orders of the caller
// @Description Customers get their orders, owners their shop orders, couriers the ones they carry.
// @Tags orders
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {array} models.Order
// @Router /orders [get]
func (h *Handler) myOrders(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	list, err := h.orders.Mine(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(list)
}

// getOrder godoc
// @Summary Order snapshot
// @Tags orders
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "order id"
// @Success 200 {object} models.Order
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /orders/{id} [get]
func (h *Handler) getOrder(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	o, err := h.orders.Get(c.UserContext(), id, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(o)
}

// updateStatus godoc
// @Summary Move a shop order forward
// @Description Setting out_for_delivery offers the delivery to nearby couriers.
// @Tags orders
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "order id"
// @Param shopOrderId path string true "shop order id"
// @Param request body statusRequest true "new status"
// @Success 200 {object} models.ShopOrder
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/shop-orders/{shopOrderId}/status [put]
func (h *Handler) updateStatus(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	so, err := h.orders.UpdateStatus(c.UserContext(), id, c.Params("id"), c.Params("shopOrderId"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(so)
}

// sendCode godoc
// @Summary Issue a delivery code
// @Description Sends a fresh 4-digit code to the customer, replacing any earlier one.
// @Tags delivery
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "order id"
// @Param shopOrderId path string true "shop order id"
// @Success 200 {object} sendCodeResponse
// @Failure 403 {object} map[string]string
// @Router /orders/{id}/shop-orders/{shopOrderId}/delivery-code [post]
func (h *Handler) sendCode(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	code, err := h.orders.SendCode(c.UserContext(), id, c.Params("id"), c.Params("shopOrderId"))
	if err != nil {
		return err
	}
	resp := sendCodeResponse{Message: "delivery code sent to customer", ExpiresAt: code.ExpiresAt}
	if h.exposeCode {
		resp.Code = code.Code
	}
	return c.JSON(resp)
}

// verifyCode godoc
// @Summary Complete a delivery
// @Description A wrong code leaves the issued one valid. An expired code answers 410.
// @Tags delivery
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "order id"
// @Param shopOrderId path string true "shop order id"
// @Param request body verifyCodeRequest true "code"
// @Success 200 {object} models.ShopOrder
// @Failure 400 {object} map[string]string
// @Failure 410 {object} map[string]string
// @Router /orders/{id}/shop-orders/{shopOrderId}/delivery-code/verify [post]
func (h *Handler) verifyCode(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	var req verifyCodeRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	so, err := h.orders.VerifyCode(c.UserContext(), id, c.Params("id"), c.Params("shopOrderId"), req.Code)
	if err != nil {
		return err
	}
	return c.JSON(so)
}
