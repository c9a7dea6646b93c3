package handlers

import (
	"github.com/gofiber/fiber/v2"

	"food-delivery/dispatch/auth"
	"food-delivery/dispatch/chat"
)

// chatForOrder godoc
// @Summary Open the chat of a shop order
// @Tags chat
// @Produce json
// @Security ApiKeyAuth
// @Param orderId path string true "order id"
// @Param shopOrderId path string true "shop order id"
// @Success 200 {object} models.Chat
// @Failure 409 {object} map[string]string
// @Router /chat/order/{orderId}/{shopOrderId} [get]
func (h *Handler) chatForOrder(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	ch, err := h.chats.GetOrCreate(c.UserContext(), id, c.Params("orderId"), c.Params("shopOrderId"))
	if err != nil {
		return err
	}
	return c.JSON(ch)
}

// getChat godoc
// @Summary Chat with its messages
// @Tags chat
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "chat id"
// @Success 200 {object} models.Chat
// @Router /chat/{id} [get]
func (h *Handler) getChat(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	ch, err := h.chats.Get(c.UserContext(), id, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(ch)
}

// sendMessage godoc
// @Summary Post a chat message
// @Tags chat
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "chat id"
// @Param request body chat.SendRequest true "message"
// @Success 201 {object} models.ChatMessage
// @Router /chat/{id}/message [post]
func (h *Handler) sendMessage(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	var req chat.SendRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	msg, err := h.chats.Send(c.UserContext(), id, c.Params("id"), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// markRead godoc
// @Summary Mark the chat read
// @Tags chat
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "chat id"
// @Success 200 {object} map[string]int
// @Router /chat/{id}/read [put]
func (h *Handler) markRead(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	n, err := h.chats.MarkRead(c.UserContext(), id, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"marked": n})
}
