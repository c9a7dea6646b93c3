package handlers

import (
	"github.com/gofiber/fiber/v2"

	"food-delivery/dispatch/auth"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
)

type signInRequest struct {
	ID       string      `json:"id" validate:"required"`
	Role     models.Role `json:"role" validate:"required,oneof=customer owner courier"`
	FullName string      `json:"full_name"`
	Mobile   string      `json:"mobile"`
}

type signInResponse struct {
	Token    string          `json:"token"`
	Identity models.Identity `json:"identity"`
}

// signIn godoc
// @Summary Start a session
// @Description Issues a token naming a fresh session. Credentials are checked by the upstream auth service.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body signInRequest true "identity"
// @Success 200 {object} signInResponse
// @Failure 400 {object} map[string]string
// @Router /auth/signin [post]
func (h *Handler) signIn(c *fiber.Ctx) error {
	var req signInRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	token, id, err := h.issuer.Issue(models.Identity{
		ID:       req.ID,
		Role:     req.Role,
		FullName: req.FullName,
		Mobile:   req.Mobile,
	})
	if err != nil {
		return err
	}
	h.logger.Info("signed in",
		logx.String("user_id", id.ID),
		logx.String("role", string(id.Role)),
		logx.String("session_id", id.SessionID),
	)
	return c.JSON(signInResponse{Token: token, Identity: id})
}

// me godoc
// @Summary Current identity
// @Tags auth
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} models.Identity
// @Router /auth/me [get]
func (h *Handler) me(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	return c.JSON(id)
}

// signOut godoc
// @Summary End the session
// @Description Revokes the token and closes the session's realtime connection.
// @Tags auth
// @Security ApiKeyAuth
// @Success 204
// @Router /auth/signout [post]
func (h *Handler) signOut(c *fiber.Ctx) error {
	id, err := auth.Identity(c)
	if err != nil {
		return err
	}
	h.issuer.Revoke(id.SessionID)
	h.sessions.CloseSession(id.SessionID)
	h.logger.Info("signed out", logx.String("user_id", id.ID), logx.String("session_id", id.SessionID))
	return c.SendStatus(fiber.StatusNoContent)
}
