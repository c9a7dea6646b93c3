package handlers

import (
	"github.com/gofiber/fiber/v2"

	"food-delivery/dispatch/auth"
)

// mountRealtime serves the shared realtime connection at /ws. The token comes
// from the Authorization header or, for browsers, the token query parameter.
func mountRealtime(app *fiber.App, issuer *auth.Issuer, rt Realtime) {
	app.Use("/ws", issuer.Middleware(), rt.Upgrade())
	app.Get("/ws", rt.Handler())
}
