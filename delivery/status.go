package main

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"food-delivery/dispatch/appstate"
	"food-delivery/dispatch/courier"
)

func statusApp(store *appstate.Store, board *courier.Board, r *rider) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Second * 10,
		WriteTimeout:          time.Second * 10,
		DisableStartupMessage: true,
	})
	app.Use(logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		status := "ok"
		if board.Err() != nil {
			status = "degraded"
		}
		return c.JSON(fiber.Map{
			"status":    status,
			"service":   "delivery",
			"signed_in": store.State().SignedIn(),
		})
	})

	app.Get("/status", func(c *fiber.Ctx) error {
		st := store.State()
		return c.JSON(fiber.Map{
			"rider":       r.status(),
			"assignments": board.Assignments(),
			"current":     st.Current,
			"stats":       st.Stats,
		})
	})
	return app
}
