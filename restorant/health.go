package main

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"food-delivery/dispatch/tracking"
)

func healthApp(feed *tracking.Feed, k *kitchen) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Second * 10,
		WriteTimeout:          time.Second * 10,
		DisableStartupMessage: true,
	})
	app.Use(logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		active, advanced := k.inProgress()
		list, err := feed.Orders()
		body := fiber.Map{
			"status":      "ok",
			"service":     "restaurant",
			"loaded":      feed.Loaded(),
			"orders":      len(list),
			"in_progress": active,
			"advanced":    advanced,
		}
		if err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
		return c.JSON(body)
	})
	return app
}
