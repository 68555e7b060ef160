package routes

import (
	"RentChain/internal/chain"
	"RentChain/internal/handlers"

	"github.com/gofiber/fiber/v2"
)

func SetupRoutes(app *fiber.App, client chain.Client) {
	// Wire handler services once, before any route group
	handlers.InitContractServices(client)

	// API routes
	api := app.Group("/api")

	// Health check
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "RentChain API v1.0",
			"status":  "running",
			"chain":   !client.Mock(),
		})
	})

	SetupContractRoutes(app)
	SetupDisputeRoutes(app)
	SetupNotificationRoutes(app)
	SetupAdminRoutes(app)
}
