package routes

import (
	"RentChain/internal/handlers"
	"RentChain/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

func SetupDisputeRoutes(app *fiber.App) {
	dispute := app.Group("/api/disputes", middleware.Protected())

	// Raise a dispute against an active contract
	dispute.Post("/", handlers.OpenDispute)

	// Get all my disputes
	dispute.Get("/my-disputes", handlers.GetMyDisputes)

	// Get specific dispute
	dispute.Get("/:id", handlers.GetDisputeByID)
}
