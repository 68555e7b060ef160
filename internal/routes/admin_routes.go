package routes

import (
	"RentChain/internal/handlers"
	"RentChain/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

func SetupAdminRoutes(app *fiber.App) {
	// Protected admin routes
	admin := app.Group("/api/admin", middleware.Protected(), middleware.AdminOnly())

	// Dispute Management
	admin.Get("/disputes", handlers.GetAllDisputes)
	admin.Post("/disputes/:id/investigate", handlers.InvestigateDispute)
	admin.Post("/disputes/:id/resolve", handlers.ResolveDispute)
	admin.Post("/disputes/:id/close", handlers.CloseDispute)

	// Contract Management
	admin.Post("/contracts/expire", handlers.ExpireContracts)
}
