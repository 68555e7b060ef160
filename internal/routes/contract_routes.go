package routes

import (
	"RentChain/internal/handlers"
	"RentChain/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

func SetupContractRoutes(app *fiber.App) {
	contracts := app.Group("/api/contracts", middleware.Protected())

	// Create a new rental contract (tenant)
	contracts.Post("/", handlers.CreateContract)

	// Get all my contracts (as tenant or owner)
	contracts.Get("/my-contracts", handlers.GetMyContracts)

	// Get specific contract
	contracts.Get("/:id", handlers.GetContractByID)

	// Audit trail
	contracts.Get("/:id/history", handlers.GetContractHistory)

	// Payments recorded against the contract
	contracts.Get("/:id/payments", handlers.GetContractPayments)

	// On-chain status view (DB vs chain, no writes)
	contracts.Get("/:id/blockchain-status", handlers.GetBlockchainStatus)

	// Lifecycle transitions
	contracts.Post("/:id/sign", handlers.SignContract)
	contracts.Post("/:id/deploy", handlers.DeployContract)
	contracts.Post("/:id/activate", handlers.ActivateContract)
	contracts.Post("/:id/pay-deposit", handlers.PayDeposit)
	contracts.Post("/:id/complete", handlers.CompleteContract)
	contracts.Post("/:id/cancel", handlers.CancelContract)
	contracts.Post("/:id/extend", handlers.ExtendContract)
	contracts.Post("/:id/reopen", handlers.ReopenContract)

	// Reconcile DB state with the chain
	contracts.Post("/:id/sync", handlers.SyncContract)
}
