package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"RentChain/internal/chain"
	"RentChain/internal/services"
)

var (
	contractService *services.ContractService
	reconciler      *services.Reconciler
	disputeService  *services.DisputeService
)

// InitContractServices wires the lifecycle services with the configured
// chain client.
func InitContractServices(client chain.Client) {
	email := services.NewEmailService()
	notifier := services.NewNotificationService(email)
	notificationService = notifier
	contractService = services.NewContractService(client, notifier)
	reconciler = services.NewReconciler(client)
	disputeService = services.NewDisputeService(notifier)
}

type CreateContractRequest struct {
	ItemID            string                 `json:"item_id" validate:"required"`
	StartDate         time.Time              `json:"start_date" validate:"required"`
	EndDate           time.Time              `json:"end_date" validate:"required"`
	Terms             string                 `json:"terms"`
	SpecialConditions string                 `json:"special_conditions"`
	Metadata          map[string]interface{} `json:"metadata"`
}

type SignContractRequest struct {
	Signature string `json:"signature" validate:"required"`
}

type CancelContractRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type ExtendContractRequest struct {
	NewEndDate time.Time `json:"new_end_date" validate:"required"`
	ExtraPrice float64   `json:"extra_price" validate:"gte=0"`
}

// httpError maps a service error onto the HTTP taxonomy.
func httpError(c *fiber.Ctx, err error) error {
	var chainErr *chain.Error
	switch {
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &chainErr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":     chainErr.Error(),
			"retryable": chainErr.Retryable,
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
}

func isAdmin(c *fiber.Ctx) bool {
	role, _ := c.Locals("role").(string)
	return role == "admin"
}

// CreateContract creates a new rental contract in PENDING state
func CreateContract(c *fiber.Ctx) error {
	req := new(CreateContractRequest)
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	itemID, err := uuid.Parse(req.ItemID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid item id",
		})
	}

	tenantID := c.Locals("user_id").(uint)

	contract, err := contractService.Create(services.CreateContractInput{
		TenantID:          tenantID,
		ItemID:            itemID,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		Terms:             req.Terms,
		SpecialConditions: req.SpecialConditions,
		Metadata:          req.Metadata,
	})
	if err != nil {
		return httpError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Contract created. Waiting for both parties to sign.",
		"contract": contract,
	})
}

// SignContract records the caller's signature on the contract
func SignContract(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	req := new(SignContractRequest)
	if err := c.BodyParser(req); err != nil || req.Signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Signature is required",
		})
	}

	contract, err := contractService.Sign(uint(contractID), userID, req.Signature)
	if err != nil {
		return httpError(c, err)
	}

	message := "Contract signed. Waiting for the other party."
	if contract.BothSigned() {
		message = "Contract signed by both parties and ready for deployment."
	}
	return c.JSON(fiber.Map{
		"message":  message,
		"contract": contract,
	})
}

// DeployContract instantiates the on-chain escrow for a signed contract
func DeployContract(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	contract, err := contractService.Deploy(c.UserContext(), uint(contractID), userID)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":          "Escrow deployed successfully",
		"contract_address": contract.ContractAddress,
		"transaction_hash": contract.TransactionHash,
		"block_number":     contract.BlockNumber,
		"contract":         contract,
	})
}

// ActivateContract moves a signed contract to ACTIVE
func ActivateContract(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	contract, err := contractService.Activate(c.UserContext(), uint(contractID), userID)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":  "Rental is now active",
		"contract": contract,
	})
}

// PayDeposit records the tenant's deposit payment
func PayDeposit(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	payment, err := contractService.PayDeposit(c.UserContext(), uint(contractID), userID)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Deposit paid successfully",
		"payment": payment,
	})
}

// CompleteContract finishes an active rental
func CompleteContract(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	contract, err := contractService.Complete(c.UserContext(), uint(contractID), userID)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":  "Rental completed",
		"contract": contract,
	})
}

// CancelContract aborts a contract before completion
func CancelContract(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	req := new(CancelContractRequest)
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	contract, err := contractService.Cancel(c.UserContext(), uint(contractID), userID, req.Reason)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":  "Rental cancelled",
		"contract": contract,
	})
}

// ExtendContract pushes out the end date of an active rental
func ExtendContract(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	req := new(ExtendContractRequest)
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	contract, err := contractService.Extend(uint(contractID), userID, req.NewEndDate, req.ExtraPrice)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":  "Rental extended",
		"contract": contract,
	})
}

// ReopenContract returns a disputed contract to ACTIVE after its
// disputes have been settled
func ReopenContract(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	contract, err := contractService.Reopen(uint(contractID), userID)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":  "Rental reopened",
		"contract": contract,
	})
}

// GetMyContracts lists the caller's contracts, optionally by role
func GetMyContracts(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uint)
	role := c.Query("role")

	contracts, err := contractService.ListForUser(userID, role)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"contracts": contracts,
		"count":     len(contracts),
	})
}

// GetContractByID returns one contract
func GetContractByID(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	contract, err := contractService.Get(uint(contractID), userID, isAdmin(c))
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"contract": contract,
	})
}

// GetContractHistory returns the append-only audit trail
func GetContractHistory(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	entries, err := contractService.History(uint(contractID), userID, isAdmin(c))
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"history": entries,
		"count":   len(entries),
	})
}

// GetContractPayments returns the payments recorded against a contract
func GetContractPayments(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	payments, err := contractService.Payments(uint(contractID), userID, isAdmin(c))
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"payments": payments,
		"count":    len(payments),
	})
}

// GetBlockchainStatus reads the live escrow next to the database view
func GetBlockchainStatus(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	status, err := reconciler.Status(c.UserContext(), uint(contractID), userID, isAdmin(c))
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"status": status,
	})
}

// SyncContract reconciles the database record with the chain
func SyncContract(c *fiber.Ctx) error {
	contractID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contract id"})
	}
	userID := c.Locals("user_id").(uint)

	if _, err := contractService.Get(uint(contractID), userID, isAdmin(c)); err != nil {
		return httpError(c, err)
	}

	report, err := reconciler.Sync(c.UserContext(), uint(contractID))
	if err != nil {
		return httpError(c, err)
	}

	message := "Contract is in sync with the chain"
	if !report.Synced {
		message = "Sync incomplete, database state left untouched"
	} else if report.Changed {
		message = "Contract state corrected from the chain"
	}
	return c.JSON(fiber.Map{
		"message": message,
		"report":  report,
	})
}

// ExpireContracts marks overdue active contracts as expired (admin)
func ExpireContracts(c *fiber.Ctx) error {
	expired, err := contractService.ExpireOverdue(24 * time.Hour)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Expiry sweep completed",
		"expired": expired,
	})
}
