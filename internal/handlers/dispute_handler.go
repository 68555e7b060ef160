package handlers

import (
	"github.com/gofiber/fiber/v2"

	"RentChain/internal/models"
	"RentChain/internal/services"
)

type OpenDisputeRequest struct {
	ContractID  uint     `json:"contract_id" validate:"required"`
	Reason      string   `json:"reason" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Evidence    []string `json:"evidence"`
}

type ResolveDisputeRequest struct {
	Resolution         string  `json:"resolution" validate:"required"`
	CompensationAmount float64 `json:"compensation_amount" validate:"gte=0"`
	CompensationTo     *uint   `json:"compensation_to"`
}

// OpenDispute allows the tenant or the owner to dispute an active rental
func OpenDispute(c *fiber.Ctx) error {
	req := new(OpenDisputeRequest)
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	userID := c.Locals("user_id").(uint)

	dispute, err := disputeService.Open(services.OpenDisputeInput{
		ContractID:  req.ContractID,
		RaisedBy:    userID,
		Reason:      models.DisputeReason(req.Reason),
		Description: req.Description,
		Evidence:    req.Evidence,
	})
	if err != nil {
		return httpError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Dispute opened. Our team will review it shortly.",
		"dispute": dispute,
	})
}

// GetMyDisputes lists disputes on the caller's contracts
func GetMyDisputes(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uint)

	disputes, err := disputeService.ListForUser(userID)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// GetDisputeByID returns one dispute
func GetDisputeByID(c *fiber.Ctx) error {
	disputeID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dispute id"})
	}
	userID := c.Locals("user_id").(uint)

	dispute, err := disputeService.Get(uint(disputeID), userID, isAdmin(c))
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"dispute": dispute,
	})
}

// GetAllDisputes lists every dispute, optionally by status (admin)
func GetAllDisputes(c *fiber.Ctx) error {
	status := models.DisputeStatus(c.Query("status"))

	disputes, err := disputeService.ListAll(status)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// InvestigateDispute assigns the dispute to the calling admin
func InvestigateDispute(c *fiber.Ctx) error {
	disputeID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dispute id"})
	}
	adminID := c.Locals("user_id").(uint)

	dispute, err := disputeService.Investigate(uint(disputeID), adminID)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Dispute is now under investigation",
		"dispute": dispute,
	})
}

// ResolveDispute records the outcome and compensation (admin)
func ResolveDispute(c *fiber.Ctx) error {
	disputeID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dispute id"})
	}
	adminID := c.Locals("user_id").(uint)

	req := new(ResolveDisputeRequest)
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	dispute, err := disputeService.Resolve(services.ResolveDisputeInput{
		DisputeID:          uint(disputeID),
		ResolvedBy:         adminID,
		Resolution:         req.Resolution,
		CompensationAmount: req.CompensationAmount,
		CompensationTo:     req.CompensationTo,
	})
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Dispute resolved",
		"dispute": dispute,
	})
}

// CloseDispute discards a dispute without a resolution (admin)
func CloseDispute(c *fiber.Ctx) error {
	disputeID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dispute id"})
	}
	adminID := c.Locals("user_id").(uint)

	dispute, err := disputeService.Close(uint(disputeID), adminID)
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Dispute closed",
		"dispute": dispute,
	})
}
