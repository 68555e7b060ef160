package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"RentChain/internal/database"
	"RentChain/internal/models"
)

// DisputeService enforces the single-active-dispute invariant and keeps
// the owning contract's DISPUTED flag in step. Resolution records the
// outcome and compensation; it never re-activates the contract, that is
// the contract service's explicit reopen transition.
type DisputeService struct {
	notifier *NotificationService
}

func NewDisputeService(notifier *NotificationService) *DisputeService {
	return &DisputeService{notifier: notifier}
}

type OpenDisputeInput struct {
	ContractID  uint
	RaisedBy    uint
	Reason      models.DisputeReason
	Description string
	Evidence    []string
}

// Open creates a dispute on an active contract and moves the contract to
// DISPUTED, all under the contract row lock.
func (s *DisputeService) Open(in OpenDisputeInput) (*models.Dispute, error) {
	if in.Description == "" {
		return nil, validation("dispute description is required")
	}

	var evidenceJSON string
	if len(in.Evidence) > 0 {
		raw, err := json.Marshal(in.Evidence)
		if err != nil {
			return nil, validation("evidence list is not serializable: %v", err)
		}
		evidenceJSON = string(raw)
	}

	var contract models.Contract
	dispute := models.Dispute{
		ContractID:  in.ContractID,
		RaisedBy:    in.RaisedBy,
		Reason:      in.Reason,
		Description: in.Description,
		Evidence:    evidenceJSON,
		Status:      models.DisputeOpen,
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&contract, in.ContractID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("contract %d", in.ContractID)
			}
			return err
		}

		if !contract.IsParty(in.RaisedBy) {
			return forbidden("only the tenant or the owner can open a dispute")
		}

		// Duplicate check before the status check: a second dispute on
		// an already disputed contract is a Conflict, not a bad transition.
		var active int64
		if err := tx.Model(&models.Dispute{}).
			Where("contract_id = ? AND status IN ?", in.ContractID,
				[]models.DisputeStatus{models.DisputeOpen, models.DisputeInvestigating}).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return conflict("a dispute is already open for this contract")
		}

		if contract.Status != models.ContractActive {
			return invalidTransition("cannot dispute contract with status %s", contract.Status)
		}

		if err := tx.Create(&dispute).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Contract{}).
			Where("id = ? AND version = ?", contract.ID, contract.Version).
			Updates(map[string]interface{}{
				"status":  models.ContractDisputed,
				"version": contract.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflict("contract was modified concurrently, retry")
		}

		return appendHistory(tx, contract.ID, in.RaisedBy, models.HistoryDisputed,
			fmt.Sprintf("Dispute opened: %s", in.Reason),
			string(models.ContractActive), string(models.ContractDisputed))
	})
	if err != nil {
		return nil, err
	}

	var raiser models.User
	if err := userProjection(database.DB).First(&raiser, in.RaisedBy).Error; err == nil {
		other := contract.CounterpartyOf(in.RaisedBy)
		if err := s.notifier.NotifyDisputeOpened(other, raiser.FullName, string(in.Reason), contract.ID, dispute.ID); err != nil {
			log.Printf("⚠️  Failed to notify user %d about dispute %d: %v", other, dispute.ID, err)
		}
	}
	return &dispute, nil
}

// Investigate assigns an admin and moves an OPEN dispute to
// INVESTIGATING.
func (s *DisputeService) Investigate(disputeID, adminID uint) (*models.Dispute, error) {
	var dispute models.Dispute
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&dispute, disputeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("dispute %d", disputeID)
			}
			return err
		}
		if dispute.Status != models.DisputeOpen {
			return invalidTransition("cannot investigate dispute with status %s", dispute.Status)
		}

		dispute.Status = models.DisputeInvestigating
		dispute.AssignedTo = &adminID
		return tx.Save(&dispute).Error
	})
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

type ResolveDisputeInput struct {
	DisputeID          uint
	ResolvedBy         uint
	Resolution         string
	CompensationAmount float64
	CompensationTo     *uint
}

// Resolve closes out a dispute with a resolution text and optional
// compensation. Compensation is bookkept as a payment row against the
// contract; the contract itself stays DISPUTED until explicitly
// reopened or cancelled.
func (s *DisputeService) Resolve(in ResolveDisputeInput) (*models.Dispute, error) {
	if in.Resolution == "" {
		return nil, validation("resolution text is required")
	}
	if in.CompensationAmount < 0 {
		return nil, validation("compensation cannot be negative")
	}
	if in.CompensationAmount > 0 && in.CompensationTo == nil {
		return nil, validation("compensation requires a recipient")
	}

	var dispute models.Dispute
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).Preload("Contract").First(&dispute, in.DisputeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("dispute %d", in.DisputeID)
			}
			return err
		}
		if !dispute.IsActive() {
			return invalidTransition("cannot resolve dispute with status %s", dispute.Status)
		}

		if in.CompensationTo != nil && !dispute.Contract.IsParty(*in.CompensationTo) {
			return validation("compensation recipient must be a contract party")
		}

		now := time.Now()
		oldStatus := dispute.Status
		dispute.Status = models.DisputeResolved
		dispute.Resolution = in.Resolution
		dispute.CompensationAmount = in.CompensationAmount
		dispute.CompensationTo = in.CompensationTo
		dispute.ResolvedBy = &in.ResolvedBy
		dispute.ResolvedAt = &now
		if err := tx.Save(&dispute).Error; err != nil {
			return err
		}

		if in.CompensationAmount > 0 && in.CompensationTo != nil {
			payType := models.PaymentPenalty
			payer := dispute.Contract.TenantID
			if *in.CompensationTo == dispute.Contract.TenantID {
				payType = models.PaymentRefund
				payer = dispute.Contract.OwnerID
			}
			payment := models.Payment{
				ContractID: dispute.ContractID,
				PayerID:    payer,
				PayeeID:    *in.CompensationTo,
				Type:       payType,
				Amount:     in.CompensationAmount,
				Currency:   dispute.Contract.Currency,
				Status:     models.PaymentStatePending,
			}
			if err := tx.Create(&payment).Error; err != nil {
				return err
			}
		}

		return appendHistory(tx, dispute.ContractID, in.ResolvedBy, models.HistoryDisputeResolved,
			fmt.Sprintf("Dispute %d resolved: %s", dispute.ID, in.Resolution),
			string(oldStatus), string(models.DisputeResolved))
	})
	if err != nil {
		return nil, err
	}

	for _, partyID := range []uint{dispute.Contract.TenantID, dispute.Contract.OwnerID} {
		if err := s.notifier.NotifyDisputeResolved(partyID, in.Resolution, dispute.ID); err != nil {
			log.Printf("⚠️  Failed to notify user %d about resolution of dispute %d: %v", partyID, dispute.ID, err)
		}
	}
	return &dispute, nil
}

// Close discards a dispute without a resolution.
func (s *DisputeService) Close(disputeID, adminID uint) (*models.Dispute, error) {
	var dispute models.Dispute
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&dispute, disputeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("dispute %d", disputeID)
			}
			return err
		}
		if !dispute.IsActive() {
			return invalidTransition("cannot close dispute with status %s", dispute.Status)
		}
		now := time.Now()
		dispute.Status = models.DisputeClosed
		dispute.ResolvedBy = &adminID
		dispute.ResolvedAt = &now
		return tx.Save(&dispute).Error
	})
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

// Get returns one dispute, access restricted to contract parties and
// admins.
func (s *DisputeService) Get(disputeID, userID uint, isAdmin bool) (*models.Dispute, error) {
	var dispute models.Dispute
	err := database.DB.
		Preload("Contract").
		Preload("User", userProjection).
		First(&dispute, disputeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("dispute %d", disputeID)
		}
		return nil, err
	}
	if !isAdmin && !dispute.Contract.IsParty(userID) {
		return nil, forbidden("you don't have access to this dispute")
	}
	return &dispute, nil
}

// ListForUser returns the disputes on contracts a user participates in.
func (s *DisputeService) ListForUser(userID uint) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := database.DB.
		Preload("Contract").
		Joins("JOIN contracts ON disputes.contract_id = contracts.id").
		Where("contracts.tenant_id = ? OR contracts.owner_id = ?", userID, userID).
		Order("disputes.created_at DESC").
		Find(&disputes).Error
	if err != nil {
		return nil, err
	}
	return disputes, nil
}

// ListAll returns every dispute, optionally filtered by status. Admin
// surface only.
func (s *DisputeService) ListAll(status models.DisputeStatus) ([]models.Dispute, error) {
	query := database.DB.Preload("Contract")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var disputes []models.Dispute
	if err := query.Order("created_at DESC").Find(&disputes).Error; err != nil {
		return nil, err
	}
	return disputes, nil
}
