package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"RentChain/internal/chain"
	"RentChain/internal/database"
	"RentChain/internal/models"
)

// Reconciler pulls chain truth back into the contract store. For any
// contract with an escrow address the chain is authoritative: when the
// two views diverge the database is overwritten and one history entry
// records the correction. Unreachable nodes and missing code produce a
// soft report, never an error, so a transient RPC outage cannot corrupt
// contract state.
type Reconciler struct {
	chain chain.Client
}

func NewReconciler(client chain.Client) *Reconciler {
	return &Reconciler{chain: client}
}

// SyncReport is the soft result of one reconciliation attempt.
type SyncReport struct {
	ContractID uint                  `json:"contract_id"`
	Synced     bool                  `json:"synced"`
	Changed    bool                  `json:"changed"`
	Status     models.ContractStatus `json:"status"`
	ChainCode  *uint8                `json:"chain_status_code,omitempty"`
	Reason     string                `json:"reason,omitempty"`
	MockChain  bool                  `json:"mock_chain"`
}

// statusForCode maps escrow status codes onto contract statuses. Code 0
// (created, deposit not yet paid) keeps whatever side of SIGNED/ACTIVE
// the database already holds, since activation is an explicit step.
func statusForCode(code uint8, current models.ContractStatus) models.ContractStatus {
	switch code {
	case chain.StatusCreated:
		if current == models.ContractActive {
			return models.ContractActive
		}
		return models.ContractSigned
	case chain.StatusActive:
		return models.ContractActive
	case chain.StatusCompleted:
		return models.ContractCompleted
	case chain.StatusCancelled:
		return models.ContractCancelled
	case chain.StatusDisputed:
		return models.ContractDisputed
	}
	return current
}

// Sync reconciles one contract with its escrow.
func (r *Reconciler) Sync(ctx context.Context, contractID uint) (*SyncReport, error) {
	var contract models.Contract
	if err := database.DB.First(&contract, contractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("contract %d", contractID)
		}
		return nil, err
	}

	report := &SyncReport{
		ContractID: contractID,
		Status:     contract.Status,
		MockChain:  r.chain.Mock(),
	}

	if !contract.IsDeployed() {
		report.Reason = "contract has no escrow address, nothing to reconcile"
		return report, nil
	}

	read := r.chain.GetRentalInfo(ctx, common.HexToAddress(*contract.ContractAddress))
	switch read.Status {
	case chain.ReadOk:
	case chain.ReadUnavailable:
		log.Printf("⚠️  Sync of contract %d incomplete: %s", contractID, read.Reason)
		report.Reason = fmt.Sprintf("sync incomplete: %s", read.Reason)
		return report, nil
	case chain.ReadNoCode:
		log.Printf("⚠️  Sync of contract %d incomplete: no code at %s", contractID, *contract.ContractAddress)
		report.Reason = "sync incomplete: no contract code at escrow address"
		return report, nil
	default:
		report.Reason = fmt.Sprintf("sync incomplete: %s", read.Reason)
		return report, nil
	}

	code := read.Info.StatusCode
	report.ChainCode = &code

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := advisoryLock(tx, contractID); err != nil {
			return err
		}
		// Re-read under the lock: a concurrent sync may already have
		// applied this correction.
		if err := lockForUpdate(tx).First(&contract, contractID).Error; err != nil {
			return err
		}

		target := statusForCode(code, contract.Status)
		updates := map[string]interface{}{}

		if contract.Status != target {
			updates["status"] = target
		}
		depositOnChain := code >= chain.StatusActive && code != chain.StatusCancelled
		if depositOnChain && !contract.DepositPaid {
			updates["deposit_paid"] = true
			updates["paid_amount"] = contract.PaidAmount + contract.Deposit
			if contract.PaymentStatus == models.PaymentUnpaid {
				updates["payment_status"] = models.PaymentPartial
			}
		}
		if target == models.ContractCompleted && contract.PaymentStatus != models.PaymentPaid {
			updates["payment_status"] = models.PaymentPaid
		}

		if len(updates) == 0 {
			// Idempotent: unchanged chain state appends no history.
			report.Synced = true
			report.Status = contract.Status
			return nil
		}

		updates["version"] = contract.Version + 1
		res := tx.Model(&models.Contract{}).
			Where("id = ? AND version = ?", contract.ID, contract.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflict("contract was modified concurrently, retry")
		}

		if err := appendHistory(tx, contract.ID, models.SystemActor, models.HistorySynced,
			fmt.Sprintf("State corrected from chain (escrow status code %d)", code),
			string(contract.Status), string(target)); err != nil {
			return err
		}

		report.Synced = true
		report.Changed = true
		report.Status = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// ChainStatus is the read-only blockchain-status view: the database
// record next to the live escrow struct, with no reconciliation applied.
type ChainStatus struct {
	ContractID      uint                  `json:"contract_id"`
	DBStatus        models.ContractStatus `json:"db_status"`
	ContractAddress string                `json:"contract_address,omitempty"`
	Deployed        bool                  `json:"deployed"`
	MockChain       bool                  `json:"mock_chain"`
	ChainReachable  bool                  `json:"chain_reachable"`
	Info            *chain.RentalInfo     `json:"rental_info,omitempty"`
	Reason          string                `json:"reason,omitempty"`
}

// Status reads the escrow without writing anything back.
func (r *Reconciler) Status(ctx context.Context, contractID, userID uint, isAdmin bool) (*ChainStatus, error) {
	var contract models.Contract
	if err := database.DB.First(&contract, contractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("contract %d", contractID)
		}
		return nil, err
	}
	if !isAdmin && !contract.IsParty(userID) {
		return nil, forbidden("you don't have access to this contract")
	}

	status := &ChainStatus{
		ContractID: contractID,
		DBStatus:   contract.Status,
		Deployed:   contract.IsDeployed(),
		MockChain:  r.chain.Mock(),
	}
	if !contract.IsDeployed() {
		status.Reason = "contract has no escrow address"
		return status, nil
	}
	status.ContractAddress = *contract.ContractAddress

	read := r.chain.GetRentalInfo(ctx, common.HexToAddress(*contract.ContractAddress))
	switch read.Status {
	case chain.ReadOk:
		status.ChainReachable = true
		status.Info = read.Info
	default:
		status.Reason = read.Reason
	}
	return status, nil
}
