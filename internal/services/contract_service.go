package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"RentChain/internal/chain"
	"RentChain/internal/database"
	"RentChain/internal/models"
)

// ContractService is the contract lifecycle state machine. Every
// transition runs inside one database transaction under the per-contract
// row lock, appends exactly one history entry and notifies the
// counter-party. Chain calls happen outside the persisting transaction
// so a cancelled or failed RPC leaves the database state untouched.
type ContractService struct {
	chain    chain.Client
	notifier *NotificationService
}

func NewContractService(client chain.Client, notifier *NotificationService) *ContractService {
	return &ContractService{chain: client, notifier: notifier}
}

type CreateContractInput struct {
	TenantID          uint
	ItemID            uuid.UUID
	StartDate         time.Time
	EndDate           time.Time
	Terms             string
	SpecialConditions string
	Metadata          map[string]interface{}
}

// Statuses that make a contract occupy its item's calendar.
var occupyingStatuses = []models.ContractStatus{
	models.ContractPending,
	models.ContractSigned,
	models.ContractActive,
}

// Create validates the rental request and creates a PENDING contract.
func (s *ContractService) Create(in CreateContractInput) (*models.Contract, error) {
	if !in.EndDate.After(in.StartDate) {
		return nil, validation("end date must be after start date")
	}
	if in.StartDate.Before(time.Now().Add(-time.Hour)) {
		return nil, validation("start date cannot be in the past")
	}

	var item models.Item
	if err := database.DB.Select("id", "owner_id", "title", "price_per_day", "deposit", "available").
		First(&item, "id = ?", in.ItemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("item %s", in.ItemID)
		}
		return nil, err
	}
	if !item.Available {
		return nil, conflict("item %s is not available for rent", in.ItemID)
	}
	if item.OwnerID == in.TenantID {
		return nil, forbidden("you cannot rent your own item")
	}

	days := int(math.Ceil(in.EndDate.Sub(in.StartDate).Hours() / 24))
	if days < 1 {
		days = 1
	}
	totalPrice := float64(days) * item.PricePerDay

	var metadataJSON string
	if in.Metadata != nil {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, validation("metadata is not serializable: %v", err)
		}
		metadataJSON = string(raw)
	}

	contract := models.Contract{
		TenantID:          in.TenantID,
		OwnerID:           item.OwnerID,
		ItemID:            in.ItemID,
		StartDate:         in.StartDate,
		EndDate:           in.EndDate,
		TotalPrice:        totalPrice,
		Deposit:           item.Deposit,
		Currency:          "ETH",
		Terms:             in.Terms,
		SpecialConditions: in.SpecialConditions,
		Status:            models.ContractPending,
		PaymentStatus:     models.PaymentUnpaid,
		SettlementMode:    models.SettleLocal,
		Metadata:          metadataJSON,
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		// Conflict invariant: at most one occupying contract per item
		// and overlapping date range.
		var overlapping int64
		if err := tx.Model(&models.Contract{}).
			Where("item_id = ? AND status IN ? AND start_date < ? AND end_date > ?",
				in.ItemID, occupyingStatuses, in.EndDate, in.StartDate).
			Count(&overlapping).Error; err != nil {
			return err
		}
		if overlapping > 0 {
			return conflict("item already has a contract overlapping %s to %s",
				in.StartDate.Format("2006-01-02"), in.EndDate.Format("2006-01-02"))
		}

		if err := tx.Create(&contract).Error; err != nil {
			return err
		}
		return appendHistory(tx, contract.ID, in.TenantID, models.HistoryCreated,
			fmt.Sprintf("Rental contract created for item %q, %d day(s)", item.Title, days),
			"", string(models.ContractPending))
	})
	if err != nil {
		return nil, err
	}

	tenant, _ := s.loadUser(in.TenantID)
	if tenant != nil {
		if err := s.notifier.NotifyContractCreated(item.OwnerID, tenant.FullName, item.Title, contract.ID); err != nil {
			log.Printf("⚠️  Failed to notify owner %d about contract %d: %v", item.OwnerID, contract.ID, err)
		}
	}
	return &contract, nil
}

// Sign records one party's signature. The signature payload must be a
// secp256k1 signature of the contract digest by the party's wallet key.
// When the second signature lands the contract moves to SIGNED.
func (s *ContractService) Sign(contractID, userID uint, signature string) (*models.Contract, error) {
	var contract models.Contract
	var fullySigned bool

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&contract, contractID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("contract %d", contractID)
			}
			return err
		}

		if contract.Status != models.ContractPending {
			return invalidTransition("cannot sign contract with status %s", contract.Status)
		}
		if !contract.IsParty(userID) {
			return forbidden("only the tenant or the owner can sign this contract")
		}
		if contract.HasSigned(userID) {
			return conflict("you have already signed this contract")
		}

		signer, err := s.loadUserTx(tx, userID)
		if err != nil {
			return err
		}
		if err := VerifySignature(signer.WalletAddress, ContractDigest(&contract), signature); err != nil {
			return err
		}

		now := time.Now()
		updates := map[string]interface{}{"version": contract.Version + 1}
		if contract.TenantID == userID {
			updates["tenant_signature"] = signature
			updates["tenant_signed_at"] = now
			contract.TenantSignature = signature
			contract.TenantSignedAt = &now
		} else {
			updates["owner_signature"] = signature
			updates["owner_signed_at"] = now
			contract.OwnerSignature = signature
			contract.OwnerSignedAt = &now
		}

		oldStatus := contract.Status
		fullySigned = contract.BothSigned()
		if fullySigned {
			updates["status"] = models.ContractSigned
			contract.Status = models.ContractSigned
		}

		res := tx.Model(&models.Contract{}).
			Where("id = ? AND version = ?", contract.ID, contract.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflict("contract was modified concurrently, retry")
		}
		contract.Version++

		role := "tenant"
		if contract.OwnerID == userID {
			role = "owner"
		}
		return appendHistory(tx, contract.ID, userID, models.HistorySigned,
			fmt.Sprintf("Contract signed by %s", role),
			string(oldStatus), string(contract.Status))
	})
	if err != nil {
		return nil, err
	}

	signer, _ := s.loadUser(userID)
	if signer != nil {
		other := contract.CounterpartyOf(userID)
		if err := s.notifier.NotifyContractSigned(other, signer.FullName, contract.ID, fullySigned); err != nil {
			log.Printf("⚠️  Failed to notify user %d about signature on contract %d: %v", other, contract.ID, err)
		}
	}
	return &contract, nil
}

// Deploy instantiates the on-chain escrow for a fully signed contract.
// The chain call runs first; only a confirmed deployment is persisted,
// and the contract address is set exactly once.
func (s *ContractService) Deploy(ctx context.Context, contractID, userID uint) (*models.Contract, error) {
	var contract models.Contract
	if err := database.DB.First(&contract, contractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("contract %d", contractID)
		}
		return nil, err
	}

	if !contract.IsParty(userID) {
		return nil, forbidden("only the tenant or the owner can deploy this contract")
	}
	if contract.Status != models.ContractSigned || !contract.BothSigned() {
		return nil, invalidTransition("contract must be signed by both parties before deployment")
	}
	if contract.IsDeployed() {
		return nil, conflict("contract already deployed at %s", *contract.ContractAddress)
	}

	tenant, err := s.loadUser(contract.TenantID)
	if err != nil {
		return nil, err
	}
	owner, err := s.loadUser(contract.OwnerID)
	if err != nil {
		return nil, err
	}
	if tenant.WalletAddress == "" || owner.WalletAddress == "" {
		return nil, validation("both parties need a wallet address before deployment")
	}

	var itemChainID uint64
	if err := database.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		itemChainID, err = ChainIDForItem(tx, contract.ItemID)
		return err
	}); err != nil {
		return nil, err
	}

	receipt, err := s.chain.Deploy(ctx, chain.DeployParams{
		Tenant:       common.HexToAddress(tenant.WalletAddress),
		Owner:        common.HexToAddress(owner.WalletAddress),
		ItemChainID:  itemChainID,
		AmountWei:    chain.EthToWei(contract.TotalPrice),
		DepositWei:   chain.EthToWei(contract.Deposit),
		DurationSecs: uint64(contract.EndDate.Sub(contract.StartDate).Seconds()),
	})
	if err != nil {
		return nil, err
	}

	escrowAddr := receipt.ContractAddress.Hex()
	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&contract, contractID).Error; err != nil {
			return err
		}
		if contract.IsDeployed() {
			return conflict("contract already deployed at %s", *contract.ContractAddress)
		}

		res := tx.Model(&models.Contract{}).
			Where("id = ? AND version = ? AND contract_address IS NULL", contract.ID, contract.Version).
			Updates(map[string]interface{}{
				"contract_address": escrowAddr,
				"transaction_hash": receipt.TxHash.Hex(),
				"block_number":     receipt.BlockNumber,
				"settlement_mode":  models.SettleChain,
				"version":          contract.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflict("contract was modified concurrently, retry")
		}

		return appendHistory(tx, contract.ID, userID, models.HistoryDeployed,
			fmt.Sprintf("Escrow deployed at %s (tx %s, block %d)", escrowAddr, receipt.TxHash.Hex(), receipt.BlockNumber),
			"", escrowAddr)
	})
	if err != nil {
		return nil, err
	}

	contract.ContractAddress = &escrowAddr
	contract.TransactionHash = receipt.TxHash.Hex()
	contract.BlockNumber = receipt.BlockNumber
	contract.SettlementMode = models.SettleChain
	contract.Version++

	for _, partyID := range []uint{contract.TenantID, contract.OwnerID} {
		if err := s.notifier.NotifyContractDeployed(partyID, contract.ID, escrowAddr); err != nil {
			log.Printf("⚠️  Failed to notify user %d about deployment of contract %d: %v", partyID, contract.ID, err)
		}
	}
	return &contract, nil
}

// Activate moves a SIGNED contract to ACTIVE. For chain-backed contracts
// the deployment must be confirmed on chain first.
func (s *ContractService) Activate(ctx context.Context, contractID, userID uint) (*models.Contract, error) {
	var contract models.Contract
	if err := database.DB.First(&contract, contractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("contract %d", contractID)
		}
		return nil, err
	}

	if !contract.IsParty(userID) {
		return nil, forbidden("only the tenant or the owner can activate this contract")
	}
	if contract.Status != models.ContractSigned {
		return nil, invalidTransition("cannot activate contract with status %s", contract.Status)
	}

	if contract.SettlementMode == models.SettleChain {
		read := s.chain.GetRentalInfo(ctx, common.HexToAddress(*contract.ContractAddress))
		switch read.Status {
		case chain.ReadOk:
			// deployment confirmed
		case chain.ReadUnavailable:
			return nil, &chain.Error{Op: "activate", Reason: read.Reason, Retryable: true}
		default:
			return nil, &chain.Error{Op: "activate", Reason: read.Reason}
		}
	}

	err := s.transition(contractID, userID, models.ContractActive, models.HistoryActivated,
		"Rental activated", func(ct *models.Contract, updates map[string]interface{}) error {
			if ct.Status != models.ContractSigned {
				return invalidTransition("cannot activate contract with status %s", ct.Status)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	contract.Status = models.ContractActive

	other := contract.CounterpartyOf(userID)
	if err := s.notifier.NotifyContractActivated(other, contract.ID); err != nil {
		log.Printf("⚠️  Failed to notify user %d about activation of contract %d: %v", other, contract.ID, err)
	}
	return &contract, nil
}

// PayDeposit records the tenant's deposit. Chain-backed contracts route
// the transfer through the escrow; local ones record a manual payment.
func (s *ContractService) PayDeposit(ctx context.Context, contractID, userID uint) (*models.Payment, error) {
	var contract models.Contract
	if err := database.DB.First(&contract, contractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("contract %d", contractID)
		}
		return nil, err
	}

	if contract.TenantID != userID {
		return nil, forbidden("only the tenant pays the deposit")
	}
	if contract.Status != models.ContractSigned && contract.Status != models.ContractActive {
		return nil, invalidTransition("cannot pay deposit on contract with status %s", contract.Status)
	}
	if contract.DepositPaid {
		return nil, conflict("deposit already paid")
	}

	payment := models.Payment{
		ContractID: contract.ID,
		PayerID:    contract.TenantID,
		PayeeID:    contract.OwnerID,
		Type:       models.PaymentDeposit,
		Amount:     contract.Deposit,
		Currency:   contract.Currency,
		Status:     models.PaymentStateConfirmed,
	}

	if contract.SettlementMode == models.SettleChain {
		receipt, err := s.chain.PayDeposit(ctx, common.HexToAddress(*contract.ContractAddress), chain.EthToWei(contract.Deposit))
		if err != nil {
			return nil, err
		}
		payment.TxHash = receipt.TxHash.Hex()
		payment.BlockNumber = receipt.BlockNumber
		payment.GasUsed = receipt.GasUsed
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&contract, contractID).Error; err != nil {
			return err
		}
		if contract.DepositPaid {
			return conflict("deposit already paid")
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Contract{}).
			Where("id = ? AND version = ?", contract.ID, contract.Version).
			Updates(map[string]interface{}{
				"deposit_paid":   true,
				"paid_amount":    contract.PaidAmount + contract.Deposit,
				"payment_status": models.PaymentPartial,
				"version":        contract.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflict("contract was modified concurrently, retry")
		}

		return appendHistory(tx, contract.ID, userID, models.HistoryDepositPaid,
			fmt.Sprintf("Deposit of %.4f %s paid", contract.Deposit, contract.Currency),
			string(models.PaymentUnpaid), string(models.PaymentPartial))
	})
	if err != nil {
		return nil, err
	}

	tenant, _ := s.loadUser(contract.TenantID)
	if tenant != nil {
		if err := s.notifier.NotifyDepositPaid(contract.OwnerID, tenant.FullName, contract.Deposit, contract.ID); err != nil {
			log.Printf("⚠️  Failed to notify owner %d about deposit on contract %d: %v", contract.OwnerID, contract.ID, err)
		}
	}
	return &payment, nil
}

// Complete finishes an active rental. Chain-backed contracts settle
// through the escrow; local ones complete in the database only. The
// settlement path is recorded on the contract, not inferred later.
func (s *ContractService) Complete(ctx context.Context, contractID, actorID uint) (*models.Contract, error) {
	var contract models.Contract
	if err := database.DB.First(&contract, contractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("contract %d", contractID)
		}
		return nil, err
	}

	if !contract.IsParty(actorID) {
		return nil, forbidden("only the tenant or the owner can complete this contract")
	}
	if contract.Status != models.ContractActive {
		return nil, invalidTransition("cannot complete contract with status %s", contract.Status)
	}

	var rentalPayment *models.Payment
	if contract.SettlementMode == models.SettleChain {
		receipt, err := s.chain.Complete(ctx, common.HexToAddress(*contract.ContractAddress))
		if err != nil {
			return nil, err
		}
		rentalPayment = &models.Payment{
			ContractID:  contract.ID,
			PayerID:     contract.TenantID,
			PayeeID:     contract.OwnerID,
			Type:        models.PaymentRental,
			Amount:      contract.TotalPrice,
			Currency:    contract.Currency,
			Status:      models.PaymentStateConfirmed,
			TxHash:      receipt.TxHash.Hex(),
			BlockNumber: receipt.BlockNumber,
			GasUsed:     receipt.GasUsed,
		}
	}

	now := time.Now()
	err := s.transition(contractID, actorID, models.ContractCompleted, models.HistoryCompleted,
		fmt.Sprintf("Rental completed via %s settlement", contract.SettlementMode),
		func(ct *models.Contract, updates map[string]interface{}) error {
			if ct.Status != models.ContractActive {
				return invalidTransition("cannot complete contract with status %s", ct.Status)
			}
			updates["completed_at"] = now
			updates["completed_by"] = actorID
			updates["payment_status"] = models.PaymentPaid
			return nil
		},
		func(tx *gorm.DB, ct *models.Contract) error {
			if rentalPayment != nil {
				if err := tx.Create(rentalPayment).Error; err != nil {
					return err
				}
			}
			return tx.Model(&models.Item{}).Where("id = ?", ct.ItemID).
				UpdateColumn("rental_count", gorm.Expr("rental_count + 1")).Error
		})
	if err != nil {
		return nil, err
	}
	contract.Status = models.ContractCompleted
	contract.CompletedAt = &now
	contract.CompletedBy = &actorID

	actor, _ := s.loadUser(actorID)
	if actor != nil {
		other := contract.CounterpartyOf(actorID)
		if err := s.notifier.NotifyContractCompleted(other, actor.FullName, contract.ID); err != nil {
			log.Printf("⚠️  Failed to notify user %d about completion of contract %d: %v", other, contract.ID, err)
		}
	}
	return &contract, nil
}

// Cancel aborts a contract before completion. Deployed contracts route
// through the escrow so custody follows the chain.
func (s *ContractService) Cancel(ctx context.Context, contractID, actorID uint, reason string) (*models.Contract, error) {
	if reason == "" {
		return nil, validation("cancellation reason is required")
	}

	var contract models.Contract
	if err := database.DB.First(&contract, contractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("contract %d", contractID)
		}
		return nil, err
	}

	if !contract.IsParty(actorID) {
		return nil, forbidden("only the tenant or the owner can cancel this contract")
	}
	switch contract.Status {
	case models.ContractPending, models.ContractSigned, models.ContractActive:
	default:
		return nil, invalidTransition("cannot cancel contract with status %s", contract.Status)
	}

	var refund *models.Payment
	if contract.SettlementMode == models.SettleChain && contract.IsDeployed() {
		receipt, err := s.chain.Cancel(ctx, common.HexToAddress(*contract.ContractAddress), reason)
		if err != nil {
			return nil, err
		}
		if contract.DepositPaid {
			refund = &models.Payment{
				ContractID:  contract.ID,
				PayerID:     contract.OwnerID,
				PayeeID:     contract.TenantID,
				Type:        models.PaymentRefund,
				Amount:      contract.Deposit,
				Currency:    contract.Currency,
				Status:      models.PaymentStateConfirmed,
				TxHash:      receipt.TxHash.Hex(),
				BlockNumber: receipt.BlockNumber,
				GasUsed:     receipt.GasUsed,
			}
		}
	}

	now := time.Now()
	err := s.transition(contractID, actorID, models.ContractCancelled, models.HistoryCancelled,
		fmt.Sprintf("Rental cancelled: %s", reason),
		func(ct *models.Contract, updates map[string]interface{}) error {
			switch ct.Status {
			case models.ContractPending, models.ContractSigned, models.ContractActive:
			default:
				return invalidTransition("cannot cancel contract with status %s", ct.Status)
			}
			updates["cancelled_at"] = now
			updates["cancelled_by"] = actorID
			updates["cancellation_reason"] = reason
			if ct.DepositPaid {
				updates["payment_status"] = models.PaymentRefunded
			}
			return nil
		},
		func(tx *gorm.DB, ct *models.Contract) error {
			if refund != nil {
				return tx.Create(refund).Error
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	contract.Status = models.ContractCancelled
	contract.CancelledAt = &now
	contract.CancelledBy = &actorID
	contract.CancellationReason = reason

	actor, _ := s.loadUser(actorID)
	if actor != nil {
		other := contract.CounterpartyOf(actorID)
		if err := s.notifier.NotifyContractCancelled(other, actor.FullName, reason, contract.ID); err != nil {
			log.Printf("⚠️  Failed to notify user %d about cancellation of contract %d: %v", other, contract.ID, err)
		}
	}
	return &contract, nil
}

// Extend pushes the end date of an active rental out and adds the extra
// price. The original end date is captured exactly once, on the first
// extension.
func (s *ContractService) Extend(contractID, userID uint, newEnd time.Time, extraPrice float64) (*models.Contract, error) {
	if extraPrice < 0 {
		return nil, validation("extra price cannot be negative")
	}

	var contract models.Contract
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&contract, contractID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("contract %d", contractID)
			}
			return err
		}

		if !contract.IsParty(userID) {
			return forbidden("only the tenant or the owner can extend this contract")
		}
		if contract.Status != models.ContractActive {
			return invalidTransition("cannot extend contract with status %s", contract.Status)
		}
		if !newEnd.After(contract.EndDate) {
			return validation("new end date must be after the current end date")
		}

		oldEnd := contract.EndDate
		updates := map[string]interface{}{
			"end_date":        newEnd,
			"total_price":     contract.TotalPrice + extraPrice,
			"extension_count": contract.ExtensionCount + 1,
			"version":         contract.Version + 1,
		}
		if contract.OriginalEndDate == nil {
			updates["original_end_date"] = oldEnd
			contract.OriginalEndDate = &oldEnd
		}

		res := tx.Model(&models.Contract{}).
			Where("id = ? AND version = ?", contract.ID, contract.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflict("contract was modified concurrently, retry")
		}

		contract.EndDate = newEnd
		contract.TotalPrice += extraPrice
		contract.ExtensionCount++
		contract.Version++

		return appendHistory(tx, contract.ID, userID, models.HistoryExtended,
			fmt.Sprintf("Rental extended, +%.4f %s", extraPrice, contract.Currency),
			oldEnd.Format("2006-01-02"), newEnd.Format("2006-01-02"))
	})
	if err != nil {
		return nil, err
	}

	tenant, _ := s.loadUser(contract.TenantID)
	if tenant != nil {
		if err := s.notifier.NotifyContractExtended(contract.OwnerID, tenant.FullName, contract.ID, newEnd.Format("2006-01-02")); err != nil {
			log.Printf("⚠️  Failed to notify owner %d about extension of contract %d: %v", contract.OwnerID, contract.ID, err)
		}
	}
	return &contract, nil
}

// Reopen is the explicit, named transition out of DISPUTED back to
// ACTIVE once every dispute on the contract has been resolved or closed.
// Dispute resolution alone never re-activates a contract.
func (s *ContractService) Reopen(contractID, actorID uint) (*models.Contract, error) {
	var contract models.Contract
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&contract, contractID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("contract %d", contractID)
			}
			return err
		}

		if !contract.IsParty(actorID) {
			return forbidden("only the tenant or the owner can reopen this contract")
		}
		if contract.Status != models.ContractDisputed {
			return invalidTransition("cannot reopen contract with status %s", contract.Status)
		}

		var active int64
		if err := tx.Model(&models.Dispute{}).
			Where("contract_id = ? AND status IN ?", contract.ID,
				[]models.DisputeStatus{models.DisputeOpen, models.DisputeInvestigating}).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return conflict("contract still has an unresolved dispute")
		}

		res := tx.Model(&models.Contract{}).
			Where("id = ? AND version = ?", contract.ID, contract.Version).
			Updates(map[string]interface{}{
				"status":  models.ContractActive,
				"version": contract.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflict("contract was modified concurrently, retry")
		}
		contract.Status = models.ContractActive
		contract.Version++

		return appendHistory(tx, contract.ID, actorID, models.HistoryReopened,
			"Rental reopened after dispute resolution",
			string(models.ContractDisputed), string(models.ContractActive))
	})
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

// ExpireOverdue marks active contracts whose end date passed as EXPIRED.
// It only runs when explicitly invoked (admin endpoint or periodic job);
// there is no background scheduler.
func (s *ContractService) ExpireOverdue(grace time.Duration) (int, error) {
	cutoff := time.Now().Add(-grace)

	var overdue []models.Contract
	if err := database.DB.
		Where("status = ? AND end_date < ?", models.ContractActive, cutoff).
		Find(&overdue).Error; err != nil {
		return 0, err
	}

	expired := 0
	for i := range overdue {
		ct := &overdue[i]
		err := database.DB.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Contract{}).
				Where("id = ? AND status = ? AND version = ?", ct.ID, models.ContractActive, ct.Version).
				Updates(map[string]interface{}{
					"status":  models.ContractExpired,
					"version": ct.Version + 1,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil // moved on concurrently, skip
			}
			expired++
			return appendHistory(tx, ct.ID, models.SystemActor, models.HistorySynced,
				fmt.Sprintf("Contract expired, end date %s passed", ct.EndDate.Format("2006-01-02")),
				string(models.ContractActive), string(models.ContractExpired))
		})
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

// Get returns one contract with its read-model projections, access
// restricted to the parties and admins.
func (s *ContractService) Get(contractID, userID uint, isAdmin bool) (*models.Contract, error) {
	var contract models.Contract
	err := database.DB.
		Preload("Tenant", userProjection).
		Preload("Owner", userProjection).
		Preload("Item").
		First(&contract, contractID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("contract %d", contractID)
		}
		return nil, err
	}
	if !isAdmin && !contract.IsParty(userID) {
		return nil, forbidden("you don't have access to this contract")
	}
	return &contract, nil
}

// ListForUser returns the contracts a user participates in, optionally
// filtered by role.
func (s *ContractService) ListForUser(userID uint, role string) ([]models.Contract, error) {
	query := database.DB.
		Preload("Tenant", userProjection).
		Preload("Owner", userProjection).
		Preload("Item")

	switch role {
	case "tenant":
		query = query.Where("tenant_id = ?", userID)
	case "owner":
		query = query.Where("owner_id = ?", userID)
	default:
		query = query.Where("tenant_id = ? OR owner_id = ?", userID, userID)
	}

	var contracts []models.Contract
	if err := query.Order("created_at DESC").Find(&contracts).Error; err != nil {
		return nil, err
	}
	return contracts, nil
}

// History returns the append-only audit trail of a contract.
func (s *ContractService) History(contractID, userID uint, isAdmin bool) ([]models.ContractHistory, error) {
	if _, err := s.Get(contractID, userID, isAdmin); err != nil {
		return nil, err
	}
	var entries []models.ContractHistory
	if err := database.DB.
		Where("contract_id = ?", contractID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Payments returns the payments recorded against a contract.
func (s *ContractService) Payments(contractID, userID uint, isAdmin bool) ([]models.Payment, error) {
	if _, err := s.Get(contractID, userID, isAdmin); err != nil {
		return nil, err
	}
	var payments []models.Payment
	if err := database.DB.
		Where("contract_id = ?", contractID).
		Order("created_at ASC").
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// transition applies one status change under the row lock with the
// optimistic version predicate, appending exactly one history entry.
// check validates the current state and may add fields to the update
// map; extra, when present, runs inside the same transaction.
func (s *ContractService) transition(
	contractID, actorID uint,
	target models.ContractStatus,
	event models.HistoryEvent,
	description string,
	check func(ct *models.Contract, updates map[string]interface{}) error,
	extra ...func(tx *gorm.DB, ct *models.Contract) error,
) error {
	return database.DB.Transaction(func(tx *gorm.DB) error {
		var ct models.Contract
		if err := lockForUpdate(tx).First(&ct, contractID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("contract %d", contractID)
			}
			return err
		}

		updates := map[string]interface{}{
			"status":  target,
			"version": ct.Version + 1,
		}
		if err := check(&ct, updates); err != nil {
			return err
		}

		oldStatus := ct.Status
		res := tx.Model(&models.Contract{}).
			Where("id = ? AND version = ?", ct.ID, ct.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return conflict("contract was modified concurrently, retry")
		}

		for _, fn := range extra {
			if err := fn(tx, &ct); err != nil {
				return err
			}
		}

		return appendHistory(tx, ct.ID, actorID, event, description,
			string(oldStatus), string(target))
	})
}

func appendHistory(tx *gorm.DB, contractID, actor uint, event models.HistoryEvent, description, oldValue, newValue string) error {
	return tx.Create(&models.ContractHistory{
		ContractID:  contractID,
		Actor:       actor,
		EventType:   event,
		Description: description,
		OldValue:    oldValue,
		NewValue:    newValue,
	}).Error
}

// userProjection keeps relation loads down to the fields the lifecycle
// actually needs.
func userProjection(db *gorm.DB) *gorm.DB {
	return db.Select("id", "full_name", "email", "wallet_address", "role")
}

func (s *ContractService) loadUser(userID uint) (*models.User, error) {
	return s.loadUserTx(database.DB, userID)
}

func (s *ContractService) loadUserTx(tx *gorm.DB, userID uint) (*models.User, error) {
	var user models.User
	if err := userProjection(tx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("user %d", userID)
		}
		return nil, err
	}
	return &user, nil
}
