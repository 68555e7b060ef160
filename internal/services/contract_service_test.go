package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RentChain/internal/chain"
	"RentChain/internal/models"
	"RentChain/internal/services"
)

func TestCreateContract(t *testing.T) {
	f := newFixture(t)

	ct := f.createContract(t)

	assert.Equal(t, models.ContractPending, ct.Status)
	assert.Equal(t, models.PaymentUnpaid, ct.PaymentStatus)
	assert.Equal(t, models.SettleLocal, ct.SettlementMode)
	assert.Equal(t, f.owner.User.ID, ct.OwnerID)
	assert.Equal(t, 1.5, ct.TotalPrice) // 3 days at 0.5/day
	assert.Equal(t, 1.0, ct.Deposit)

	assert.Equal(t, []models.HistoryEvent{models.HistoryCreated}, f.historyEvents(t, ct.ID))

	// Owner gets an in-app notification
	var count int64
	f.db.Model(&models.Notification{}).Where("user_id = ?", f.owner.User.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCreateContractValidation(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(24 * time.Hour)

	_, err := f.contracts.Create(services.CreateContractInput{
		TenantID:  f.tenant.User.ID,
		ItemID:    f.item.ID,
		StartDate: start,
		EndDate:   start.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = f.contracts.Create(services.CreateContractInput{
		TenantID:  f.tenant.User.ID,
		ItemID:    f.item.ID,
		StartDate: time.Now().Add(-48 * time.Hour),
		EndDate:   start,
	})
	assert.ErrorIs(t, err, services.ErrValidation)

	// Owner cannot rent their own item
	_, err = f.contracts.Create(services.CreateContractInput{
		TenantID:  f.owner.User.ID,
		ItemID:    f.item.ID,
		StartDate: start,
		EndDate:   start.Add(24 * time.Hour),
	})
	assert.ErrorIs(t, err, services.ErrForbidden)

	// Unavailable item
	require.NoError(t, f.db.Model(&models.Item{}).Where("id = ?", f.item.ID).
		Update("available", false).Error)
	_, err = f.contracts.Create(services.CreateContractInput{
		TenantID:  f.tenant.User.ID,
		ItemID:    f.item.ID,
		StartDate: start,
		EndDate:   start.Add(24 * time.Hour),
	})
	assert.ErrorIs(t, err, services.ErrConflict)
}

func TestCreateContractOverlap(t *testing.T) {
	f := newFixture(t)
	first := f.createContract(t)

	// Second tenant wants an overlapping window on the same item
	rival := newTestParty(t, f.db, "rival")
	_, err := f.contracts.Create(services.CreateContractInput{
		TenantID:  rival.User.ID,
		ItemID:    f.item.ID,
		StartDate: first.StartDate.Add(24 * time.Hour),
		EndDate:   first.EndDate.Add(24 * time.Hour),
	})
	assert.ErrorIs(t, err, services.ErrConflict)

	// A window after the first contract ends is fine
	_, err = f.contracts.Create(services.CreateContractInput{
		TenantID:  rival.User.ID,
		ItemID:    f.item.ID,
		StartDate: first.EndDate.Add(24 * time.Hour),
		EndDate:   first.EndDate.Add(48 * time.Hour),
	})
	assert.NoError(t, err)
}

func TestSignBothParties(t *testing.T) {
	f := newFixture(t)
	ct := f.createContract(t)

	// First signature keeps the contract PENDING
	signed, err := f.contracts.Sign(ct.ID, f.tenant.User.ID, signHex(t, f.tenant.Key, ct))
	require.NoError(t, err)
	assert.Equal(t, models.ContractPending, signed.Status)
	assert.NotEmpty(t, signed.TenantSignature)
	assert.NotNil(t, signed.TenantSignedAt)

	// Second signature flips it to SIGNED
	signed, err = f.contracts.Sign(ct.ID, f.owner.User.ID, signHex(t, f.owner.Key, ct))
	require.NoError(t, err)
	assert.Equal(t, models.ContractSigned, signed.Status)
	assert.True(t, signed.BothSigned())

	assert.Equal(t, []models.HistoryEvent{
		models.HistoryCreated, models.HistorySigned, models.HistorySigned,
	}, f.historyEvents(t, ct.ID))
}

func TestSignRejections(t *testing.T) {
	f := newFixture(t)
	ct := f.createContract(t)

	// A stranger cannot sign
	stranger := newTestParty(t, f.db, "stranger")
	_, err := f.contracts.Sign(ct.ID, stranger.User.ID, signHex(t, stranger.Key, ct))
	assert.ErrorIs(t, err, services.ErrForbidden)

	// A signature made with the wrong key is rejected
	_, err = f.contracts.Sign(ct.ID, f.tenant.User.ID, signHex(t, f.owner.Key, ct))
	assert.ErrorIs(t, err, services.ErrForbidden)

	// Signing twice is a conflict
	_, err = f.contracts.Sign(ct.ID, f.tenant.User.ID, signHex(t, f.tenant.Key, ct))
	require.NoError(t, err)
	_, err = f.contracts.Sign(ct.ID, f.tenant.User.ID, signHex(t, f.tenant.Key, ct))
	assert.ErrorIs(t, err, services.ErrConflict)

	_, err = f.contracts.Sign(99999, f.tenant.User.ID, "0x00")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestSignAfterPendingRejected(t *testing.T) {
	f := newFixture(t)
	ct := f.signedContract(t)

	_, err := f.contracts.Sign(ct.ID, f.tenant.User.ID, signHex(t, f.tenant.Key, ct))
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestDeployRequiresBothSignatures(t *testing.T) {
	f := newFixture(t)
	ct := f.createContract(t)

	_, err := f.contracts.Deploy(context.Background(), ct.ID, f.tenant.User.ID)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)

	_, err = f.contracts.Sign(ct.ID, f.tenant.User.ID, signHex(t, f.tenant.Key, ct))
	require.NoError(t, err)
	_, err = f.contracts.Deploy(context.Background(), ct.ID, f.tenant.User.ID)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestDeploySetsAddressExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ct := f.signedContract(t)

	deployed, err := f.contracts.Deploy(context.Background(), ct.ID, f.owner.User.ID)
	require.NoError(t, err)
	assert.True(t, deployed.IsDeployed())
	assert.Equal(t, models.SettleChain, deployed.SettlementMode)
	// Deployment alone never activates; that is an explicit step
	assert.Equal(t, models.ContractSigned, deployed.Status)
	assert.NotEmpty(t, deployed.TransactionHash)
	assert.NotZero(t, deployed.BlockNumber)

	// Second deploy is rejected, the address never changes
	_, err = f.contracts.Deploy(context.Background(), ct.ID, f.tenant.User.ID)
	assert.ErrorIs(t, err, services.ErrConflict)

	stored := f.reload(t, ct.ID)
	assert.Equal(t, *deployed.ContractAddress, *stored.ContractAddress)
}

func TestDeployUnavailableNodeLeavesContractUntouched(t *testing.T) {
	f := newFixture(t)
	ct := f.signedContract(t)

	f.mock.SetUnavailable(true)
	_, err := f.contracts.Deploy(context.Background(), ct.ID, f.tenant.User.ID)

	var chainErr *chain.Error
	require.ErrorAs(t, err, &chainErr)
	assert.True(t, chainErr.Retryable)

	stored := f.reload(t, ct.ID)
	assert.False(t, stored.IsDeployed())
	assert.Equal(t, models.ContractSigned, stored.Status)
	assert.Equal(t, models.SettleLocal, stored.SettlementMode)
}

func TestChainLifecycle(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)
	assert.Equal(t, models.ContractActive, ct.Status)

	// Tenant pays the deposit through the escrow
	payment, err := f.contracts.PayDeposit(context.Background(), ct.ID, f.tenant.User.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentDeposit, payment.Type)
	assert.Equal(t, models.PaymentStateConfirmed, payment.Status)
	assert.NotEmpty(t, payment.TxHash)

	stored := f.reload(t, ct.ID)
	assert.True(t, stored.DepositPaid)
	assert.Equal(t, models.PaymentPartial, stored.PaymentStatus)
	assert.Equal(t, 1.0, stored.PaidAmount)

	// Settlement through the escrow records the rental payment
	completed, err := f.contracts.Complete(context.Background(), ct.ID, f.owner.User.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContractCompleted, completed.Status)

	stored = f.reload(t, ct.ID)
	assert.Equal(t, models.PaymentPaid, stored.PaymentStatus)
	assert.NotNil(t, stored.CompletedAt)

	var payments []models.Payment
	require.NoError(t, f.db.Where("contract_id = ? AND type = ?", ct.ID, models.PaymentRental).
		Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, ct.TotalPrice, payments[0].Amount)

	var item models.Item
	require.NoError(t, f.db.First(&item, "id = ?", f.item.ID).Error)
	assert.Equal(t, 1, item.RentalCount)

	assert.Equal(t, []models.HistoryEvent{
		models.HistoryCreated,
		models.HistorySigned,
		models.HistorySigned,
		models.HistoryDeployed,
		models.HistoryActivated,
		models.HistoryDepositPaid,
		models.HistoryCompleted,
	}, f.historyEvents(t, ct.ID))
}

func TestLocalLifecycle(t *testing.T) {
	f := newFixture(t)
	ct := f.signedContract(t)

	// Never deployed: activation and settlement stay local
	active, err := f.contracts.Activate(context.Background(), ct.ID, f.owner.User.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContractActive, active.Status)
	assert.Equal(t, models.SettleLocal, active.SettlementMode)

	payment, err := f.contracts.PayDeposit(context.Background(), ct.ID, f.tenant.User.ID)
	require.NoError(t, err)
	assert.Empty(t, payment.TxHash)

	completed, err := f.contracts.Complete(context.Background(), ct.ID, f.tenant.User.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContractCompleted, completed.Status)

	// No rental payment row without an escrow settlement
	var count int64
	f.db.Model(&models.Payment{}).
		Where("contract_id = ? AND type = ?", ct.ID, models.PaymentRental).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestPayDepositRejections(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)

	// Only the tenant pays
	_, err := f.contracts.PayDeposit(context.Background(), ct.ID, f.owner.User.ID)
	assert.ErrorIs(t, err, services.ErrForbidden)

	_, err = f.contracts.PayDeposit(context.Background(), ct.ID, f.tenant.User.ID)
	require.NoError(t, err)

	// Paying twice is a conflict
	_, err = f.contracts.PayDeposit(context.Background(), ct.ID, f.tenant.User.ID)
	assert.ErrorIs(t, err, services.ErrConflict)
}

func TestCompleteRequiresActive(t *testing.T) {
	f := newFixture(t)
	ct := f.signedContract(t)

	_, err := f.contracts.Complete(context.Background(), ct.ID, f.tenant.User.ID)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t)
	ct := f.createContract(t)

	_, err := f.contracts.Cancel(context.Background(), ct.ID, f.tenant.User.ID, "")
	assert.ErrorIs(t, err, services.ErrValidation)

	cancelled, err := f.contracts.Cancel(context.Background(), ct.ID, f.tenant.User.ID, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, models.ContractCancelled, cancelled.Status)
	assert.Equal(t, "changed plans", cancelled.CancellationReason)
	assert.NotNil(t, cancelled.CancelledAt)

	// Terminal contracts cannot be cancelled again
	_, err = f.contracts.Cancel(context.Background(), ct.ID, f.tenant.User.ID, "again")
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestCancelDeployedRefundsDeposit(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)
	_, err := f.contracts.PayDeposit(context.Background(), ct.ID, f.tenant.User.ID)
	require.NoError(t, err)

	cancelled, err := f.contracts.Cancel(context.Background(), ct.ID, f.owner.User.ID, "item broke")
	require.NoError(t, err)
	assert.Equal(t, models.ContractCancelled, cancelled.Status)

	stored := f.reload(t, ct.ID)
	assert.Equal(t, models.PaymentRefunded, stored.PaymentStatus)

	var refunds []models.Payment
	require.NoError(t, f.db.Where("contract_id = ? AND type = ?", ct.ID, models.PaymentRefund).
		Find(&refunds).Error)
	require.Len(t, refunds, 1)
	assert.Equal(t, ct.Deposit, refunds[0].Amount)
	assert.Equal(t, f.tenant.User.ID, refunds[0].PayeeID)
}

func TestExtend(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)
	originalEnd := ct.EndDate

	_, err := f.contracts.Extend(ct.ID, f.tenant.User.ID, ct.EndDate.Add(-time.Hour), 0.5)
	assert.ErrorIs(t, err, services.ErrValidation)

	extended, err := f.contracts.Extend(ct.ID, f.tenant.User.ID, originalEnd.Add(48*time.Hour), 1.0)
	require.NoError(t, err)
	assert.Equal(t, 1, extended.ExtensionCount)
	assert.Equal(t, ct.TotalPrice+1.0, extended.TotalPrice)
	require.NotNil(t, extended.OriginalEndDate)

	// Original end date is captured once and survives later extensions
	extended, err = f.contracts.Extend(ct.ID, f.tenant.User.ID, originalEnd.Add(96*time.Hour), 1.0)
	require.NoError(t, err)
	assert.Equal(t, 2, extended.ExtensionCount)
	assert.Equal(t, originalEnd.Unix(), extended.OriginalEndDate.Unix())
}

func TestExtendRequiresActive(t *testing.T) {
	f := newFixture(t)
	ct := f.signedContract(t)

	_, err := f.contracts.Extend(ct.ID, f.tenant.User.ID, ct.EndDate.Add(24*time.Hour), 0.5)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestExpireOverdue(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)

	// Nothing is overdue yet
	n, err := f.contracts.ExpireOverdue(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Push the end date into the past
	require.NoError(t, f.db.Model(&models.Contract{}).Where("id = ?", ct.ID).
		Update("end_date", time.Now().Add(-48*time.Hour)).Error)

	n, err = f.contracts.ExpireOverdue(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.ContractExpired, f.reload(t, ct.ID).Status)

	// Idempotent on the second run
	n, err = f.contracts.ExpireOverdue(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGetAccessControl(t *testing.T) {
	f := newFixture(t)
	ct := f.createContract(t)
	stranger := newTestParty(t, f.db, "stranger")

	_, err := f.contracts.Get(ct.ID, stranger.User.ID, false)
	assert.ErrorIs(t, err, services.ErrForbidden)

	// Parties and admins see it
	_, err = f.contracts.Get(ct.ID, f.owner.User.ID, false)
	assert.NoError(t, err)
	_, err = f.contracts.Get(ct.ID, stranger.User.ID, true)
	assert.NoError(t, err)

	_, err = f.contracts.Get(99999, f.owner.User.ID, false)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestListForUser(t *testing.T) {
	f := newFixture(t)
	ct := f.createContract(t)

	asTenant, err := f.contracts.ListForUser(f.tenant.User.ID, "tenant")
	require.NoError(t, err)
	require.Len(t, asTenant, 1)
	assert.Equal(t, ct.ID, asTenant[0].ID)

	asOwner, err := f.contracts.ListForUser(f.tenant.User.ID, "owner")
	require.NoError(t, err)
	assert.Empty(t, asOwner)

	all, err := f.contracts.ListForUser(f.owner.User.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
