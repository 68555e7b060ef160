package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RentChain/internal/models"
	"RentChain/internal/services"
)

func (f *fixture) openDispute(t *testing.T, ct *models.Contract) *models.Dispute {
	d, err := f.disputes.Open(services.OpenDisputeInput{
		ContractID:  ct.ID,
		RaisedBy:    f.tenant.User.ID,
		Reason:      models.ReasonItemDamaged,
		Description: "drill came back with a cracked housing",
		Evidence:    []string{"https://cdn.example.com/photo-1.jpg"},
	})
	require.NoError(t, err)
	return d
}

func TestOpenDispute(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)

	d := f.openDispute(t, ct)
	assert.Equal(t, models.DisputeOpen, d.Status)
	assert.True(t, d.IsActive())

	stored := f.reload(t, ct.ID)
	assert.Equal(t, models.ContractDisputed, stored.Status)

	events := f.historyEvents(t, ct.ID)
	assert.Equal(t, models.HistoryDisputed, events[len(events)-1])

	// Owner is notified about the dispute
	var count int64
	f.db.Model(&models.Notification{}).
		Where("user_id = ? AND type = ?", f.owner.User.ID, models.NotificationDisputeOpened).
		Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestOpenDisputeRejections(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)

	_, err := f.disputes.Open(services.OpenDisputeInput{
		ContractID: ct.ID,
		RaisedBy:   f.tenant.User.ID,
		Reason:     models.ReasonOther,
	})
	assert.ErrorIs(t, err, services.ErrValidation)

	stranger := newTestParty(t, f.db, "stranger")
	_, err = f.disputes.Open(services.OpenDisputeInput{
		ContractID:  ct.ID,
		RaisedBy:    stranger.User.ID,
		Reason:      models.ReasonOther,
		Description: "not my contract",
	})
	assert.ErrorIs(t, err, services.ErrForbidden)

	// A second dispute while the first is pending is a conflict
	f.openDispute(t, ct)
	_, err = f.disputes.Open(services.OpenDisputeInput{
		ContractID:  ct.ID,
		RaisedBy:    f.owner.User.ID,
		Reason:      models.ReasonPaymentIssue,
		Description: "counter dispute",
	})
	assert.ErrorIs(t, err, services.ErrConflict)
}

func TestOpenDisputeRequiresActiveContract(t *testing.T) {
	f := newFixture(t)
	ct := f.signedContract(t)

	_, err := f.disputes.Open(services.OpenDisputeInput{
		ContractID:  ct.ID,
		RaisedBy:    f.tenant.User.ID,
		Reason:      models.ReasonOther,
		Description: "too early",
	})
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestInvestigate(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)
	d := f.openDispute(t, ct)
	admin := newTestParty(t, f.db, "admin")

	investigating, err := f.disputes.Investigate(d.ID, admin.User.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DisputeInvestigating, investigating.Status)
	require.NotNil(t, investigating.AssignedTo)
	assert.Equal(t, admin.User.ID, *investigating.AssignedTo)

	_, err = f.disputes.Investigate(d.ID, admin.User.ID)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestResolveWithCompensation(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)
	d := f.openDispute(t, ct)
	admin := newTestParty(t, f.db, "admin")

	resolved, err := f.disputes.Resolve(services.ResolveDisputeInput{
		DisputeID:          d.ID,
		ResolvedBy:         admin.User.ID,
		Resolution:         "owner compensated for the damage",
		CompensationAmount: 0.3,
		CompensationTo:     &f.owner.User.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeResolved, resolved.Status)
	assert.False(t, resolved.IsActive())
	assert.NotNil(t, resolved.ResolvedAt)

	// Compensation to the owner is bookkept as a penalty from the tenant
	var payments []models.Payment
	require.NoError(t, f.db.Where("contract_id = ? AND type = ?", ct.ID, models.PaymentPenalty).
		Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, 0.3, payments[0].Amount)
	assert.Equal(t, f.tenant.User.ID, payments[0].PayerID)
	assert.Equal(t, models.PaymentStatePending, payments[0].Status)

	// Resolution never re-activates the contract
	assert.Equal(t, models.ContractDisputed, f.reload(t, ct.ID).Status)
}

func TestResolveCompensationToTenantIsRefund(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)
	d := f.openDispute(t, ct)
	admin := newTestParty(t, f.db, "admin")

	_, err := f.disputes.Resolve(services.ResolveDisputeInput{
		DisputeID:          d.ID,
		ResolvedBy:         admin.User.ID,
		Resolution:         "tenant was right",
		CompensationAmount: 0.2,
		CompensationTo:     &f.tenant.User.ID,
	})
	require.NoError(t, err)

	var payments []models.Payment
	require.NoError(t, f.db.Where("contract_id = ? AND type = ?", ct.ID, models.PaymentRefund).
		Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, f.owner.User.ID, payments[0].PayerID)
	assert.Equal(t, f.tenant.User.ID, payments[0].PayeeID)
}

func TestResolveValidation(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)
	d := f.openDispute(t, ct)
	admin := newTestParty(t, f.db, "admin")

	_, err := f.disputes.Resolve(services.ResolveDisputeInput{
		DisputeID:  d.ID,
		ResolvedBy: admin.User.ID,
	})
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = f.disputes.Resolve(services.ResolveDisputeInput{
		DisputeID:          d.ID,
		ResolvedBy:         admin.User.ID,
		Resolution:         "paid out",
		CompensationAmount: 0.5,
	})
	assert.ErrorIs(t, err, services.ErrValidation)

	// Recipient must be a contract party
	_, err = f.disputes.Resolve(services.ResolveDisputeInput{
		DisputeID:          d.ID,
		ResolvedBy:         admin.User.ID,
		Resolution:         "paid out",
		CompensationAmount: 0.5,
		CompensationTo:     &admin.User.ID,
	})
	assert.ErrorIs(t, err, services.ErrValidation)

	// Resolving twice is an invalid transition
	_, err = f.disputes.Resolve(services.ResolveDisputeInput{
		DisputeID:  d.ID,
		ResolvedBy: admin.User.ID,
		Resolution: "settled amicably",
	})
	require.NoError(t, err)
	_, err = f.disputes.Resolve(services.ResolveDisputeInput{
		DisputeID:  d.ID,
		ResolvedBy: admin.User.ID,
		Resolution: "settled again",
	})
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestCloseDispute(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)
	d := f.openDispute(t, ct)
	admin := newTestParty(t, f.db, "admin")

	closed, err := f.disputes.Close(d.ID, admin.User.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DisputeClosed, closed.Status)

	_, err = f.disputes.Close(d.ID, admin.User.ID)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestReopenAfterResolution(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)
	d := f.openDispute(t, ct)
	admin := newTestParty(t, f.db, "admin")

	// Blocked while the dispute is pending
	_, err := f.contracts.Reopen(ct.ID, f.tenant.User.ID)
	assert.ErrorIs(t, err, services.ErrConflict)

	_, err = f.disputes.Resolve(services.ResolveDisputeInput{
		DisputeID:  d.ID,
		ResolvedBy: admin.User.ID,
		Resolution: "both parties agreed to continue",
	})
	require.NoError(t, err)

	// Resolution alone leaves the contract DISPUTED; reopen is explicit
	assert.Equal(t, models.ContractDisputed, f.reload(t, ct.ID).Status)

	reopened, err := f.contracts.Reopen(ct.ID, f.owner.User.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContractActive, reopened.Status)

	events := f.historyEvents(t, ct.ID)
	assert.Equal(t, models.HistoryReopened, events[len(events)-1])
}

func TestReopenRequiresDisputedStatus(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)

	_, err := f.contracts.Reopen(ct.ID, f.tenant.User.ID)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestDisputeAccess(t *testing.T) {
	f := newFixture(t)
	ct := f.activeContract(t)
	d := f.openDispute(t, ct)

	stranger := newTestParty(t, f.db, "stranger")
	_, err := f.disputes.Get(d.ID, stranger.User.ID, false)
	assert.ErrorIs(t, err, services.ErrForbidden)

	got, err := f.disputes.Get(d.ID, f.owner.User.ID, false)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	mine, err := f.disputes.ListForUser(f.tenant.User.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	none, err := f.disputes.ListForUser(stranger.User.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := f.disputes.ListAll("")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	open, err := f.disputes.ListAll(models.DisputeOpen)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	resolved, err := f.disputes.ListAll(models.DisputeResolved)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}
