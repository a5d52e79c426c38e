package service

import (
	"context"
	"errors"
	"testing"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.deliveries.Create(ctx, CreateDeliveryInput{ClientID: clientID, AnnouncementID: "a1", Price: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.deliveries.Create(ctx, CreateDeliveryInput{ClientID: clientID, Price: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	d, err := f.deliveries.Create(ctx, CreateDeliveryInput{ClientID: clientID, AnnouncementID: "a1", Price: decimal.RequireFromString("12.345")})
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryPending, d.Status)
	assert.Equal(t, "EUR", d.Currency)
	assertAmount(t, "12.35", d.Price)
	assert.Nil(t, d.ValidationCode)
}

func TestAccept_AssignsDelivererAndIssuesCode(t *testing.T) {
	f := newFixture(t)
	d := f.createDelivery(t, clientID, "40", false)

	got, code, err := f.deliveries.Accept(context.Background(), d.ID, delivererID)
	require.NoError(t, err)

	assert.Equal(t, domain.DeliveryAccepted, got.Status)
	require.NotNil(t, got.DelivererID)
	assert.Equal(t, delivererID, *got.DelivererID)
	assert.Len(t, code, 6)
	require.NotNil(t, got.ValidationCode)
	assert.Equal(t, code, *got.ValidationCode)
	assert.NotNil(t, got.AcceptedAt)

	sent := f.notes.find(clientID, domain.EventDeliveryAccepted)
	require.Len(t, sent, 1)
	assert.Equal(t, code, sent[0].Data["validation_code"])
}

func TestAccept_Eligibility(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "pending-deliverer", domain.RoleDeliverer, domain.ApprovalPending)
	f.addUser(t, "suspended-deliverer", domain.RoleDeliverer, domain.ApprovalSuspended)
	f.addUser(t, "merchant", domain.RoleMerchant, domain.ApprovalApproved)

	tests := []struct {
		name string
		user string
	}{
		{"unknown user", "ghost"},
		{"not approved", "pending-deliverer"},
		{"suspended", "suspended-deliverer"},
		{"wrong role", "merchant"},
		{"client role", clientID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.createDelivery(t, clientID, "10", false)
			_, _, err := f.deliveries.Accept(context.Background(), d.ID, tt.user)
			assert.ErrorIs(t, err, domain.ErrNotEligible)

			cur, err := f.deliveries.Get(context.Background(), d.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.DeliveryPending, cur.Status)
		})
	}
}

func TestAccept_OwnDeliveryRejected(t *testing.T) {
	f := newFixture(t)
	d := f.createDelivery(t, delivererID, "10", false)

	_, _, err := f.deliveries.Accept(context.Background(), d.ID, delivererID)
	assert.ErrorIs(t, err, domain.ErrNotEligible)
}

func TestAccept_ActiveLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createDelivery(t, clientID, "10", false)
	second := f.createDelivery(t, clientID, "10", false)

	_, _, err := f.deliveries.Accept(ctx, first.ID, delivererID)
	require.NoError(t, err)

	_, _, err = f.deliveries.Accept(ctx, second.ID, delivererID)
	assert.ErrorIs(t, err, domain.ErrNotEligible)

	// Finishing the first delivery frees the slot.
	_, err = f.deliveries.Cancel(ctx, first.ID, Actor{ID: clientID, Role: domain.RoleClient}, "changed plans")
	require.NoError(t, err)
	_, _, err = f.deliveries.Accept(ctx, second.ID, delivererID)
	assert.NoError(t, err)
}

func TestAccept_AlreadyTaken(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "deliverer-2", domain.RoleDeliverer, domain.ApprovalApproved)
	d := f.createDelivery(t, clientID, "10", false)

	_, _, err := f.deliveries.Accept(context.Background(), d.ID, delivererID)
	require.NoError(t, err)

	_, _, err = f.deliveries.Accept(context.Background(), d.ID, "deliverer-2")
	var terr *domain.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.DeliveryAccepted, terr.From)
}

func TestAdvance_EnforcesGraph(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := Actor{ID: delivererID, Role: domain.RoleDeliverer}
	d := f.createDelivery(t, clientID, "10", false)

	_, err := f.deliveries.Advance(ctx, d.ID, actor, domain.DeliveryPickedUp, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, code, err := f.deliveries.Accept(ctx, d.ID, delivererID)
	require.NoError(t, err)

	_, err = f.deliveries.Advance(ctx, d.ID, actor, domain.DeliveryInTransit, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.deliveries.Advance(ctx, d.ID, actor, domain.DeliveryDelivered, code)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.deliveries.Advance(ctx, d.ID, actor, domain.DeliveryStatus("LOST"), "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	cur, err := f.deliveries.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryAccepted, cur.Status)
	assert.Equal(t, 0, cur.FailedCodeAttempts)
}

func TestAdvance_OnlyAssignedDeliverer(t *testing.T) {
	f := newFixture(t)
	d := f.createDelivery(t, clientID, "10", false)
	_, _, err := f.deliveries.Accept(context.Background(), d.ID, delivererID)
	require.NoError(t, err)

	_, err = f.deliveries.Advance(context.Background(), d.ID, Actor{ID: clientID, Role: domain.RoleClient}, domain.DeliveryPickedUp, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAdvance_DeliveredWithCode(t *testing.T) {
	f := newFixture(t)
	var hooked []string
	f.deliveries.OnDelivered(func(id string) { hooked = append(hooked, id) })
	d := f.createDelivery(t, clientID, "100", true)

	got := f.deliver(t, d, delivererID)

	assert.Equal(t, domain.DeliveryDelivered, got.Status)
	assert.Nil(t, got.ValidationCode)
	assert.NotNil(t, got.DeliveredAt)
	assert.Nil(t, got.PaidAt)
	assert.Equal(t, []string{d.ID}, hooked)

	req, err := f.store.Settlements().GetByDeliveryID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementPending, req.Status)
	assert.Equal(t, delivererID, req.DelivererID)
	assertAmount(t, "100", req.Price)

	history, err := f.deliveries.History(context.Background(), d.ID)
	require.NoError(t, err)
	var path []domain.DeliveryStatus
	for _, e := range history {
		path = append(path, e.ToStatus)
	}
	assert.Equal(t, []domain.DeliveryStatus{
		domain.DeliveryPending, domain.DeliveryAccepted, domain.DeliveryPickedUp,
		domain.DeliveryInTransit, domain.DeliveryDelivered,
	}, path)
}

func TestAdvance_CodeCannotBeReused(t *testing.T) {
	f := newFixture(t)
	d := f.createDelivery(t, clientID, "20", false)
	code := f.walk(t, d, delivererID)
	actor := Actor{ID: delivererID, Role: domain.RoleDeliverer}

	_, err := f.deliveries.Advance(context.Background(), d.ID, actor, domain.DeliveryDelivered, code)
	require.NoError(t, err)

	_, err = f.deliveries.Advance(context.Background(), d.ID, actor, domain.DeliveryDelivered, code)
	assert.ErrorIs(t, err, domain.ErrAlreadyValidated)
}

func TestAdvance_LocksAfterThreeWrongCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDelivery(t, clientID, "20", false)
	code := f.walk(t, d, delivererID)
	actor := Actor{ID: delivererID, Role: domain.RoleDeliverer}

	for remaining := 2; remaining >= 0; remaining-- {
		_, err := f.deliveries.Advance(ctx, d.ID, actor, domain.DeliveryDelivered, "000000")
		var cerr *domain.CodeError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, remaining, cerr.Remaining)
	}

	_, err := f.deliveries.Advance(ctx, d.ID, actor, domain.DeliveryDelivered, code)
	assert.ErrorIs(t, err, domain.ErrCodeLocked)

	cur, err := f.deliveries.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryInTransit, cur.Status)
	assert.Equal(t, 3, cur.FailedCodeAttempts)

	_, err = f.store.Settlements().GetByDeliveryID(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegenerateCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDelivery(t, clientID, "20", false)
	oldCode := f.walk(t, d, delivererID)
	deliverer := Actor{ID: delivererID, Role: domain.RoleDeliverer}
	client := Actor{ID: clientID, Role: domain.RoleClient}

	_, err := f.deliveries.Advance(ctx, d.ID, deliverer, domain.DeliveryDelivered, "000000")
	require.Error(t, err)

	_, err = f.deliveries.RegenerateCode(ctx, d.ID, deliverer)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	newCode, err := f.deliveries.RegenerateCode(ctx, d.ID, client)
	require.NoError(t, err)
	assert.NotEqual(t, oldCode, newCode)

	cur, err := f.deliveries.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cur.FailedCodeAttempts)

	_, err = f.deliveries.Advance(ctx, d.ID, deliverer, domain.DeliveryDelivered, oldCode)
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	_, err = f.deliveries.Advance(ctx, d.ID, deliverer, domain.DeliveryDelivered, newCode)
	assert.NoError(t, err)

	_, err = f.deliveries.RegenerateCode(ctx, d.ID, client)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRegenerateCode_ByAdminNotifiesClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDelivery(t, clientID, "20", false)
	f.walk(t, d, delivererID)
	admin := Actor{ID: "admin-1", Role: domain.RoleAdmin}

	_, err := f.deliveries.RegenerateCode(ctx, d.ID, admin)
	require.NoError(t, err)

	assert.Len(t, f.notes.find(clientID, domain.EventCodeRegenerated), 1)
	assert.Empty(t, f.notes.find(admin.ID, domain.EventCodeRegenerated))
}

func TestAdvance_DeliveredOnClosedDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deliverer := Actor{ID: delivererID, Role: domain.RoleDeliverer}
	client := Actor{ID: clientID, Role: domain.RoleClient}

	cancelled := f.createDelivery(t, clientID, "10", false)
	_, code, err := f.deliveries.Accept(ctx, cancelled.ID, delivererID)
	require.NoError(t, err)
	_, err = f.deliveries.Cancel(ctx, cancelled.ID, client, "")
	require.NoError(t, err)
	_, err = f.deliveries.Advance(ctx, cancelled.ID, deliverer, domain.DeliveryDelivered, code)
	assert.ErrorIs(t, err, domain.ErrAlreadyValidated)

	disputed := f.createDelivery(t, clientID, "10", false)
	f.deliver(t, disputed, delivererID)
	_, err = f.deliveries.Dispute(ctx, disputed.ID, client, "damaged")
	require.NoError(t, err)
	_, err = f.deliveries.Advance(ctx, disputed.ID, deliverer, domain.DeliveryDelivered, "000000")
	assert.ErrorIs(t, err, domain.ErrAlreadyValidated)

	// Other moves out of a closed delivery are still graph violations.
	_, err = f.deliveries.Advance(ctx, cancelled.ID, deliverer, domain.DeliveryPickedUp, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancel_RefundsCapturedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDelivery(t, clientID, "35.50", true)
	_, _, err := f.deliveries.Accept(ctx, d.ID, delivererID)
	require.NoError(t, err)

	_, err = f.deliveries.Cancel(ctx, d.ID, Actor{ID: delivererID, Role: domain.RoleDeliverer}, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.deliveries.Cancel(ctx, d.ID, Actor{ID: clientID, Role: domain.RoleClient}, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCancelled, got.Status)
	assert.Nil(t, got.ValidationCode)
	assert.Equal(t, "no longer needed", got.CancelReason)

	assertAmount(t, "35.50", f.balance(t, clientID).Available)
	assert.Equal(t, 1, countTx(t, f, clientID, domain.TxRefund))
	assert.Len(t, f.notes.find(clientID, domain.EventRefundCredited), 1)
	f.assertConsistent(t, clientID)

	_, err = f.deliveries.Cancel(ctx, d.ID, Actor{ID: clientID, Role: domain.RoleClient}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, countTx(t, f, clientID, domain.TxRefund))
}

func TestCancel_AdminAndDeliveredGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := Actor{ID: "admin-1", Role: domain.RoleAdmin}

	pending := f.createDelivery(t, clientID, "10", false)
	got, err := f.deliveries.Cancel(ctx, pending.ID, admin, "fraud")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCancelled, got.Status)

	done := f.createDelivery(t, clientID, "10", false)
	f.deliver(t, done, delivererID)
	_, err = f.deliveries.Cancel(ctx, done.ID, admin, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestDispute_HoldsThenReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDelivery(t, clientID, "100", true)
	f.deliver(t, d, delivererID)

	_, err := f.deliveries.Dispute(ctx, d.ID, Actor{ID: "stranger", Role: domain.RoleClient}, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.deliveries.Dispute(ctx, d.ID, Actor{ID: clientID, Role: domain.RoleClient}, "parcel damaged")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDisputed, got.Status)

	req, err := f.store.Settlements().GetByDeliveryID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementHeld, req.Status)

	_, err = f.settlement.RunCycle(ctx)
	require.NoError(t, err)
	assertAmount(t, "0", f.balance(t, delivererID).Available)

	_, err = f.deliveries.ResolveDispute(ctx, Actor{ID: "admin-1", Role: domain.RoleAdmin}, d.ID, domain.DisputeRelease)
	require.NoError(t, err)

	_, err = f.settlement.RunCycle(ctx)
	require.NoError(t, err)
	assertAmount(t, "85", f.balance(t, delivererID).Available)

	cur, err := f.deliveries.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDisputed, cur.Status)
	assert.NotNil(t, cur.PaidAt)
	f.assertConsistent(t, delivererID)
}

func TestDispute_RefundResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := Actor{ID: "admin-1", Role: domain.RoleAdmin}
	d := f.createDelivery(t, clientID, "60", true)
	f.deliver(t, d, delivererID)

	_, err := f.deliveries.Dispute(ctx, d.ID, Actor{ID: delivererID, Role: domain.RoleDeliverer}, "client unreachable")
	require.NoError(t, err)

	_, err = f.deliveries.ResolveDispute(ctx, admin, d.ID, "SPLIT")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	for i := 0; i < 2; i++ {
		got, err := f.deliveries.ResolveDispute(ctx, admin, d.ID, domain.DisputeRefund)
		require.NoError(t, err)
		assert.Equal(t, domain.DisputeRefund, got.DisputeResolution)
	}
	assertAmount(t, "60", f.balance(t, clientID).Available)
	assert.Equal(t, 1, countTx(t, f, clientID, domain.TxRefund))

	req, err := f.store.Settlements().GetByDeliveryID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementFailed, req.Status)

	_, err = f.deliveries.ResolveDispute(ctx, admin, d.ID, domain.DisputeRelease)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.settlement.RunCycle(ctx)
	require.NoError(t, err)
	assertAmount(t, "0", f.balance(t, delivererID).Available)

	var found bool
	for _, e := range f.store.AuditEntries() {
		if e.Action == "dispute.resolve" && e.ResourceID == d.ID {
			found = true
		}
	}
	assert.True(t, found, "dispute resolution audited")
}

func TestDispute_RejectedOncePaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDelivery(t, clientID, "100", false)
	f.deliver(t, d, delivererID)

	_, err := f.settlement.SettleDelivery(ctx, d.ID)
	require.NoError(t, err)

	_, err = f.deliveries.Dispute(ctx, d.ID, Actor{ID: clientID, Role: domain.RoleClient}, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestMarkPaid_KeepsFirstStamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDelivery(t, clientID, "10", false)

	_, err := f.deliveries.MarkPaid(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrSettlementFrozen)

	f.deliver(t, d, delivererID)
	first, err := f.deliveries.MarkPaid(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, first.PaidAt)

	second, err := f.deliveries.MarkPaid(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, first.PaidAt.Equal(*second.PaidAt))
}
