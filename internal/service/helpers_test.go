package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/models"
	"github.com/TheRebzu/ecodeli-sub058/internal/repository/memory"
	"github.com/TheRebzu/ecodeli-sub058/pkg/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentNotification struct {
	UserID string
	Event  string
	Data   map[string]interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, userID, event, _, _ string, data map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Event: event, Data: data})
}

func (n *recordingNotifier) find(userID, event string) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, s := range n.sent {
		if s.UserID == userID && s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

// MockGateway is a mock implementation of payment.Gateway for testing
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) InitiatePayout(ctx context.Context, req payment.PayoutRequest) (*payment.PayoutResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.PayoutResponse), args.Error(1)
}

var testRetry = RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

const (
	clientID    = "client-1"
	delivererID = "deliverer-1"
	platformID  = "platform"
)

type fixture struct {
	store      *memory.Store
	notes      *recordingNotifier
	gateway    *MockGateway
	wallets    *WalletService
	deliveries *DeliveryService
	commission *CommissionService
	settlement *SettlementService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	notes := &recordingNotifier{}
	gw := new(MockGateway)
	log := zap.NewNop()

	wallets := NewWalletService(store, notes, testRetry, "EUR", log)
	deliveries := NewDeliveryService(store, wallets, notes, DeliveryConfig{
		MaxCodeAttempts:       3,
		MaxActivePerDeliverer: 1,
		Currency:              "EUR",
	}, testRetry, log)
	var seq int32
	deliveries.newCode = func() (string, error) {
		return fmt.Sprintf("%06d", 100000+atomic.AddInt32(&seq, 1)), nil
	}
	commission := NewCommissionService(store.Commissions(), decimal.NewFromInt(15))
	settlement := NewSettlementService(store, wallets, deliveries, commission, gw, notes, SettlementConfig{
		BatchSize:       50,
		Concurrency:     4,
		MaxAttempts:     2,
		PlatformOwnerID: platformID,
		StaleAfter:      time.Minute,
	}, testRetry, log)

	f := &fixture{
		store:      store,
		notes:      notes,
		gateway:    gw,
		wallets:    wallets,
		deliveries: deliveries,
		commission: commission,
		settlement: settlement,
	}
	f.addUser(t, clientID, domain.RoleClient, domain.ApprovalApproved)
	f.addUser(t, delivererID, domain.RoleDeliverer, domain.ApprovalApproved)
	return f
}

func (f *fixture) addUser(t *testing.T, id, role, approval string) {
	t.Helper()
	require.NoError(t, f.store.Users().Create(context.Background(), &models.User{
		ID:             id,
		Email:          id + "@example.com",
		Role:           role,
		ApprovalStatus: approval,
	}))
}

func (f *fixture) createDelivery(t *testing.T, client, price string, captured bool) *models.Delivery {
	t.Helper()
	d, err := f.deliveries.Create(context.Background(), CreateDeliveryInput{
		ClientID:        client,
		AnnouncementID:  "ann-" + uuid.NewString()[:8],
		Price:           decimal.RequireFromString(price),
		PaymentCaptured: captured,
	})
	require.NoError(t, err)
	return d
}

// walk accepts the delivery and advances it to IN_TRANSIT, returning the validation code.
func (f *fixture) walk(t *testing.T, d *models.Delivery, deliverer string) string {
	t.Helper()
	ctx := context.Background()
	_, code, err := f.deliveries.Accept(ctx, d.ID, deliverer)
	require.NoError(t, err)
	actor := Actor{ID: deliverer, Role: domain.RoleDeliverer}
	for _, to := range []domain.DeliveryStatus{domain.DeliveryPickedUp, domain.DeliveryInTransit} {
		_, err = f.deliveries.Advance(ctx, d.ID, actor, to, "")
		require.NoError(t, err)
	}
	return code
}

func (f *fixture) deliver(t *testing.T, d *models.Delivery, deliverer string) *models.Delivery {
	t.Helper()
	code := f.walk(t, d, deliverer)
	out, err := f.deliveries.Advance(context.Background(), d.ID, Actor{ID: deliverer, Role: domain.RoleDeliverer}, domain.DeliveryDelivered, code)
	require.NoError(t, err)
	return out
}

func (f *fixture) fund(t *testing.T, userID, amount string) *models.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := f.wallets.EnsureWallet(ctx, userID, "EUR")
	require.NoError(t, err)
	_, err = f.wallets.Credit(ctx, Entry{
		WalletID:  w.ID,
		Amount:    decimal.RequireFromString(amount),
		Type:      domain.TxBonus,
		Reference: "seed-" + uuid.NewString(),
	})
	require.NoError(t, err)
	return w
}

func (f *fixture) balance(t *testing.T, userID string) *Balance {
	t.Helper()
	b, err := f.wallets.GetBalanceForUser(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (f *fixture) assertConsistent(t *testing.T, userID string) {
	t.Helper()
	b := f.balance(t, userID)
	rep, err := f.wallets.Audit(context.Background(), b.WalletID)
	require.NoError(t, err)
	assert.True(t, rep.Consistent, "wallet %s drift %s", b.WalletID, rep.Drift)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func countTx(t *testing.T, f *fixture, userID string, txType domain.TransactionType) int {
	t.Helper()
	rows, err := f.wallets.TransactionsForUser(context.Background(), userID, 0, 0)
	require.NoError(t, err)
	n := 0
	for _, r := range rows {
		if r.Type == txType {
			n++
		}
	}
	return n
}
