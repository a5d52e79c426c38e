// Package memory is an in-process repository.Store. It backs tests and the
// "memory" database driver for local runs. Atomic blocks are fully serialized
// and rolled back by restoring a snapshot when fn fails.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/models"
	"github.com/TheRebzu/ecodeli-sub058/internal/repository"

	"github.com/shopspring/decimal"
)

type data struct {
	deliveries  map[string]models.Delivery
	events      []models.DeliveryEvent
	wallets     map[string]models.Wallet
	txs         map[string]models.WalletTransaction
	txOrder     []string
	withdrawals map[string]models.Withdrawal
	wdOrder     []string
	settlements map[string]models.SettlementRequest
	stOrder     []string
	users       map[string]models.User
	rates       map[string]models.CommissionRate
	settings    map[string]string
	notes       []models.Notification
	audit       []models.AuditLog
	seq         uint
}

func newData() *data {
	return &data{
		deliveries:  map[string]models.Delivery{},
		wallets:     map[string]models.Wallet{},
		txs:         map[string]models.WalletTransaction{},
		withdrawals: map[string]models.Withdrawal{},
		settlements: map[string]models.SettlementRequest{},
		users:       map[string]models.User{},
		rates:       map[string]models.CommissionRate{},
		settings:    map[string]string{},
	}
}

func (d *data) clone() *data {
	c := &data{
		deliveries:  make(map[string]models.Delivery, len(d.deliveries)),
		events:      append([]models.DeliveryEvent(nil), d.events...),
		wallets:     make(map[string]models.Wallet, len(d.wallets)),
		txs:         make(map[string]models.WalletTransaction, len(d.txs)),
		txOrder:     append([]string(nil), d.txOrder...),
		withdrawals: make(map[string]models.Withdrawal, len(d.withdrawals)),
		wdOrder:     append([]string(nil), d.wdOrder...),
		settlements: make(map[string]models.SettlementRequest, len(d.settlements)),
		stOrder:     append([]string(nil), d.stOrder...),
		users:       make(map[string]models.User, len(d.users)),
		rates:       make(map[string]models.CommissionRate, len(d.rates)),
		settings:    make(map[string]string, len(d.settings)),
		notes:       append([]models.Notification(nil), d.notes...),
		audit:       append([]models.AuditLog(nil), d.audit...),
		seq:         d.seq,
	}
	for k, v := range d.deliveries {
		c.deliveries[k] = v
	}
	for k, v := range d.wallets {
		c.wallets[k] = v
	}
	for k, v := range d.txs {
		c.txs[k] = v
	}
	for k, v := range d.withdrawals {
		c.withdrawals[k] = v
	}
	for k, v := range d.settlements {
		c.settlements[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.rates {
		c.rates[k] = v
	}
	for k, v := range d.settings {
		c.settings[k] = v
	}
	return c
}

// Store implements repository.Store in memory.
type Store struct {
	mu   *sync.Mutex
	d    *data
	inTx bool
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{mu: &sync.Mutex{}, d: newData()}
}

// lock is a no-op inside Atomic, which already holds the mutex.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Atomic(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.d.clone()
	if err := fn(&Store{mu: s.mu, d: s.d, inTx: true}); err != nil {
		*s.d = *snapshot
		return err
	}
	return nil
}

func (s *Store) Deliveries() repository.DeliveryStore       { return deliveries{s} }
func (s *Store) Wallets() repository.WalletStore             { return wallets{s} }
func (s *Store) Transactions() repository.TransactionStore   { return transactions{s} }
func (s *Store) Withdrawals() repository.WithdrawalStore     { return withdrawals{s} }
func (s *Store) Settlements() repository.SettlementStore     { return settlements{s} }
func (s *Store) Users() repository.UserStore                 { return users{s} }
func (s *Store) Commissions() repository.CommissionStore     { return commissions{s} }
func (s *Store) Notifications() repository.NotificationStore { return notifications{s} }
func (s *Store) Audit() repository.AuditStore                { return audit{s} }

func duplicate(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrDuplicateOperation, fmt.Sprintf(format, args...))
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
}

func page[T any](list []T, limit, offset int) []T {
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}

// deliveries

type deliveries struct{ s *Store }

func (r deliveries) Create(_ context.Context, d *models.Delivery) error {
	defer r.s.lock()()
	if _, ok := r.s.d.deliveries[d.ID]; ok {
		return duplicate("delivery %s", d.ID)
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	r.s.d.deliveries[d.ID] = *d
	return nil
}

func (r deliveries) GetByID(_ context.Context, id string) (*models.Delivery, error) {
	defer r.s.lock()()
	d, ok := r.s.d.deliveries[id]
	if !ok {
		return nil, notFound("delivery", id)
	}
	return &d, nil
}

func (r deliveries) GetForUpdate(ctx context.Context, id string) (*models.Delivery, error) {
	return r.GetByID(ctx, id)
}

func (r deliveries) Update(_ context.Context, d *models.Delivery) error {
	defer r.s.lock()()
	cur, ok := r.s.d.deliveries[d.ID]
	if !ok {
		return notFound("delivery", d.ID)
	}
	if cur.Version != d.Version {
		return fmt.Errorf("update delivery %s: %w", d.ID, domain.ErrConcurrencyConflict)
	}
	d.Version++
	d.CreatedAt = cur.CreatedAt
	d.UpdatedAt = time.Now()
	r.s.d.deliveries[d.ID] = *d
	return nil
}

func (r deliveries) CountActiveByDeliverer(_ context.Context, delivererID string) (int64, error) {
	defer r.s.lock()()
	var n int64
	for _, d := range r.s.d.deliveries {
		if d.IsDeliverer(delivererID) && d.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

func (r deliveries) AddEvent(_ context.Context, e *models.DeliveryEvent) error {
	defer r.s.lock()()
	r.s.d.seq++
	e.ID = r.s.d.seq
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	r.s.d.events = append(r.s.d.events, *e)
	return nil
}

func (r deliveries) ListEvents(_ context.Context, deliveryID string) ([]models.DeliveryEvent, error) {
	defer r.s.lock()()
	var out []models.DeliveryEvent
	for _, e := range r.s.d.events {
		if e.DeliveryID == deliveryID {
			out = append(out, e)
		}
	}
	return out, nil
}

// wallets

type wallets struct{ s *Store }

func (r wallets) Create(_ context.Context, w *models.Wallet) error {
	defer r.s.lock()()
	for _, cur := range r.s.d.wallets {
		if cur.ID == w.ID || (cur.OwnerID == w.OwnerID && cur.Currency == w.Currency) {
			return duplicate("wallet %s/%s", w.OwnerID, w.Currency)
		}
	}
	now := time.Now()
	w.CreatedAt, w.UpdatedAt = now, now
	r.s.d.wallets[w.ID] = *w
	return nil
}

func (r wallets) GetByID(_ context.Context, id string) (*models.Wallet, error) {
	defer r.s.lock()()
	w, ok := r.s.d.wallets[id]
	if !ok {
		return nil, notFound("wallet", id)
	}
	return &w, nil
}

func (r wallets) GetByOwner(_ context.Context, ownerID, currency string) (*models.Wallet, error) {
	defer r.s.lock()()
	for _, w := range r.s.d.wallets {
		if w.OwnerID == ownerID && w.Currency == currency {
			return &w, nil
		}
	}
	return nil, notFound("wallet of", ownerID+"/"+currency)
}

func (r wallets) ListByOwner(_ context.Context, ownerID string) ([]models.Wallet, error) {
	defer r.s.lock()()
	var out []models.Wallet
	for _, w := range r.s.d.wallets {
		if w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (r wallets) GetForUpdate(ctx context.Context, id string) (*models.Wallet, error) {
	return r.GetByID(ctx, id)
}

func (r wallets) UpdateBalance(_ context.Context, w *models.Wallet) error {
	defer r.s.lock()()
	cur, ok := r.s.d.wallets[w.ID]
	if !ok {
		return notFound("wallet", w.ID)
	}
	if cur.Version != w.Version {
		return fmt.Errorf("update wallet %s: %w", w.ID, domain.ErrConcurrencyConflict)
	}
	cur.Balance = w.Balance
	cur.Version++
	cur.UpdatedAt = time.Now()
	r.s.d.wallets[w.ID] = cur
	w.Version = cur.Version
	return nil
}

// transactions

type transactions struct{ s *Store }

func (r transactions) Create(_ context.Context, tx *models.WalletTransaction) error {
	defer r.s.lock()()
	for _, cur := range r.s.d.txs {
		if cur.ID == tx.ID || (cur.WalletID == tx.WalletID && cur.Type == tx.Type && cur.Reference == tx.Reference) {
			return duplicate("ledger %s/%s/%s", tx.WalletID, tx.Type, tx.Reference)
		}
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	r.s.d.txs[tx.ID] = *tx
	r.s.d.txOrder = append(r.s.d.txOrder, tx.ID)
	return nil
}

func (r transactions) GetByID(_ context.Context, id string) (*models.WalletTransaction, error) {
	defer r.s.lock()()
	t, ok := r.s.d.txs[id]
	if !ok {
		return nil, notFound("transaction", id)
	}
	return &t, nil
}

func (r transactions) GetByReference(_ context.Context, walletID string, txType domain.TransactionType, reference string) (*models.WalletTransaction, error) {
	defer r.s.lock()()
	for _, t := range r.s.d.txs {
		if t.WalletID == walletID && t.Type == txType && t.Reference == reference {
			return &t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r transactions) Settle(_ context.Context, id string, status domain.TransactionStatus, balanceAfter *decimal.Decimal, at time.Time) error {
	defer r.s.lock()()
	t, ok := r.s.d.txs[id]
	if !ok {
		return notFound("transaction", id)
	}
	if t.Status != domain.TxPending {
		return fmt.Errorf("settle transaction %s: %w", id, domain.ErrInvalidTransition)
	}
	t.Status = status
	if status == domain.TxCompleted {
		t.CompletedAt = &at
		t.BalanceAfter = balanceAfter
	}
	r.s.d.txs[id] = t
	return nil
}

func (r transactions) SumCompleted(_ context.Context, walletID string) (decimal.Decimal, error) {
	defer r.s.lock()()
	sum := decimal.Zero
	for _, t := range r.s.d.txs {
		if t.WalletID == walletID && t.Status == domain.TxCompleted {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

func (r transactions) ListByWallet(_ context.Context, walletID string, limit, offset int) ([]models.WalletTransaction, error) {
	defer r.s.lock()()
	var out []models.WalletTransaction
	for i := len(r.s.d.txOrder) - 1; i >= 0; i-- {
		if t := r.s.d.txs[r.s.d.txOrder[i]]; t.WalletID == walletID {
			out = append(out, t)
		}
	}
	return page(out, limit, offset), nil
}

// withdrawals

type withdrawals struct{ s *Store }

func (r withdrawals) Create(_ context.Context, w *models.Withdrawal) error {
	defer r.s.lock()()
	if _, ok := r.s.d.withdrawals[w.ID]; ok {
		return duplicate("withdrawal %s", w.ID)
	}
	w.UpdatedAt = time.Now()
	r.s.d.withdrawals[w.ID] = *w
	r.s.d.wdOrder = append(r.s.d.wdOrder, w.ID)
	return nil
}

func (r withdrawals) GetByID(_ context.Context, id string) (*models.Withdrawal, error) {
	defer r.s.lock()()
	w, ok := r.s.d.withdrawals[id]
	if !ok {
		return nil, notFound("withdrawal", id)
	}
	return &w, nil
}

func (r withdrawals) GetForUpdate(ctx context.Context, id string) (*models.Withdrawal, error) {
	return r.GetByID(ctx, id)
}

func (r withdrawals) GetByPayoutID(_ context.Context, payoutID string) (*models.Withdrawal, error) {
	defer r.s.lock()()
	for _, w := range r.s.d.withdrawals {
		if w.PayoutID != "" && w.PayoutID == payoutID {
			return &w, nil
		}
	}
	return nil, notFound("withdrawal for payout", payoutID)
}

func (r withdrawals) Update(_ context.Context, w *models.Withdrawal) error {
	defer r.s.lock()()
	if _, ok := r.s.d.withdrawals[w.ID]; !ok {
		return notFound("withdrawal", w.ID)
	}
	w.UpdatedAt = time.Now()
	r.s.d.withdrawals[w.ID] = *w
	return nil
}

func (r withdrawals) Claim(_ context.Context, id string, at time.Time) (bool, error) {
	defer r.s.lock()()
	w, ok := r.s.d.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalPending {
		return false, nil
	}
	w.Status = domain.WithdrawalProcessing
	w.ClaimedAt = &at
	w.Attempts++
	r.s.d.withdrawals[id] = w
	return true, nil
}

func (r withdrawals) list(match func(models.Withdrawal) bool) []models.Withdrawal {
	var out []models.Withdrawal
	for _, id := range r.s.d.wdOrder {
		if w := r.s.d.withdrawals[id]; match(w) {
			out = append(out, w)
		}
	}
	return out
}

func (r withdrawals) ListByStatus(_ context.Context, status domain.WithdrawalStatus, limit int) ([]models.Withdrawal, error) {
	defer r.s.lock()()
	return page(r.list(func(w models.Withdrawal) bool { return w.Status == status }), limit, 0), nil
}

func (r withdrawals) ListStale(_ context.Context, claimedBefore time.Time, limit int) ([]models.Withdrawal, error) {
	defer r.s.lock()()
	out := r.list(func(w models.Withdrawal) bool {
		return w.Status == domain.WithdrawalProcessing && w.ClaimedAt != nil && w.ClaimedAt.Before(claimedBefore)
	})
	return page(out, limit, 0), nil
}

func (r withdrawals) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.Withdrawal, error) {
	defer r.s.lock()()
	out := r.list(func(w models.Withdrawal) bool { return w.UserID == userID })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return page(out, limit, offset), nil
}

func (r withdrawals) SumOpen(_ context.Context, walletID string) (decimal.Decimal, error) {
	defer r.s.lock()()
	sum := decimal.Zero
	for _, w := range r.s.d.withdrawals {
		if w.WalletID == walletID && w.Status.IsOpen() {
			sum = sum.Add(w.Amount)
		}
	}
	return sum, nil
}

// settlements

type settlements struct{ s *Store }

func (r settlements) Create(_ context.Context, req *models.SettlementRequest) error {
	defer r.s.lock()()
	for _, cur := range r.s.d.settlements {
		if cur.ID == req.ID || cur.DeliveryID == req.DeliveryID {
			return duplicate("settlement for %s", req.DeliveryID)
		}
	}
	now := time.Now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	r.s.d.settlements[req.ID] = *req
	r.s.d.stOrder = append(r.s.d.stOrder, req.ID)
	return nil
}

func (r settlements) GetByDeliveryID(_ context.Context, deliveryID string) (*models.SettlementRequest, error) {
	defer r.s.lock()()
	for _, req := range r.s.d.settlements {
		if req.DeliveryID == deliveryID {
			return &req, nil
		}
	}
	return nil, notFound("settlement for", deliveryID)
}

func (r settlements) Claim(_ context.Context, id string, at time.Time) (bool, error) {
	defer r.s.lock()()
	req, ok := r.s.d.settlements[id]
	if !ok || req.Status != domain.SettlementPending {
		return false, nil
	}
	req.Status = domain.SettlementProcessing
	req.ClaimedAt = &at
	req.Attempts++
	r.s.d.settlements[id] = req
	return true, nil
}

func (r settlements) Reclaim(_ context.Context, id string, claimedBefore, at time.Time) (bool, error) {
	defer r.s.lock()()
	req, ok := r.s.d.settlements[id]
	if !ok || req.Status != domain.SettlementProcessing || req.ClaimedAt == nil || !req.ClaimedAt.Before(claimedBefore) {
		return false, nil
	}
	req.ClaimedAt = &at
	req.Attempts++
	r.s.d.settlements[id] = req
	return true, nil
}

func (r settlements) ListStale(_ context.Context, claimedBefore time.Time, limit int) ([]models.SettlementRequest, error) {
	defer r.s.lock()()
	var out []models.SettlementRequest
	for _, id := range r.s.d.stOrder {
		req := r.s.d.settlements[id]
		if req.Status == domain.SettlementProcessing && req.ClaimedAt != nil && req.ClaimedAt.Before(claimedBefore) {
			out = append(out, req)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClaimedAt.Before(*out[j].ClaimedAt) })
	return page(out, limit, 0), nil
}

func (r settlements) ListByStatus(_ context.Context, status domain.SettlementStatus, limit int) ([]models.SettlementRequest, error) {
	defer r.s.lock()()
	var out []models.SettlementRequest
	for _, id := range r.s.d.stOrder {
		if req := r.s.d.settlements[id]; req.Status == status {
			out = append(out, req)
		}
	}
	return page(out, limit, 0), nil
}

func (r settlements) Update(_ context.Context, req *models.SettlementRequest) error {
	defer r.s.lock()()
	if _, ok := r.s.d.settlements[req.ID]; !ok {
		return notFound("settlement", req.ID)
	}
	req.UpdatedAt = time.Now()
	r.s.d.settlements[req.ID] = *req
	return nil
}

// users

type users struct{ s *Store }

func (r users) Create(_ context.Context, u *models.User) error {
	defer r.s.lock()()
	if _, ok := r.s.d.users[u.ID]; ok {
		return duplicate("user %s", u.ID)
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	r.s.d.users[u.ID] = *u
	return nil
}

func (r users) GetByID(_ context.Context, id string) (*models.User, error) {
	defer r.s.lock()()
	u, ok := r.s.d.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (r users) GetForUpdate(ctx context.Context, id string) (*models.User, error) {
	return r.GetByID(ctx, id)
}

// commissions

type commissions struct{ s *Store }

func (r commissions) GetRate(_ context.Context, userID string) (*models.CommissionRate, error) {
	defer r.s.lock()()
	rate, ok := r.s.d.rates[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rate, nil
}

func (r commissions) SetRate(_ context.Context, rate *models.CommissionRate) error {
	defer r.s.lock()()
	rate.UpdatedAt = time.Now()
	r.s.d.rates[rate.UserID] = *rate
	return nil
}

func (r commissions) GetSetting(_ context.Context, key string) (string, error) {
	defer r.s.lock()()
	v, ok := r.s.d.settings[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (r commissions) SetSetting(_ context.Context, key, value string) error {
	defer r.s.lock()()
	r.s.d.settings[key] = value
	return nil
}

// notifications

type notifications struct{ s *Store }

func (r notifications) Create(_ context.Context, n *models.Notification) error {
	defer r.s.lock()()
	r.s.d.seq++
	n.ID = r.s.d.seq
	n.CreatedAt = time.Now()
	r.s.d.notes = append(r.s.d.notes, *n)
	return nil
}

func (r notifications) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	defer r.s.lock()()
	var out []models.Notification
	for i := len(r.s.d.notes) - 1; i >= 0; i-- {
		if r.s.d.notes[i].UserID == userID {
			out = append(out, r.s.d.notes[i])
		}
	}
	return page(out, limit, offset), nil
}

// audit

type audit struct{ s *Store }

func (r audit) Create(_ context.Context, entry *models.AuditLog) error {
	defer r.s.lock()()
	r.s.d.seq++
	entry.ID = r.s.d.seq
	entry.CreatedAt = time.Now()
	r.s.d.audit = append(r.s.d.audit, *entry)
	return nil
}

// AuditEntries returns the recorded audit log; handy for assertions.
func (s *Store) AuditEntries() []models.AuditLog {
	defer s.lock()()
	return append([]models.AuditLog(nil), s.d.audit...)
}
