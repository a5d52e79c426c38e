package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/metrics"
	"github.com/TheRebzu/ecodeli-sub058/internal/models"
	"github.com/TheRebzu/ecodeli-sub058/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Entry describes one ledger mutation.
type Entry struct {
	WalletID    string
	Amount      decimal.Decimal // always positive; the direction comes from the operation
	Type        domain.TransactionType
	Reference   string
	Description string
	// Strict reports an idempotency hit as domain.ErrDuplicateOperation instead of
	// returning the existing row silently.
	Strict bool
}

// Balance is the wallet view returned to users.
type Balance struct {
	WalletID  string          `json:"wallet_id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`   // available + pending
	Available decimal.Decimal `json:"available"` // withdrawable now
	Pending   decimal.Decimal `json:"pending"`   // reserved by open withdrawals
}

type AuditReport struct {
	WalletID   string          `json:"wallet_id"`
	Cached     decimal.Decimal `json:"cached"`
	Ledger     decimal.Decimal `json:"ledger"`
	Drift      decimal.Decimal `json:"drift"`
	Consistent bool            `json:"consistent"`
}

// WalletService is the only writer of wallet balances.
type WalletService struct {
	store    repository.Store
	notifier Notifier
	retry    RetryPolicy
	currency string
	log      *zap.Logger
	now      func() time.Time
}

func NewWalletService(store repository.Store, notifier Notifier, retry RetryPolicy, currency string, log *zap.Logger) *WalletService {
	return &WalletService{
		store:    store,
		notifier: notifier,
		retry:    retry,
		currency: currency,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EnsureWallet returns the owner's wallet in currency, creating it on first use.
func (s *WalletService) EnsureWallet(ctx context.Context, ownerID, currency string) (*models.Wallet, error) {
	if currency == "" {
		currency = s.currency
	}
	w, err := s.store.Wallets().GetByOwner(ctx, ownerID, currency)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	w = &models.Wallet{ID: uuid.NewString(), OwnerID: ownerID, Currency: currency, Balance: decimal.Zero}
	if err := s.store.Wallets().Create(ctx, w); err != nil {
		if errors.Is(err, domain.ErrDuplicateOperation) {
			return s.store.Wallets().GetByOwner(ctx, ownerID, currency)
		}
		return nil, err
	}
	return w, nil
}

func (s *WalletService) Credit(ctx context.Context, e Entry) (*models.WalletTransaction, error) {
	return s.mutate(ctx, e, s.applyCredit)
}

func (s *WalletService) Debit(ctx context.Context, e Entry) (*models.WalletTransaction, error) {
	return s.mutate(ctx, e, s.applyDebit)
}

type applyFunc func(ctx context.Context, tx repository.Store, e Entry) (*models.WalletTransaction, bool, error)

func (s *WalletService) mutate(ctx context.Context, e Entry, apply applyFunc) (*models.WalletTransaction, error) {
	var (
		row *models.WalletTransaction
		dup bool
	)
	err := withRetry(ctx, s.retry, func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			var err error
			row, dup, err = apply(ctx, tx, e)
			return err
		})
	})
	if errors.Is(err, domain.ErrDuplicateOperation) {
		// Lost an insert race on the unique index; the winner's row is the result.
		row, err = s.store.Transactions().GetByReference(ctx, e.WalletID, e.Type, e.Reference)
		dup = err == nil
	}
	if err != nil {
		metrics.RecordWalletMutation(string(e.Type), "error")
		return nil, err
	}
	if dup {
		metrics.RecordWalletMutation(string(e.Type), "duplicate")
		if e.Strict {
			return row, fmt.Errorf("%s %s: %w", e.Type, e.Reference, domain.ErrDuplicateOperation)
		}
		return row, nil
	}
	metrics.RecordWalletMutation(string(e.Type), "applied")
	return row, nil
}

func validateEntry(e Entry) error {
	if !e.Amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if e.WalletID == "" || e.Reference == "" || !e.Type.Valid() {
		return fmt.Errorf("%w: wallet, type and reference are required", domain.ErrInvalidInput)
	}
	return nil
}

// applyCredit adds e.Amount inside tx. It reports dup=true and the existing row
// when (wallet, type, reference) was already written.
func (s *WalletService) applyCredit(ctx context.Context, tx repository.Store, e Entry) (*models.WalletTransaction, bool, error) {
	return s.apply(ctx, tx, e, e.Amount)
}

// applyDebit subtracts e.Amount inside tx, refusing to take the balance below zero.
func (s *WalletService) applyDebit(ctx context.Context, tx repository.Store, e Entry) (*models.WalletTransaction, bool, error) {
	return s.apply(ctx, tx, e, e.Amount.Neg())
}

func (s *WalletService) apply(ctx context.Context, tx repository.Store, e Entry, signed decimal.Decimal) (*models.WalletTransaction, bool, error) {
	if err := validateEntry(e); err != nil {
		return nil, false, err
	}
	w, err := tx.Wallets().GetForUpdate(ctx, e.WalletID)
	if err != nil {
		return nil, false, err
	}
	existing, err := tx.Transactions().GetByReference(ctx, e.WalletID, e.Type, e.Reference)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	next := w.Balance.Add(signed)
	if next.IsNegative() {
		return nil, false, &domain.FundsError{Available: w.Balance, Requested: e.Amount}
	}
	now := s.now()
	row := &models.WalletTransaction{
		ID:           uuid.NewString(),
		WalletID:     w.ID,
		Type:         e.Type,
		Reference:    e.Reference,
		Amount:       signed,
		Status:       domain.TxCompleted,
		BalanceAfter: &next,
		Description:  e.Description,
		CreatedAt:    now,
		CompletedAt:  &now,
	}
	if err := tx.Transactions().Create(ctx, row); err != nil {
		return nil, false, err
	}
	w.Balance = next
	if err := tx.Wallets().UpdateBalance(ctx, w); err != nil {
		return nil, false, err
	}
	return row, false, nil
}

func (s *WalletService) GetBalance(ctx context.Context, walletID string) (*Balance, error) {
	w, err := s.store.Wallets().GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.Withdrawals().SumOpen(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	return &Balance{
		WalletID:  w.ID,
		Currency:  w.Currency,
		Balance:   w.Balance.Add(pending),
		Available: w.Balance,
		Pending:   pending,
	}, nil
}

// GetBalanceForUser is the user's view of their default-currency wallet.
func (s *WalletService) GetBalanceForUser(ctx context.Context, userID string) (*Balance, error) {
	w, err := s.EnsureWallet(ctx, userID, s.currency)
	if err != nil {
		return nil, err
	}
	return s.GetBalance(ctx, w.ID)
}

// Audit recomputes the balance from COMPLETED ledger rows and compares it with the cached value.
func (s *WalletService) Audit(ctx context.Context, walletID string) (*AuditReport, error) {
	var rep *AuditReport
	err := s.store.Atomic(ctx, func(tx repository.Store) error {
		w, err := tx.Wallets().GetForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		sum, err := tx.Transactions().SumCompleted(ctx, walletID)
		if err != nil {
			return err
		}
		rep = &AuditReport{
			WalletID:   walletID,
			Cached:     w.Balance,
			Ledger:     sum,
			Drift:      w.Balance.Sub(sum),
			Consistent: w.Balance.Equal(sum),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !rep.Consistent {
		s.log.Error("wallet balance drift", zap.String("wallet_id", walletID),
			zap.String("cached", rep.Cached.String()), zap.String("ledger", rep.Ledger.String()))
	}
	return rep, nil
}

func (s *WalletService) Transactions(ctx context.Context, walletID string, limit, offset int) ([]models.WalletTransaction, error) {
	return s.store.Transactions().ListByWallet(ctx, walletID, limit, offset)
}

// TransactionsForUser lists the ledger of the user's default-currency wallet.
func (s *WalletService) TransactionsForUser(ctx context.Context, userID string, limit, offset int) ([]models.WalletTransaction, error) {
	w, err := s.EnsureWallet(ctx, userID, s.currency)
	if err != nil {
		return nil, err
	}
	return s.Transactions(ctx, w.ID, limit, offset)
}

// RequestWithdrawal reserves amount by debiting the wallet and records a PENDING
// withdrawal in the same transaction. The debit's reference is the withdrawal id.
func (s *WalletService) RequestWithdrawal(ctx context.Context, userID string, amount decimal.Decimal, destination string) (*models.Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return nil, fmt.Errorf("%w: amount has more than 2 decimals", domain.ErrInvalidInput)
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, fmt.Errorf("%w: destination account required", domain.ErrInvalidInput)
	}
	wallet, err := s.EnsureWallet(ctx, userID, s.currency)
	if err != nil {
		return nil, err
	}
	wd := &models.Withdrawal{
		ID:          uuid.NewString(),
		WalletID:    wallet.ID,
		UserID:      userID,
		Amount:      amount,
		Currency:    wallet.Currency,
		Destination: destination,
		Status:      domain.WithdrawalPending,
	}
	err = withRetry(ctx, s.retry, func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			wd.RequestedAt = s.now()
			if _, _, err := s.applyDebit(ctx, tx, Entry{
				WalletID:    wallet.ID,
				Amount:      amount,
				Type:        domain.TxWithdrawal,
				Reference:   wd.ID,
				Description: "Withdrawal reservation",
			}); err != nil {
				return err
			}
			return tx.Withdrawals().Create(ctx, wd)
		})
	})
	if err != nil {
		metrics.RecordWalletMutation(string(domain.TxWithdrawal), "rejected")
		return nil, err
	}
	metrics.RecordWalletMutation(string(domain.TxWithdrawal), "applied")
	s.log.Info("withdrawal requested", zap.String("withdrawal_id", wd.ID), zap.String("user_id", userID), zap.String("amount", amount.String()))
	s.notifyWithdrawal(ctx, wd, domain.EventWithdrawalUpdated)
	return wd, nil
}

func (s *WalletService) ListWithdrawals(ctx context.Context, userID string, limit, offset int) ([]models.Withdrawal, error) {
	return s.store.Withdrawals().ListByUser(ctx, userID, limit, offset)
}

func (s *WalletService) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	return s.store.Withdrawals().GetByID(ctx, id)
}

// CancelWithdrawal lets the owner withdraw a request the settlement cycle has not claimed yet.
func (s *WalletService) CancelWithdrawal(ctx context.Context, userID, withdrawalID string) (*models.Withdrawal, error) {
	var wd *models.Withdrawal
	err := withRetry(ctx, s.retry, func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			w, err := tx.Withdrawals().GetForUpdate(ctx, withdrawalID)
			if err != nil {
				return err
			}
			if w.UserID != userID {
				return domain.ErrForbidden
			}
			if w.Status != domain.WithdrawalPending {
				return fmt.Errorf("withdrawal is %s: %w", w.Status, domain.ErrInvalidTransition)
			}
			if err := s.closeWithReversal(ctx, tx, w, domain.WithdrawalCancelled, "cancelled by owner"); err != nil {
				return err
			}
			wd = w
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.notifyWithdrawal(ctx, wd, domain.EventWithdrawalReversed)
	return wd, nil
}

// CompleteWithdrawal marks an open withdrawal paid out. Completing twice is a no-op.
func (s *WalletService) CompleteWithdrawal(ctx context.Context, withdrawalID, payoutID string) (*models.Withdrawal, error) {
	return s.finishWithdrawal(ctx, withdrawalID, func(ctx context.Context, tx repository.Store, w *models.Withdrawal) (bool, error) {
		return s.completeTx(ctx, tx, w, payoutID)
	})
}

// FailWithdrawal marks the withdrawal FAILED and re-credits the reserved amount
// with a REFUND referencing the withdrawal id. Safe to repeat.
func (s *WalletService) FailWithdrawal(ctx context.Context, withdrawalID, reason string) (*models.Withdrawal, error) {
	return s.finishWithdrawal(ctx, withdrawalID, func(ctx context.Context, tx repository.Store, w *models.Withdrawal) (bool, error) {
		return s.failTx(ctx, tx, w, reason)
	})
}

// RecordPayoutSubmitted stores the gateway's payout id on a PROCESSING withdrawal
// whose result will arrive by callback.
func (s *WalletService) RecordPayoutSubmitted(ctx context.Context, withdrawalID, payoutID string) error {
	return withRetry(ctx, s.retry, func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			w, err := tx.Withdrawals().GetForUpdate(ctx, withdrawalID)
			if err != nil {
				return err
			}
			if w.Status != domain.WithdrawalProcessing {
				return nil
			}
			w.PayoutID = payoutID
			return tx.Withdrawals().Update(ctx, w)
		})
	})
}

// NotePayoutUnknown records why a PROCESSING withdrawal has no gateway verdict.
// The reservation stays in place; the callback or an operator settles it.
func (s *WalletService) NotePayoutUnknown(ctx context.Context, withdrawalID, reason string) error {
	return withRetry(ctx, s.retry, func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			w, err := tx.Withdrawals().GetForUpdate(ctx, withdrawalID)
			if err != nil {
				return err
			}
			if w.Status != domain.WithdrawalProcessing {
				return nil
			}
			w.FailureReason = reason
			return tx.Withdrawals().Update(ctx, w)
		})
	})
}

// ResolveStuckWithdrawal is the operator action for a PROCESSING withdrawal the
// gateway never answered: confirm marks it COMPLETED, otherwise it is reversed.
func (s *WalletService) ResolveStuckWithdrawal(ctx context.Context, operatorID, withdrawalID string, confirm bool, note string) (*models.Withdrawal, error) {
	return s.finishWithdrawal(ctx, withdrawalID, func(ctx context.Context, tx repository.Store, w *models.Withdrawal) (bool, error) {
		if w.Status == domain.WithdrawalPending {
			return false, fmt.Errorf("withdrawal not yet submitted: %w", domain.ErrInvalidTransition)
		}
		var (
			changed bool
			err     error
		)
		if confirm {
			changed, err = s.completeTx(ctx, tx, w, w.PayoutID)
		} else {
			reason := "reversed by operator"
			if note != "" {
				reason += ": " + note
			}
			changed, err = s.failTx(ctx, tx, w, reason)
		}
		if err != nil || !changed {
			return changed, err
		}
		return true, writeAudit(ctx, tx, operatorID, "withdrawal.resolve", "withdrawal", w.ID,
			map[string]interface{}{"confirm": confirm, "note": note})
	})
}

type finishFunc func(ctx context.Context, tx repository.Store, w *models.Withdrawal) (changed bool, err error)

func (s *WalletService) finishWithdrawal(ctx context.Context, withdrawalID string, fn finishFunc) (*models.Withdrawal, error) {
	var (
		wd      *models.Withdrawal
		changed bool
	)
	err := withRetry(ctx, s.retry, func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			w, err := tx.Withdrawals().GetForUpdate(ctx, withdrawalID)
			if err != nil {
				return err
			}
			if changed, err = fn(ctx, tx, w); err != nil {
				return err
			}
			wd = w
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		event := domain.EventWithdrawalUpdated
		if wd.Status == domain.WithdrawalFailed {
			event = domain.EventWithdrawalReversed
		}
		s.log.Info("withdrawal finished", zap.String("withdrawal_id", wd.ID), zap.String("status", string(wd.Status)))
		s.notifyWithdrawal(ctx, wd, event)
	}
	return wd, nil
}

func (s *WalletService) completeTx(ctx context.Context, tx repository.Store, w *models.Withdrawal, payoutID string) (bool, error) {
	switch {
	case w.Status == domain.WithdrawalCompleted:
		return false, nil
	case !w.Status.IsOpen():
		return false, fmt.Errorf("withdrawal is %s: %w", w.Status, domain.ErrInvalidTransition)
	}
	now := s.now()
	w.Status = domain.WithdrawalCompleted
	w.FailureReason = ""
	if payoutID != "" {
		w.PayoutID = payoutID
	}
	w.ProcessedAt = &now
	return true, tx.Withdrawals().Update(ctx, w)
}

func (s *WalletService) failTx(ctx context.Context, tx repository.Store, w *models.Withdrawal, reason string) (bool, error) {
	switch w.Status {
	case domain.WithdrawalFailed:
		// Re-apply the reversal; it is a no-op when the refund row exists.
		_, _, err := s.applyCredit(ctx, tx, reversalEntry(w))
		return false, err
	case domain.WithdrawalCompleted, domain.WithdrawalCancelled:
		return false, fmt.Errorf("withdrawal is %s: %w", w.Status, domain.ErrInvalidTransition)
	}
	return true, s.closeWithReversal(ctx, tx, w, domain.WithdrawalFailed, reason)
}

func (s *WalletService) closeWithReversal(ctx context.Context, tx repository.Store, w *models.Withdrawal, status domain.WithdrawalStatus, reason string) error {
	now := s.now()
	w.Status = status
	w.FailureReason = reason
	w.ProcessedAt = &now
	if err := tx.Withdrawals().Update(ctx, w); err != nil {
		return err
	}
	_, _, err := s.applyCredit(ctx, tx, reversalEntry(w))
	return err
}

func reversalEntry(w *models.Withdrawal) Entry {
	return Entry{
		WalletID:    w.WalletID,
		Amount:      w.Amount,
		Type:        domain.TxRefund,
		Reference:   w.ID,
		Description: "Withdrawal reversal",
	}
}

func (s *WalletService) notifyWithdrawal(ctx context.Context, w *models.Withdrawal, event string) {
	title := "Withdrawal " + strings.ToLower(string(w.Status))
	body := fmt.Sprintf("Your withdrawal of %s %s is %s.", w.Amount.StringFixed(2), w.Currency, strings.ToLower(string(w.Status)))
	s.notifier.Notify(ctx, w.UserID, event, title, body, map[string]interface{}{
		"withdrawal_id": w.ID,
		"status":        w.Status,
		"amount":        w.Amount.StringFixed(2),
	})
}

// ProposeAdjustment records a PENDING signed ADJUSTMENT that a second operator must approve.
func (s *WalletService) ProposeAdjustment(ctx context.Context, actorID, walletID string, amount decimal.Decimal, reference, description string) (*models.WalletTransaction, error) {
	if amount.IsZero() {
		return nil, domain.ErrInvalidAmount
	}
	if reference == "" {
		return nil, fmt.Errorf("%w: reference required", domain.ErrInvalidInput)
	}
	row := &models.WalletTransaction{
		ID:          uuid.NewString(),
		WalletID:    walletID,
		Type:        domain.TxAdjustment,
		Reference:   reference,
		Amount:      amount.Round(2),
		Status:      domain.TxPending,
		Description: description,
		InitiatedBy: actorID,
	}
	err := s.store.Atomic(ctx, func(tx repository.Store) error {
		if _, err := tx.Wallets().GetByID(ctx, walletID); err != nil {
			return err
		}
		row.CreatedAt = s.now()
		if err := tx.Transactions().Create(ctx, row); err != nil {
			return err
		}
		return writeAudit(ctx, tx, actorID, "adjustment.propose", "wallet_transaction", row.ID,
			map[string]interface{}{"wallet_id": walletID, "amount": row.Amount.String(), "reference": reference})
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ApproveAdjustment applies a PENDING adjustment. An adjustment that would overdraw
// the wallet is marked FAILED and the FundsError is returned.
func (s *WalletService) ApproveAdjustment(ctx context.Context, actorID, txID string) (*models.WalletTransaction, error) {
	var (
		row     *models.WalletTransaction
		verdict error
	)
	err := withRetry(ctx, s.retry, func() error {
		verdict = nil
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			t, err := s.pendingAdjustment(ctx, tx, actorID, txID)
			if err != nil {
				return err
			}
			w, err := tx.Wallets().GetForUpdate(ctx, t.WalletID)
			if err != nil {
				return err
			}
			now := s.now()
			next := w.Balance.Add(t.Amount)
			if next.IsNegative() {
				verdict = &domain.FundsError{Available: w.Balance, Requested: t.Amount.Neg()}
				if err := tx.Transactions().Settle(ctx, t.ID, domain.TxFailed, nil, now); err != nil {
					return err
				}
				t.Status = domain.TxFailed
			} else {
				if err := tx.Transactions().Settle(ctx, t.ID, domain.TxCompleted, &next, now); err != nil {
					return err
				}
				w.Balance = next
				if err := tx.Wallets().UpdateBalance(ctx, w); err != nil {
					return err
				}
				t.Status, t.BalanceAfter, t.CompletedAt = domain.TxCompleted, &next, &now
			}
			row = t
			return writeAudit(ctx, tx, actorID, "adjustment.approve", "wallet_transaction", t.ID,
				map[string]interface{}{"status": t.Status})
		})
	})
	if err != nil {
		return nil, err
	}
	if verdict != nil {
		return row, verdict
	}
	metrics.RecordWalletMutation(string(domain.TxAdjustment), "applied")
	return row, nil
}

func (s *WalletService) RejectAdjustment(ctx context.Context, actorID, txID string) (*models.WalletTransaction, error) {
	var row *models.WalletTransaction
	err := s.store.Atomic(ctx, func(tx repository.Store) error {
		t, err := s.pendingAdjustment(ctx, tx, actorID, txID)
		if err != nil {
			return err
		}
		if err := tx.Transactions().Settle(ctx, t.ID, domain.TxCancelled, nil, s.now()); err != nil {
			return err
		}
		t.Status = domain.TxCancelled
		row = t
		return writeAudit(ctx, tx, actorID, "adjustment.reject", "wallet_transaction", t.ID, nil)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *WalletService) pendingAdjustment(ctx context.Context, tx repository.Store, actorID, txID string) (*models.WalletTransaction, error) {
	t, err := tx.Transactions().GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if t.Type != domain.TxAdjustment || t.Status != domain.TxPending {
		return nil, fmt.Errorf("transaction %s is %s %s: %w", t.ID, t.Type, t.Status, domain.ErrInvalidTransition)
	}
	if t.InitiatedBy == actorID {
		return nil, fmt.Errorf("%w: proposer cannot review their own adjustment", domain.ErrForbidden)
	}
	return t, nil
}
