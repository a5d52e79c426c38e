package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/TheRebzu/ecodeli-sub058/internal/domain"
	"github.com/TheRebzu/ecodeli-sub058/internal/metrics"
	"github.com/TheRebzu/ecodeli-sub058/internal/models"
	"github.com/TheRebzu/ecodeli-sub058/internal/repository"
	"github.com/TheRebzu/ecodeli-sub058/pkg/payment"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SettlementConfig struct {
	BatchSize       int
	Concurrency     int
	MaxAttempts     int
	PlatformOwnerID string
	StaleAfter      time.Duration
}

const (
	KindDelivery   = "DELIVERY"
	KindWithdrawal = "WITHDRAWAL"
)

const (
	OutcomeCompleted  = "COMPLETED"
	OutcomeFailed     = "FAILED"
	OutcomeHeld       = "HELD"
	OutcomeProcessing = "PROCESSING"
	OutcomeSkipped    = "SKIPPED"
	OutcomeRetry      = "RETRY"
	// OutcomeUnknown: the gateway call failed without a verdict; the withdrawal stays PROCESSING.
	OutcomeUnknown = "UNKNOWN"
)

// ItemResult is the outcome of one settlement or payout within a cycle.
type ItemResult struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type CycleResult struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Stale     int           `json:"stale"`
	Items     []ItemResult  `json:"items"`
	Duration  time.Duration `json:"duration"`
}

func (r *CycleResult) add(item ItemResult) {
	r.Items = append(r.Items, item)
	switch item.Outcome {
	case OutcomeCompleted, OutcomeProcessing, OutcomeHeld:
		r.Processed++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// SettlementService turns delivered jobs into wallet credits and withdrawals into payouts.
// Work is claimed with a conditional update, so concurrent cycles never process an item twice.
type SettlementService struct {
	store      repository.Store
	wallets    *WalletService
	deliveries *DeliveryService
	commission CommissionProvider
	gateway    payment.Gateway
	notifier   Notifier
	cfg        SettlementConfig
	retry      RetryPolicy
	log        *zap.Logger
	now        func() time.Time
}

func NewSettlementService(store repository.Store, wallets *WalletService, deliveries *DeliveryService, commission CommissionProvider,
	gateway payment.Gateway, notifier Notifier, cfg SettlementConfig, retry RetryPolicy, log *zap.Logger) *SettlementService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &SettlementService{
		store:      store,
		wallets:    wallets,
		deliveries: deliveries,
		commission: commission,
		gateway:    gateway,
		notifier:   notifier,
		cfg:        cfg,
		retry:      retry,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle settles pending delivery requests, takes over settlement claims left
// behind by a dead worker, and submits pending withdrawals.
// Items fail independently; the result lists each one.
func (s *SettlementService) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := time.Now()
	reqs, err := s.store.Settlements().ListByStatus(ctx, domain.SettlementPending, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	cutoff := s.now().Add(-s.staleAfter())
	stuck, err := s.store.Settlements().ListStale(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list stale settlements: %w", err)
	}
	wds, err := s.store.Withdrawals().ListByStatus(ctx, domain.WithdrawalPending, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}

	res := &CycleResult{}
	var mu sync.Mutex
	record := func(item ItemResult) {
		metrics.RecordSettlementItem(item.Kind, item.Outcome)
		mu.Lock()
		res.add(item)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, r := range reqs {
		r := r
		g.Go(func() error {
			record(s.claimAndSettle(ctx, r, s.store.Settlements().Claim))
			return nil
		})
	}
	reclaim := func(ctx context.Context, id string, at time.Time) (bool, error) {
		return s.store.Settlements().Reclaim(ctx, id, cutoff, at)
	}
	for _, r := range stuck {
		r := r
		s.log.Warn("reclaiming stale settlement", zap.String("delivery_id", r.DeliveryID), zap.Timep("claimed_at", r.ClaimedAt))
		g.Go(func() error {
			record(s.claimAndSettle(ctx, r, reclaim))
			return nil
		})
	}
	for _, w := range wds {
		w := w
		g.Go(func() error {
			record(s.claimAndPayout(ctx, w))
			return nil
		})
	}
	_ = g.Wait()

	if stale, err := s.StaleWithdrawals(ctx); err == nil {
		res.Stale = len(stale)
		metrics.SetStaleWithdrawals(len(stale))
	} else {
		s.log.Warn("stale withdrawal scan failed", zap.Error(err))
	}
	res.Duration = time.Since(start)
	metrics.ObserveSettlementCycle(res.Duration)
	s.log.Info("settlement cycle",
		zap.Int("processed", res.Processed), zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped), zap.Int("stale", res.Stale), zap.Duration("took", res.Duration))
	return res, nil
}

// SettleDelivery settles one delivery right away, used when DELIVERED is observed.
func (s *SettlementService) SettleDelivery(ctx context.Context, deliveryID string) (ItemResult, error) {
	req, err := s.store.Settlements().GetByDeliveryID(ctx, deliveryID)
	if err != nil {
		return ItemResult{}, err
	}
	item := s.claimAndSettle(ctx, *req, s.store.Settlements().Claim)
	metrics.RecordSettlementItem(item.Kind, item.Outcome)
	return item, nil
}

// Requeue puts a FAILED settlement request back to PENDING with a fresh attempt budget.
// Requests failed by a refund dispute resolution stay failed.
func (s *SettlementService) Requeue(ctx context.Context, actorID, deliveryID string) (*models.SettlementRequest, error) {
	var out *models.SettlementRequest
	err := withRetry(ctx, s.retry, func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			d, err := tx.Deliveries().GetForUpdate(ctx, deliveryID)
			if err != nil {
				return err
			}
			r, err := tx.Settlements().GetByDeliveryID(ctx, deliveryID)
			if err != nil {
				return err
			}
			if r.Status != domain.SettlementFailed {
				return fmt.Errorf("settlement is %s: %w", r.Status, domain.ErrInvalidTransition)
			}
			if d.DisputeResolution == domain.DisputeRefund {
				return fmt.Errorf("delivery refunded by dispute: %w", domain.ErrInvalidTransition)
			}
			prev := r.LastError
			r.Status = domain.SettlementPending
			r.Attempts = 0
			r.LastError = ""
			r.ClaimedAt = nil
			if err := tx.Settlements().Update(ctx, r); err != nil {
				return err
			}
			out = r
			return writeAudit(ctx, tx, actorID, "settlement.requeue", "settlement", r.ID,
				map[string]interface{}{"delivery_id": deliveryID, "last_error": prev})
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("settlement requeued", zap.String("delivery_id", deliveryID), zap.String("actor_id", actorID))
	return out, nil
}

type claimFunc func(ctx context.Context, id string, at time.Time) (bool, error)

func (s *SettlementService) claimAndSettle(ctx context.Context, req models.SettlementRequest, claim claimFunc) ItemResult {
	item := ItemResult{Kind: KindDelivery, ID: req.DeliveryID}
	ok, err := claim(ctx, req.ID, s.now())
	if err != nil {
		item.Outcome, item.Error = OutcomeFailed, err.Error()
		return item
	}
	if !ok {
		item.Outcome = OutcomeSkipped
		return item
	}
	outcome, err := s.settle(ctx, req)
	item.Outcome = outcome
	if err != nil {
		item.Error = err.Error()
		s.log.Error("settlement failed", zap.String("delivery_id", req.DeliveryID), zap.Error(err))
		item.Outcome = s.releaseClaim(ctx, req.DeliveryID, err)
	}
	return item
}

// settle credits the deliverer's net earning and the platform fee for a claimed request.
func (s *SettlementService) settle(ctx context.Context, req models.SettlementRequest) (string, error) {
	pct, err := s.commission.RateFor(ctx, req.DelivererID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("commission rate: %w", err)
	}
	fee, net := SplitCommission(req.Price, pct)

	payee, err := s.wallets.EnsureWallet(ctx, req.DelivererID, req.Currency)
	if err != nil {
		return OutcomeFailed, err
	}
	var platform *models.Wallet
	if s.cfg.PlatformOwnerID != "" && fee.IsPositive() {
		if platform, err = s.wallets.EnsureWallet(ctx, s.cfg.PlatformOwnerID, req.Currency); err != nil {
			return OutcomeFailed, err
		}
	}

	outcome := OutcomeCompleted
	credited := false
	err = withRetry(ctx, s.retry, func() error {
		outcome, credited = OutcomeCompleted, false
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			d, err := tx.Deliveries().GetForUpdate(ctx, req.DeliveryID)
			if err != nil {
				return err
			}
			r, err := tx.Settlements().GetByDeliveryID(ctx, req.DeliveryID)
			if err != nil {
				return err
			}
			now := s.now()
			if d.Status == domain.DeliveryDisputed && d.DisputeResolution != domain.DisputeRelease {
				outcome = OutcomeHeld
				r.Status = domain.SettlementHeld
				if d.DisputeResolution == domain.DisputeRefund {
					outcome = OutcomeFailed
					r.Status = domain.SettlementFailed
					r.LastError = "dispute resolved with refund"
				}
				return tx.Settlements().Update(ctx, r)
			}
			if net.IsPositive() {
				_, dup, err := s.wallets.applyCredit(ctx, tx, Entry{
					WalletID:    payee.ID,
					Amount:      net,
					Type:        domain.TxEarning,
					Reference:   req.DeliveryID,
					Description: "Delivery earning",
				})
				if err != nil {
					return err
				}
				credited = !dup
			}
			if platform != nil {
				if _, _, err := s.wallets.applyCredit(ctx, tx, Entry{
					WalletID:    platform.ID,
					Amount:      fee,
					Type:        domain.TxPlatformFee,
					Reference:   req.DeliveryID,
					Description: "Delivery commission",
				}); err != nil {
					return err
				}
			}
			if err := s.deliveries.markPaidTx(ctx, tx, d); err != nil {
				return err
			}
			r.Status = domain.SettlementCompleted
			r.LastError = ""
			r.ProcessedAt = &now
			return tx.Settlements().Update(ctx, r)
		})
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if credited {
		s.log.Info("earning credited", zap.String("delivery_id", req.DeliveryID),
			zap.String("deliverer_id", req.DelivererID), zap.String("net", net.StringFixed(2)), zap.String("fee", fee.StringFixed(2)))
		s.notifier.Notify(ctx, req.DelivererID, domain.EventEarningCredited, "Earning credited",
			fmt.Sprintf("%s %s was added to your wallet.", net.StringFixed(2), req.Currency),
			map[string]interface{}{"delivery_id": req.DeliveryID, "amount": net.StringFixed(2)})
	}
	return outcome, nil
}

// releaseClaim puts a failed request back to PENDING, or FAILED once attempts run out.
func (s *SettlementService) releaseClaim(ctx context.Context, deliveryID string, cause error) string {
	outcome := OutcomeRetry
	err := s.store.Atomic(ctx, func(tx repository.Store) error {
		r, err := tx.Settlements().GetByDeliveryID(ctx, deliveryID)
		if err != nil {
			return err
		}
		if r.Status != domain.SettlementProcessing {
			outcome = string(r.Status)
			return nil
		}
		r.LastError = truncate(cause.Error(), 500)
		r.Status = domain.SettlementPending
		if r.Attempts >= s.cfg.MaxAttempts {
			r.Status = domain.SettlementFailed
			outcome = OutcomeFailed
		}
		return tx.Settlements().Update(ctx, r)
	})
	if err != nil {
		s.log.Error("settlement claim not released", zap.String("delivery_id", deliveryID), zap.Error(err))
		return OutcomeFailed
	}
	return outcome
}

func (s *SettlementService) claimAndPayout(ctx context.Context, w models.Withdrawal) ItemResult {
	item := ItemResult{Kind: KindWithdrawal, ID: w.ID}
	ok, err := s.store.Withdrawals().Claim(ctx, w.ID, s.now())
	if err != nil {
		item.Outcome, item.Error = OutcomeFailed, err.Error()
		return item
	}
	if !ok {
		item.Outcome = OutcomeSkipped
		return item
	}
	outcome, err := s.payout(ctx, w)
	item.Outcome = outcome
	if err != nil {
		item.Error = err.Error()
	}
	return item
}

// payout submits the withdrawal to the gateway with its id as reference, so a
// resubmission can never pay twice. Only a definite decline reverses the reservation;
// any other error leaves the withdrawal PROCESSING for the callback or an operator.
func (s *SettlementService) payout(ctx context.Context, w models.Withdrawal) (string, error) {
	var resp *payment.PayoutResponse
	retryable := func(err error) bool { return ctx.Err() == nil && !payment.IsDeclined(err) }
	err := retryIf(ctx, s.retry, retryable, func() error {
		var err error
		resp, err = s.gateway.InitiatePayout(ctx, payment.PayoutRequest{
			Reference:   w.ID,
			UserID:      w.UserID,
			Amount:      w.Amount,
			Currency:    w.Currency,
			Destination: w.Destination,
		})
		return err
	})
	if err != nil {
		perr := &domain.PayoutError{Reference: w.ID, Err: err}
		if payment.IsDeclined(err) {
			s.log.Warn("payout declined", zap.String("withdrawal_id", w.ID), zap.Error(err))
			if _, ferr := s.wallets.FailWithdrawal(ctx, w.ID, truncate(perr.Error(), 500)); ferr != nil {
				return OutcomeFailed, errors.Join(perr, ferr)
			}
			return OutcomeFailed, perr
		}
		s.log.Error("payout outcome unknown", zap.String("withdrawal_id", w.ID), zap.Error(err))
		if nerr := s.wallets.NotePayoutUnknown(ctx, w.ID, truncate("payout outcome unknown: "+err.Error(), 500)); nerr != nil {
			return OutcomeUnknown, errors.Join(perr, nerr)
		}
		return OutcomeUnknown, perr
	}
	return s.applyPayoutResult(ctx, w.ID, resp.PayoutID, resp.Status, resp.Message)
}

func (s *SettlementService) applyPayoutResult(ctx context.Context, withdrawalID, payoutID string, status payment.PayoutStatus, message string) (string, error) {
	switch status {
	case payment.PayoutCompleted:
		if _, err := s.wallets.CompleteWithdrawal(ctx, withdrawalID, payoutID); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeCompleted, nil
	case payment.PayoutRejected:
		reason := "payout rejected"
		if message != "" {
			reason += ": " + message
		}
		if _, err := s.wallets.FailWithdrawal(ctx, withdrawalID, truncate(reason, 500)); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeFailed, &domain.PayoutError{Reference: withdrawalID, Err: errors.New(reason)}
	default:
		if payoutID != "" {
			if err := s.wallets.RecordPayoutSubmitted(ctx, withdrawalID, payoutID); err != nil {
				return OutcomeFailed, err
			}
		}
		return OutcomeProcessing, nil
	}
}

// HandlePayoutCallback applies the gateway's asynchronous verdict. The callback
// carries the withdrawal id as reference; the payout id is used as a fallback.
func (s *SettlementService) HandlePayoutCallback(ctx context.Context, reference, payoutID string, status payment.PayoutStatus, message string) (*models.Withdrawal, error) {
	w, err := s.store.Withdrawals().GetByID(ctx, reference)
	if errors.Is(err, domain.ErrNotFound) && payoutID != "" {
		w, err = s.store.Withdrawals().GetByPayoutID(ctx, payoutID)
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.applyPayoutResult(ctx, w.ID, payoutID, status, message); err != nil && !errors.Is(err, domain.ErrPayoutGateway) {
		if status == payment.PayoutCompleted && errors.Is(err, domain.ErrInvalidTransition) {
			s.flagPaidAfterReversal(ctx, w.ID, payoutID)
		}
		return nil, err
	}
	return s.store.Withdrawals().GetByID(ctx, w.ID)
}

// flagPaidAfterReversal records a gateway success for a withdrawal that was
// already reversed. The user holds the money twice until an operator recovers it.
func (s *SettlementService) flagPaidAfterReversal(ctx context.Context, withdrawalID, payoutID string) {
	err := s.store.Atomic(ctx, func(tx repository.Store) error {
		w, err := tx.Withdrawals().GetForUpdate(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if w.Status != domain.WithdrawalFailed && w.Status != domain.WithdrawalCancelled {
			return nil
		}
		s.log.Error("payout completed after reversal",
			zap.String("withdrawal_id", w.ID), zap.String("user_id", w.UserID),
			zap.String("payout_id", payoutID), zap.String("amount", w.Amount.StringFixed(2)))
		metrics.RecordSettlementItem(KindWithdrawal, "PAID_AFTER_REVERSAL")
		return writeAudit(ctx, tx, "payout-gateway", "withdrawal.paid_after_reversal", "withdrawal", w.ID,
			map[string]interface{}{"payout_id": payoutID, "status": w.Status, "failure_reason": w.FailureReason})
	})
	if err != nil {
		s.log.Error("paid-after-reversal not recorded", zap.String("withdrawal_id", withdrawalID), zap.Error(err))
	}
}

// StaleWithdrawals lists PROCESSING withdrawals older than the stale threshold.
// They are never reversed automatically; an operator resolves them.
func (s *SettlementService) StaleWithdrawals(ctx context.Context) ([]models.Withdrawal, error) {
	return s.store.Withdrawals().ListStale(ctx, s.now().Add(-s.staleAfter()), s.cfg.BatchSize)
}

func (s *SettlementService) staleAfter() time.Duration {
	if s.cfg.StaleAfter <= 0 {
		return 30 * time.Minute
	}
	return s.cfg.StaleAfter
}

// truncate caps s at n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
