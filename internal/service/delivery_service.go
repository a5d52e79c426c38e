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
	"github.com/TheRebzu/ecodeli-sub058/pkg/validationcode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Actor is the authenticated caller of a delivery operation.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// System is the actor used for transitions driven by internal collaborators.
var System = Actor{ID: "system", Role: domain.RoleSystem}

type DeliveryConfig struct {
	MaxCodeAttempts       int
	MaxActivePerDeliverer int
	Currency              string
}

type CreateDeliveryInput struct {
	ClientID        string
	AnnouncementID  string
	Price           decimal.Decimal
	Currency        string
	PaymentCaptured bool
}

// DeliveryService is the delivery state machine. Every transition locks the delivery
// row, checks the graph and the actor, and writes the row and its history together.
type DeliveryService struct {
	store       repository.Store
	wallets     *WalletService
	notifier    Notifier
	cfg         DeliveryConfig
	retry       RetryPolicy
	log         *zap.Logger
	now         func() time.Time
	newCode     func() (string, error)
	onDelivered func(deliveryID string)
}

func NewDeliveryService(store repository.Store, wallets *WalletService, notifier Notifier, cfg DeliveryConfig, retry RetryPolicy, log *zap.Logger) *DeliveryService {
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = 3
	}
	if cfg.MaxActivePerDeliverer <= 0 {
		cfg.MaxActivePerDeliverer = 1
	}
	return &DeliveryService{
		store:    store,
		wallets:  wallets,
		notifier: notifier,
		cfg:      cfg,
		retry:    retry,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		newCode:  validationcode.Generate,
	}
}

// OnDelivered registers a hook run after a DELIVERED transition commits.
func (s *DeliveryService) OnDelivered(fn func(deliveryID string)) {
	s.onDelivered = fn
}

func (s *DeliveryService) Create(ctx context.Context, in CreateDeliveryInput) (*models.Delivery, error) {
	if !in.Price.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if in.ClientID == "" || in.AnnouncementID == "" {
		return nil, fmt.Errorf("%w: client and announcement required", domain.ErrInvalidInput)
	}
	if in.Currency == "" {
		in.Currency = s.cfg.Currency
	}
	now := s.now()
	d := &models.Delivery{
		ID:             uuid.NewString(),
		Status:         domain.DeliveryPending,
		ClientID:       in.ClientID,
		AnnouncementID: in.AnnouncementID,
		Price:          in.Price.Round(2),
		Currency:       in.Currency,
		CreatedAt:      now,
	}
	if in.PaymentCaptured {
		d.PaymentCapturedAt = &now
	}
	err := s.store.Atomic(ctx, func(tx repository.Store) error {
		if err := tx.Deliveries().Create(ctx, d); err != nil {
			return err
		}
		return tx.Deliveries().AddEvent(ctx, &models.DeliveryEvent{
			DeliveryID: d.ID, ToStatus: domain.DeliveryPending, ActorID: in.ClientID, ActorRole: domain.RoleClient, CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DeliveryService) Get(ctx context.Context, id string) (*models.Delivery, error) {
	return s.store.Deliveries().GetByID(ctx, id)
}

func (s *DeliveryService) History(ctx context.Context, id string) ([]models.DeliveryEvent, error) {
	return s.store.Deliveries().ListEvents(ctx, id)
}

// Accept assigns the delivery to an eligible deliverer and issues its validation code.
func (s *DeliveryService) Accept(ctx context.Context, deliveryID, delivererID string) (*models.Delivery, string, error) {
	var (
		d    *models.Delivery
		code string
	)
	err := withRetry(ctx, s.retry, func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			// The user row lock serializes concurrent accepts by the same deliverer.
			u, err := tx.Users().GetForUpdate(ctx, delivererID)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: unknown user", domain.ErrNotEligible)
			}
			if err != nil {
				return err
			}
			if !u.IsDeliverer() || !u.IsApproved() {
				return fmt.Errorf("%w: role %s, approval %s", domain.ErrNotEligible, u.Role, u.ApprovalStatus)
			}
			cur, err := tx.Deliveries().GetForUpdate(ctx, deliveryID)
			if err != nil {
				return err
			}
			if !domain.CanTransition(cur.Status, domain.DeliveryAccepted) {
				return &domain.TransitionError{From: cur.Status, To: domain.DeliveryAccepted}
			}
			if cur.ClientID == delivererID {
				return fmt.Errorf("%w: cannot deliver own request", domain.ErrNotEligible)
			}
			active, err := tx.Deliveries().CountActiveByDeliverer(ctx, delivererID)
			if err != nil {
				return err
			}
			if active >= int64(s.cfg.MaxActivePerDeliverer) {
				return fmt.Errorf("%w: already holds %d active deliveries", domain.ErrNotEligible, active)
			}
			c, err := s.newCode()
			if err != nil {
				return err
			}
			now := s.now()
			cur.DelivererID = &delivererID
			cur.ValidationCode = &c
			cur.CodeIssuedAt = &now
			cur.FailedCodeAttempts = 0
			if err := s.transition(ctx, tx, cur, domain.DeliveryAccepted, Actor{ID: delivererID, Role: domain.RoleDeliverer}, ""); err != nil {
				return err
			}
			d, code = cur, c
			return nil
		})
	})
	if err != nil {
		return nil, "", err
	}
	s.log.Info("delivery accepted", zap.String("delivery_id", d.ID), zap.String("deliverer_id", delivererID))
	s.notifier.Notify(ctx, d.ClientID, domain.EventDeliveryAccepted, "Delivery accepted",
		"A deliverer accepted your delivery. Give them your validation code at handover.",
		map[string]interface{}{"delivery_id": d.ID, "validation_code": code})
	return d, code, nil
}

// Advance moves the delivery to status `to`. DELIVERED requires the validation code.
// ACCEPTED, CANCELLED and DISPUTED are routed to their dedicated operations.
func (s *DeliveryService) Advance(ctx context.Context, deliveryID string, actor Actor, to domain.DeliveryStatus, code string) (*models.Delivery, error) {
	switch to {
	case domain.DeliveryAccepted:
		d, _, err := s.Accept(ctx, deliveryID, actor.ID)
		return d, err
	case domain.DeliveryCancelled:
		return s.Cancel(ctx, deliveryID, actor, "")
	case domain.DeliveryDisputed:
		return s.Dispute(ctx, deliveryID, actor, "")
	case domain.DeliveryPickedUp, domain.DeliveryInTransit, domain.DeliveryDelivered:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, to)
	}

	var (
		d       *models.Delivery
		verdict error
	)
	err := withRetry(ctx, s.retry, func() error {
		verdict = nil
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			cur, err := tx.Deliveries().GetForUpdate(ctx, deliveryID)
			if err != nil {
				return err
			}
			if to == domain.DeliveryDelivered && cur.Status.IsTerminal() {
				return fmt.Errorf("delivery is %s: %w", cur.Status, domain.ErrAlreadyValidated)
			}
			if !domain.CanTransition(cur.Status, to) {
				return &domain.TransitionError{From: cur.Status, To: to}
			}
			if !cur.IsDeliverer(actor.ID) {
				return fmt.Errorf("%w: only the assigned deliverer can move the delivery to %s", domain.ErrForbidden, to)
			}
			if to == domain.DeliveryDelivered {
				ok, err := s.checkCode(ctx, tx, cur, code)
				if err != nil {
					return err
				}
				if !ok {
					// The failed attempt must persist, so the verdict is returned after commit.
					verdict = &domain.CodeError{Remaining: s.cfg.MaxCodeAttempts - cur.FailedCodeAttempts}
					d = cur
					return nil
				}
			}
			if err := s.transition(ctx, tx, cur, to, actor, ""); err != nil {
				return err
			}
			if to == domain.DeliveryDelivered {
				if err := s.queueSettlement(ctx, tx, cur); err != nil {
					return err
				}
			}
			d = cur
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrCodeLocked) {
			metrics.RecordCodeVerification("locked")
		}
		return nil, err
	}
	if verdict != nil {
		metrics.RecordCodeVerification("invalid")
		s.log.Warn("wrong validation code", zap.String("delivery_id", d.ID), zap.Int("failed_attempts", d.FailedCodeAttempts))
		return nil, verdict
	}
	if to == domain.DeliveryDelivered {
		metrics.RecordCodeVerification("ok")
	}
	s.afterTransition(ctx, d)
	if to == domain.DeliveryDelivered && s.onDelivered != nil {
		s.onDelivered(d.ID)
	}
	return d, nil
}

// checkCode verifies the submitted code. A wrong code bumps and persists the
// failure counter; once the limit is reached every attempt is refused.
func (s *DeliveryService) checkCode(ctx context.Context, tx repository.Store, d *models.Delivery, code string) (bool, error) {
	if d.FailedCodeAttempts >= s.cfg.MaxCodeAttempts {
		return false, domain.ErrCodeLocked
	}
	if d.ValidationCode != nil && validationcode.Verify(*d.ValidationCode, strings.TrimSpace(code)) {
		return true, nil
	}
	d.FailedCodeAttempts++
	if err := tx.Deliveries().Update(ctx, d); err != nil {
		return false, err
	}
	return false, nil
}

// Cancel is open to the client and admins from any state before DELIVERED.
// A captured payment is refunded to the client's wallet, referenced by delivery id.
func (s *DeliveryService) Cancel(ctx context.Context, deliveryID string, actor Actor, reason string) (*models.Delivery, error) {
	snapshot, err := s.store.Deliveries().GetByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	var clientWallet *models.Wallet
	if snapshot.PaymentCaptured() {
		if clientWallet, err = s.wallets.EnsureWallet(ctx, snapshot.ClientID, snapshot.Currency); err != nil {
			return nil, err
		}
	}

	var d *models.Delivery
	refunded := false
	err = withRetry(ctx, s.retry, func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			cur, err := tx.Deliveries().GetForUpdate(ctx, deliveryID)
			if err != nil {
				return err
			}
			if !domain.CanTransition(cur.Status, domain.DeliveryCancelled) {
				return &domain.TransitionError{From: cur.Status, To: domain.DeliveryCancelled}
			}
			if cur.ClientID != actor.ID && !actor.IsAdmin() {
				return fmt.Errorf("%w: only the client or an admin can cancel", domain.ErrForbidden)
			}
			now := s.now()
			cur.CancelledAt = &now
			cur.CancelReason = reason
			if err := s.transition(ctx, tx, cur, domain.DeliveryCancelled, actor, reason); err != nil {
				return err
			}
			if cur.PaymentCaptured() && clientWallet != nil {
				_, dup, err := s.wallets.applyCredit(ctx, tx, Entry{
					WalletID:    clientWallet.ID,
					Amount:      cur.Price,
					Type:        domain.TxRefund,
					Reference:   cur.ID,
					Description: "Delivery cancelled",
				})
				if err != nil {
					return err
				}
				refunded = !dup
			}
			d = cur
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, d)
	if refunded {
		s.notifier.Notify(ctx, d.ClientID, domain.EventRefundCredited, "Refund issued",
			fmt.Sprintf("%s %s was returned to your wallet.", d.Price.StringFixed(2), d.Currency),
			map[string]interface{}{"delivery_id": d.ID})
	}
	return d, nil
}

// Dispute freezes settlement for the delivery until ResolveDispute is called.
// A DELIVERED delivery can be disputed only while it is unpaid.
func (s *DeliveryService) Dispute(ctx context.Context, deliveryID string, actor Actor, reason string) (*models.Delivery, error) {
	var d *models.Delivery
	err := withRetry(ctx, s.retry, func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			cur, err := tx.Deliveries().GetForUpdate(ctx, deliveryID)
			if err != nil {
				return err
			}
			if !domain.CanTransition(cur.Status, domain.DeliveryDisputed) || cur.PaidAt != nil {
				return &domain.TransitionError{From: cur.Status, To: domain.DeliveryDisputed}
			}
			if cur.ClientID != actor.ID && !cur.IsDeliverer(actor.ID) && !actor.IsAdmin() {
				return fmt.Errorf("%w: not a party to this delivery", domain.ErrForbidden)
			}
			now := s.now()
			cur.DisputedAt = &now
			cur.DisputeReason = reason
			if err := s.transition(ctx, tx, cur, domain.DeliveryDisputed, actor, reason); err != nil {
				return err
			}
			req, err := tx.Settlements().GetByDeliveryID(ctx, cur.ID)
			if errors.Is(err, domain.ErrNotFound) {
				d = cur
				return nil
			}
			if err != nil {
				return err
			}
			if req.Status == domain.SettlementPending {
				req.Status = domain.SettlementHeld
				if err := tx.Settlements().Update(ctx, req); err != nil {
					return err
				}
			}
			d = cur
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, d)
	return d, nil
}

// ResolveDispute records the dispute-resolution verdict. RELEASE queues (or un-holds)
// the deliverer's settlement; REFUND refunds a captured payment and drops settlement.
// The delivery stays DISPUTED. Repeating the same verdict is a no-op.
func (s *DeliveryService) ResolveDispute(ctx context.Context, actor Actor, deliveryID, resolution string) (*models.Delivery, error) {
	if resolution != domain.DisputeRelease && resolution != domain.DisputeRefund {
		return nil, fmt.Errorf("%w: resolution must be RELEASE or REFUND", domain.ErrInvalidInput)
	}
	snapshot, err := s.store.Deliveries().GetByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	var clientWallet *models.Wallet
	if resolution == domain.DisputeRefund && snapshot.PaymentCaptured() {
		if clientWallet, err = s.wallets.EnsureWallet(ctx, snapshot.ClientID, snapshot.Currency); err != nil {
			return nil, err
		}
	}

	var (
		d       *models.Delivery
		changed bool
	)
	err = withRetry(ctx, s.retry, func() error {
		changed = false
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			cur, err := tx.Deliveries().GetForUpdate(ctx, deliveryID)
			if err != nil {
				return err
			}
			d = cur
			if cur.Status != domain.DeliveryDisputed {
				return &domain.TransitionError{From: cur.Status, To: domain.DeliveryDisputed}
			}
			if cur.DisputeResolution == resolution {
				return nil
			}
			if cur.DisputeResolution != "" {
				return fmt.Errorf("%w: dispute already resolved as %s", domain.ErrInvalidTransition, cur.DisputeResolution)
			}
			cur.DisputeResolution = resolution
			if err := tx.Deliveries().Update(ctx, cur); err != nil {
				return err
			}
			if err := tx.Deliveries().AddEvent(ctx, &models.DeliveryEvent{
				DeliveryID: cur.ID, FromStatus: cur.Status, ToStatus: cur.Status,
				ActorID: actor.ID, ActorRole: actor.Role, Note: "dispute resolved: " + resolution, CreatedAt: s.now(),
			}); err != nil {
				return err
			}
			switch resolution {
			case domain.DisputeRelease:
				err = s.releaseSettlement(ctx, tx, cur)
			case domain.DisputeRefund:
				err = s.refundDispute(ctx, tx, cur, clientWallet)
			}
			if err != nil {
				return err
			}
			changed = true
			return writeAudit(ctx, tx, actor.ID, "dispute.resolve", "delivery", cur.ID,
				map[string]interface{}{"resolution": resolution})
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.Info("dispute resolved", zap.String("delivery_id", d.ID), zap.String("resolution", resolution))
		s.afterTransition(ctx, d)
		if resolution == domain.DisputeRelease && s.onDelivered != nil {
			s.onDelivered(d.ID)
		}
	}
	return d, nil
}

func (s *DeliveryService) releaseSettlement(ctx context.Context, tx repository.Store, d *models.Delivery) error {
	if d.DelivererID == nil {
		return fmt.Errorf("%w: no deliverer to release funds to", domain.ErrInvalidTransition)
	}
	req, err := tx.Settlements().GetByDeliveryID(ctx, d.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.queueSettlement(ctx, tx, d)
	}
	if err != nil {
		return err
	}
	if req.Status == domain.SettlementHeld || req.Status == domain.SettlementFailed {
		req.Status = domain.SettlementPending
		req.LastError = ""
		return tx.Settlements().Update(ctx, req)
	}
	return nil
}

func (s *DeliveryService) refundDispute(ctx context.Context, tx repository.Store, d *models.Delivery, clientWallet *models.Wallet) error {
	req, err := tx.Settlements().GetByDeliveryID(ctx, d.ID)
	switch {
	case err == nil:
		if req.Status != domain.SettlementCompleted {
			req.Status = domain.SettlementFailed
			req.LastError = "dispute resolved with refund"
			if err := tx.Settlements().Update(ctx, req); err != nil {
				return err
			}
		}
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}
	if !d.PaymentCaptured() || clientWallet == nil {
		return nil
	}
	_, _, err = s.wallets.applyCredit(ctx, tx, Entry{
		WalletID:    clientWallet.ID,
		Amount:      d.Price,
		Type:        domain.TxRefund,
		Reference:   d.ID,
		Description: "Dispute refund",
	})
	return err
}

// RegenerateCode replaces the validation code; the previous one stops working at once.
func (s *DeliveryService) RegenerateCode(ctx context.Context, deliveryID string, actor Actor) (string, error) {
	var code, clientID string
	err := withRetry(ctx, s.retry, func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			cur, err := tx.Deliveries().GetForUpdate(ctx, deliveryID)
			if err != nil {
				return err
			}
			if !cur.Status.CarriesCode() {
				return fmt.Errorf("delivery is %s: %w", cur.Status, domain.ErrInvalidTransition)
			}
			if cur.ClientID != actor.ID && !actor.IsAdmin() {
				return fmt.Errorf("%w: only the client or an admin can regenerate the code", domain.ErrForbidden)
			}
			c, err := s.newCode()
			if err != nil {
				return err
			}
			now := s.now()
			cur.ValidationCode = &c
			cur.CodeIssuedAt = &now
			cur.FailedCodeAttempts = 0
			if err := tx.Deliveries().Update(ctx, cur); err != nil {
				return err
			}
			code, clientID = c, cur.ClientID
			return writeAudit(ctx, tx, actor.ID, "delivery.code_regenerate", "delivery", cur.ID, nil)
		})
	})
	if err != nil {
		return "", err
	}
	s.notifier.Notify(ctx, clientID, domain.EventCodeRegenerated, "New validation code",
		"Your previous validation code no longer works.", map[string]interface{}{"delivery_id": deliveryID})
	return code, nil
}

// MarkPaid stamps PaidAt once the deliverer has been credited. Repeated calls keep the first stamp.
func (s *DeliveryService) MarkPaid(ctx context.Context, deliveryID string) (*models.Delivery, error) {
	var d *models.Delivery
	err := withRetry(ctx, s.retry, func() error {
		return s.store.Atomic(ctx, func(tx repository.Store) error {
			cur, err := tx.Deliveries().GetForUpdate(ctx, deliveryID)
			if err != nil {
				return err
			}
			if err := s.markPaidTx(ctx, tx, cur); err != nil {
				return err
			}
			d = cur
			return nil
		})
	})
	return d, err
}

func (s *DeliveryService) markPaidTx(ctx context.Context, tx repository.Store, d *models.Delivery) error {
	if d.PaidAt != nil {
		return nil
	}
	if d.Status != domain.DeliveryDelivered && d.DisputeResolution != domain.DisputeRelease {
		return fmt.Errorf("delivery is %s: %w", d.Status, domain.ErrSettlementFrozen)
	}
	now := s.now()
	d.PaidAt = &now
	return tx.Deliveries().Update(ctx, d)
}

// transition applies the status change with its timestamp, persists the row and appends history.
func (s *DeliveryService) transition(ctx context.Context, tx repository.Store, d *models.Delivery, to domain.DeliveryStatus, actor Actor, note string) error {
	from := d.Status
	now := s.now()
	d.Status = to
	switch to {
	case domain.DeliveryAccepted:
		d.AcceptedAt = &now
	case domain.DeliveryPickedUp:
		d.PickedUpAt = &now
	case domain.DeliveryInTransit:
		d.InTransitAt = &now
	case domain.DeliveryDelivered:
		d.DeliveredAt = &now
	}
	if !to.CarriesCode() {
		// Single use: the code dies with the transition that leaves the active states.
		d.ValidationCode = nil
	}
	if err := tx.Deliveries().Update(ctx, d); err != nil {
		return err
	}
	return tx.Deliveries().AddEvent(ctx, &models.DeliveryEvent{
		DeliveryID: d.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Note:       note,
		CreatedAt:  now,
	})
}

// queueSettlement writes the settlement request in the same transaction as DELIVERED.
func (s *DeliveryService) queueSettlement(ctx context.Context, tx repository.Store, d *models.Delivery) error {
	err := tx.Settlements().Create(ctx, &models.SettlementRequest{
		ID:          uuid.NewString(),
		DeliveryID:  d.ID,
		DelivererID: *d.DelivererID,
		Price:       d.Price,
		Currency:    d.Currency,
		Status:      domain.SettlementPending,
		CreatedAt:   s.now(),
	})
	if errors.Is(err, domain.ErrDuplicateOperation) {
		return nil
	}
	return err
}

func (s *DeliveryService) afterTransition(ctx context.Context, d *models.Delivery) {
	metrics.RecordTransition(string(d.Status))
	event := domain.EventDeliveryStatus
	switch d.Status {
	case domain.DeliveryCancelled:
		event = domain.EventDeliveryCancelled
	case domain.DeliveryDisputed:
		event = domain.EventDeliveryDisputed
	}
	data := map[string]interface{}{"delivery_id": d.ID, "status": d.Status}
	title := "Delivery " + strings.ToLower(strings.ReplaceAll(string(d.Status), "_", " "))
	s.notifier.Notify(ctx, d.ClientID, event, title, "", data)
	if d.DelivererID != nil {
		s.notifier.Notify(ctx, *d.DelivererID, event, title, "", data)
	}
}
