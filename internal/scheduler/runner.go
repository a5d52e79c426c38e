package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/TheRebzu/ecodeli-sub058/internal/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Settler is the work the runner schedules.
type Settler interface {
	RunCycle(ctx context.Context) (*service.CycleResult, error)
	SettleDelivery(ctx context.Context, deliveryID string) (service.ItemResult, error)
}

// SettlementRunner drives settlement from a cron schedule and from DELIVERED
// triggers. Overlapping cron runs in one process are skipped; other processes are
// kept apart by the claim updates in the settlement service.
type SettlementRunner struct {
	settler  Settler
	schedule string
	log      *zap.Logger
	cron     *cron.Cron
	trigger  chan string
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewSettlementRunner(settler Settler, schedule string, log *zap.Logger) *SettlementRunner {
	return &SettlementRunner{
		settler:  settler,
		schedule: schedule,
		log:      log,
		trigger:  make(chan string, 256),
	}
}

// Start registers the cron job and the trigger loop. Stop ends both.
func (r *SettlementRunner) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)
	logger := cronLogger{r.log.Sugar()}
	r.cron = cron.New(cron.WithSeconds(), cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	if _, err := r.cron.AddFunc(r.schedule, func() { r.runCycle(ctx) }); err != nil {
		r.cancel()
		return fmt.Errorf("settlement schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-r.trigger:
				r.settleOne(ctx, id)
			}
		}
	}()
	r.log.Info("settlement scheduler started", zap.String("schedule", r.schedule))
	return nil
}

func (r *SettlementRunner) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Trigger asks for a delivery to be settled soon. It never blocks; when the queue
// is full the next cron cycle picks the delivery up.
func (r *SettlementRunner) Trigger(deliveryID string) {
	select {
	case r.trigger <- deliveryID:
	default:
		r.log.Warn("settlement trigger dropped", zap.String("delivery_id", deliveryID))
	}
}

func (r *SettlementRunner) runCycle(ctx context.Context) {
	if _, err := r.settler.RunCycle(ctx); err != nil {
		r.log.Error("settlement cycle failed", zap.Error(err))
	}
}

func (r *SettlementRunner) settleOne(ctx context.Context, deliveryID string) {
	item, err := r.settler.SettleDelivery(ctx, deliveryID)
	if err != nil {
		r.log.Warn("triggered settlement failed", zap.String("delivery_id", deliveryID), zap.Error(err))
		return
	}
	r.log.Debug("triggered settlement", zap.String("delivery_id", deliveryID), zap.String("outcome", item.Outcome))
}

type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
