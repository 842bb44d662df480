package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/talktime/talktime/internal/billing/domain"
	"github.com/talktime/talktime/internal/clock"
	"github.com/talktime/talktime/internal/config"
	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
	"github.com/talktime/talktime/internal/observability/metrics"
	summarydomain "github.com/talktime/talktime/internal/summary/domain"
	videodomain "github.com/talktime/talktime/internal/video/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("sweeper: missing dependencies")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Orders      consultationdomain.Repository
	Coordinator billingdomain.Coordinator
	Summaries   summarydomain.Service
	Video       videodomain.Client
	Billing     *config.BillingConfigHolder
	Locker      *Locker `optional:"true"`
	Config      Config  `optional:"true"`
}

// Sweeper is the enforcement loop: it terminates calls that outran their
// wallet budget and fails orders that never connected. Clients are not
// trusted to hang up.
type Sweeper struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	clock       clock.Clock
	orders      consultationdomain.Repository
	coordinator billingdomain.Coordinator
	summaries   summarydomain.Service
	video       videodomain.Client
	billing     *config.BillingConfigHolder
	locker      *Locker
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Orders == nil ||
		p.Coordinator == nil || p.Summaries == nil || p.Video == nil || p.Billing == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		db:          p.DB,
		log:         p.Log.Named("sweeper"),
		cfg:         p.Config.withDefaults(),
		clock:       p.Clock,
		orders:      p.Orders,
		coordinator: p.Coordinator,
		summaries:   p.Summaries,
		video:       p.Video,
		billing:     p.Billing,
		locker:      p.Locker,
	}, nil
}

func (s *Sweeper) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	err := fn(ctx)
	metrics.ObserveSweepJobDuration(name, s.clock.Now().Sub(start))
	if err != nil {
		s.log.Warn("sweep job failed", zap.String("job", name), zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (s *Sweeper) RunOnce(parent context.Context) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(parent, lockKey, s.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("sweep lock: %w", err)
		}
		if !ok {
			s.log.Debug("sweep lock held elsewhere, skipping run")
			return nil
		}
		defer func() {
			if err := s.locker.Release(parent, lockKey, token); err != nil {
				s.log.Warn("sweep lock release failed", zap.Error(err))
			}
		}()
	}

	var err error
	err = errors.Join(err, s.runJob(parent, "auto_terminate", s.AutoTerminateJob))
	err = errors.Join(err, s.runJob(parent, "fail_initiated", s.FailInitiatedJob))
	err = errors.Join(err, s.runJob(parent, "summaries", s.SummariesJob))
	return err
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// AutoTerminateJob finalizes CONNECTED orders whose elapsed time exceeds the
// wallet-funded budget plus the grace period. Claims are taken in a short
// transaction; each finalize then runs under its own row lock, so a webhook
// racing this job still yields exactly one terminal transition.
func (s *Sweeper) AutoTerminateJob(ctx context.Context) error {
	claimed, err := s.claimExceeded(ctx)
	if err != nil {
		return err
	}

	var errs error
	for _, order := range claimed {
		result, err := s.coordinator.Finalize(ctx, order.ID, billingdomain.ReasonAutoTerminate)
		if err != nil {
			metrics.IncSweepOrder("auto_terminate", "error")
			errs = errors.Join(errs, fmt.Errorf("order %d: %w", order.ID, err))
			continue
		}
		if result.AlreadyFinalized {
			metrics.IncSweepOrder("auto_terminate", "idempotent")
			continue
		}
		metrics.IncSweepOrder("auto_terminate", "terminated")
		s.log.Info("auto-terminated order",
			zap.Int64("order_id", int64(order.ID)),
			zap.Int64("billable_seconds", result.BillableSeconds),
			zap.Float64("cost", result.Cost),
		)
	}
	return errs
}

// claimExceeded takes a batch of over-budget orders and marks the CONNECTED
// ones TERMINATED inside the claim transaction, so clients polling heartbeat
// see the call as over before the billing write lands. Orders already
// TERMINATED by an earlier run that failed to finalize are re-claimed as is.
func (s *Sweeper) claimExceeded(ctx context.Context) ([]consultationdomain.Order, error) {
	now := s.clock.Now()
	grace := s.billing.Get().GracePeriod()

	var claimed []consultationdomain.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = s.orders.ClaimConnectedExceeding(ctx, tx, now, grace, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		for i := range claimed {
			if claimed[i].Status != consultationdomain.OrderStatusConnected {
				continue
			}
			updated, err := s.orders.UpdateStatusGuarded(ctx, tx, claimed[i].ID,
				consultationdomain.OrderStatusConnected, consultationdomain.OrderStatusTerminated, now)
			if err != nil {
				return err
			}
			if updated {
				claimed[i].Status = consultationdomain.OrderStatusTerminated
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// FailInitiatedJob fails INITIATED orders that never reached CONNECTED within
// the configured timeout. No money moved, so there is nothing to bill.
func (s *Sweeper) FailInitiatedJob(ctx context.Context) error {
	now := s.clock.Now()
	cutoff := now.Add(-s.billing.Get().InitiatedTimeout())

	var claimed []consultationdomain.Order
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = s.orders.ClaimInitiatedStale(ctx, tx, cutoff, s.cfg.BatchSize)
		return err
	}); err != nil {
		return err
	}

	var errs error
	for _, order := range claimed {
		callCID, err := s.failInitiated(ctx, order.ID)
		if err != nil {
			metrics.IncSweepOrder("fail_initiated", "error")
			errs = errors.Join(errs, fmt.Errorf("order %d: %w", order.ID, err))
			continue
		}
		if callCID == "" {
			metrics.IncSweepOrder("fail_initiated", "idempotent")
			continue
		}
		metrics.IncSweepOrder("fail_initiated", "failed")
		if endErr := s.video.EndCall(ctx, callCID); endErr != nil {
			s.log.Warn("end call failed for timed-out order",
				zap.Int64("order_id", int64(order.ID)),
				zap.Error(endErr),
			)
		}
	}
	return errs
}

// failInitiated flips one stale order to FAILED. The returned callCID is
// non-empty only when this call performed the transition.
func (s *Sweeper) failInitiated(ctx context.Context, orderID snowflake.ID) (string, error) {
	var callCID string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil || order.Status != consultationdomain.OrderStatusInitiated {
			return nil
		}

		now := s.clock.Now()
		updated, err := s.orders.UpdateStatusGuarded(ctx, tx, order.ID,
			consultationdomain.OrderStatusInitiated, consultationdomain.OrderStatusFailed, now)
		if err != nil {
			return err
		}
		if !updated {
			return nil
		}

		reason := string(consultationdomain.EndReasonTimeout)
		endReason := consultationdomain.EndReasonTimeout
		order.Status = consultationdomain.OrderStatusFailed
		order.FailureReason = &reason
		order.EndReason = &endReason
		order.EndTime = &now
		order.UpdatedAt = now
		if err := s.orders.Save(ctx, tx, order); err != nil {
			return err
		}

		active, err := s.orders.CountActiveByExpert(ctx, tx, order.ExpertID, order.ID)
		if err != nil {
			return err
		}
		if active == 0 {
			if err := s.orders.UpsertPresence(ctx, tx, order.ExpertID, consultationdomain.PresenceFree, now); err != nil {
				return err
			}
		}

		callCID = order.StreamCallCID
		return nil
	})
	return callCID, err
}

// SummariesJob drains the pending summary queue.
func (s *Sweeper) SummariesJob(ctx context.Context) error {
	_, err := s.summaries.ProcessPending(ctx, s.cfg.SummaryBatchSize)
	return err
}
