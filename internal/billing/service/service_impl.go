package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/talktime/talktime/internal/billing/domain"
	"github.com/talktime/talktime/internal/clock"
	"github.com/talktime/talktime/internal/config"
	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
	"github.com/talktime/talktime/internal/observability/metrics"
	summarydomain "github.com/talktime/talktime/internal/summary/domain"
	videodomain "github.com/talktime/talktime/internal/video/domain"
	walletdomain "github.com/talktime/talktime/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// finalizeAttempts bounds the optimistic retry loop. A conflict means another
// trigger is finalizing the same order concurrently, so the retry almost
// always resolves to the idempotent read path.
const finalizeAttempts = 3

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Orders  consultationdomain.Repository
	Wallet  walletdomain.Service
	Summary summarydomain.Service
	Video   videodomain.Client
	Billing *config.BillingConfigHolder
}

type Coordinator struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	orders  consultationdomain.Repository
	wallet  walletdomain.Service
	summary summarydomain.Service
	video   videodomain.Client
	billing *config.BillingConfigHolder
}

func NewCoordinator(p Params) billingdomain.Coordinator {
	return &Coordinator{
		db:      p.DB,
		log:     p.Log.Named("billing.coordinator"),
		clock:   p.Clock,
		orders:  p.Orders,
		wallet:  p.Wallet,
		summary: p.Summary,
		video:   p.Video,
		billing: p.Billing,
	}
}

func (c *Coordinator) Finalize(ctx context.Context, orderID snowflake.ID, reason billingdomain.FinalizeReason) (billingdomain.BillingResult, error) {
	started := c.clock.Now()

	var (
		result  billingdomain.BillingResult
		callCID string
		err     error
	)
	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		result, callCID, err = c.finalizeOnce(ctx, orderID, reason)
		if !errors.Is(err, billingdomain.ErrFinalizeConflict) {
			break
		}
		c.log.Debug("finalize conflict, retrying",
			zap.Int64("order_id", int64(orderID)),
			zap.Int("attempt", attempt),
		)
	}

	metrics.ObserveFinalizeDuration(c.clock.Now().Sub(started))
	switch {
	case err != nil:
		metrics.IncFinalize(string(reason), metrics.FinalizeOutcomeError)
		return billingdomain.BillingResult{}, err
	case !result.Found:
		metrics.IncFinalize(string(reason), metrics.FinalizeOutcomeNotFound)
	case result.AlreadyFinalized:
		metrics.IncFinalize(string(reason), metrics.FinalizeOutcomeIdempotent)
	default:
		metrics.IncFinalize(string(reason), metrics.FinalizeOutcomeCompleted)
	}

	// The winning finalize tears the room down after commit. Failures here
	// are logged only: the money has already moved.
	if callCID != "" {
		if endErr := c.video.EndCall(ctx, callCID); endErr != nil {
			c.log.Warn("end call failed after finalize",
				zap.Int64("order_id", int64(orderID)),
				zap.String("call_cid", callCID),
				zap.Error(endErr),
			)
		}
	}

	return result, nil
}

// finalizeOnce runs one full finalize attempt in a single transaction. The
// returned callCID is non-empty only when this attempt committed the terminal
// transition.
func (c *Coordinator) finalizeOnce(ctx context.Context, orderID snowflake.ID, reason billingdomain.FinalizeReason) (billingdomain.BillingResult, string, error) {
	var (
		result  billingdomain.BillingResult
		callCID string
	)

	err := c.db.Transaction(func(tx *gorm.DB) error {
		order, err := c.orders.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			result = billingdomain.BillingResult{Found: false, OrderID: orderID}
			return nil
		}

		if order.Status.Terminal() {
			result = resultFromOrder(order)
			return nil
		}
		if order.Status != consultationdomain.OrderStatusConnected &&
			order.Status != consultationdomain.OrderStatusTerminated {
			return consultationdomain.ErrOrderNotConnected
		}

		now := c.clock.Now()
		billable, err := c.billableSeconds(ctx, tx, order, now)
		if err != nil {
			return err
		}
		cost := billingdomain.CostFor(billable, order.RatePerMinute)

		var breakdown billingdomain.PayoutBreakdown
		if cost > 0 {
			debit, err := c.wallet.DebitTx(ctx, tx, walletdomain.DebitRequest{
				UserID:   order.UserID,
				ExpertID: order.ExpertID,
				Currency: order.Currency,
				Amount:   cost,
				OrderID:  order.ID,
			})
			if errors.Is(err, walletdomain.ErrDuplicateDeduction) {
				return billingdomain.ErrFinalizeConflict
			}
			if err != nil {
				return err
			}

			breakdown = billingdomain.Calculate(0, cost, debit.RealRatio, order.PlatformFeePercent)
			if breakdown.ExpertEarnings > 0 {
				if err := c.wallet.CreditEarningsTx(ctx, tx, order.ExpertID, order.Currency, breakdown.ExpertEarnings, order.ID); err != nil {
					return err
				}
			}
		}

		updated, err := c.orders.UpdateStatusGuarded(ctx, tx, order.ID, order.Status, consultationdomain.OrderStatusCompleted, now)
		if err != nil {
			return err
		}
		if !updated {
			return billingdomain.ErrFinalizeConflict
		}

		endReason := endReasonFor(reason)
		order.Status = consultationdomain.OrderStatusCompleted
		order.EndTime = &now
		order.DurationSeconds = &billable
		order.Cost = &cost
		order.PlatformFeeAmount = &breakdown.PlatformFee
		order.ExpertEarnings = &breakdown.ExpertEarnings
		order.EndReason = &endReason
		order.UpdatedAt = now
		if err := c.orders.Save(ctx, tx, order); err != nil {
			return err
		}

		for _, role := range []consultationdomain.ParticipantRole{consultationdomain.RoleUser, consultationdomain.RoleExpert} {
			if _, err := c.orders.CloseOpenInterval(ctx, tx, order.ID, role, now); err != nil {
				return err
			}
		}

		if err := c.releasePresence(ctx, tx, order, now); err != nil {
			return err
		}
		if err := c.summary.EnqueueTx(ctx, tx, order.ID); err != nil {
			return err
		}

		result = resultFromOrder(order)
		result.AlreadyFinalized = false
		callCID = order.StreamCallCID
		return nil
	})
	if err != nil {
		return billingdomain.BillingResult{}, "", err
	}
	return result, callCID, nil
}

// billableSeconds prefers the interval-overlap computation and falls back to
// the join-to-now window when no interval rows were recorded.
func (c *Coordinator) billableSeconds(ctx context.Context, tx *gorm.DB, order *consultationdomain.Order, now time.Time) (int64, error) {
	intervals, err := c.orders.ListIntervals(ctx, tx, order.ID)
	if err != nil {
		return 0, err
	}
	if len(intervals) == 0 {
		return billingdomain.FallbackSeconds(order.BothJoinedAt, order.StartTime, now, order.MaxAllowedDuration), nil
	}

	var user, expert []consultationdomain.ParticipantInterval
	for _, iv := range intervals {
		switch iv.Role {
		case consultationdomain.RoleUser:
			user = append(user, iv)
		case consultationdomain.RoleExpert:
			expert = append(expert, iv)
		}
	}
	return billingdomain.OverlapSeconds(user, expert, now, order.MaxAllowedDuration), nil
}

// releasePresence flips the expert back to FREE only when this was their last
// active order, inside the same transaction as the terminal transition.
func (c *Coordinator) releasePresence(ctx context.Context, tx *gorm.DB, order *consultationdomain.Order, now time.Time) error {
	active, err := c.orders.CountActiveByExpert(ctx, tx, order.ExpertID, order.ID)
	if err != nil {
		return err
	}
	if active > 0 {
		return nil
	}
	return c.orders.UpsertPresence(ctx, tx, order.ExpertID, consultationdomain.PresenceFree, now)
}

func resultFromOrder(order *consultationdomain.Order) billingdomain.BillingResult {
	result := billingdomain.BillingResult{
		Found:            true,
		AlreadyFinalized: true,
		OrderID:          order.ID,
		Status:           order.Status,
	}
	if order.DurationSeconds != nil {
		result.BillableSeconds = *order.DurationSeconds
	}
	if order.Cost != nil {
		result.Cost = *order.Cost
	}
	if order.PlatformFeeAmount != nil {
		result.PlatformFee = *order.PlatformFeeAmount
	}
	if order.ExpertEarnings != nil {
		result.ExpertEarnings = *order.ExpertEarnings
	}
	return result
}

func endReasonFor(reason billingdomain.FinalizeReason) consultationdomain.EndReason {
	switch reason {
	case billingdomain.ReasonAutoTerminate:
		return consultationdomain.EndReasonAutoTerminate
	case billingdomain.ReasonCancel:
		return consultationdomain.EndReasonCancel
	default:
		return consultationdomain.EndReasonWebhook
	}
}
