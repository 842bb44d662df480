// Package domain holds the billing computation primitives: interval-overlap
// billable time, the payout split, and the finalize contract shared by the
// heartbeat, webhook and sweep triggers.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
)

// FinalizeReason labels which trigger asked for finalization.
type FinalizeReason string

const (
	ReasonWebhook       FinalizeReason = "webhook"
	ReasonAutoTerminate FinalizeReason = "auto_terminate"
	ReasonCancel        FinalizeReason = "cancel"
)

// PayoutBreakdown is the transient fee split for one charge. It is embedded
// into the order and the deduction transaction, never persisted on its own.
type PayoutBreakdown struct {
	EffectiveRealAmount float64
	PlatformFee         float64
	ExpertEarnings      float64
}

// BillingResult is what every finalize caller receives, whether this call did
// the work or a previous one already had.
type BillingResult struct {
	Found            bool
	AlreadyFinalized bool
	OrderID          snowflake.ID
	Status           consultationdomain.OrderStatus
	BillableSeconds  int64
	Cost             float64
	PlatformFee      float64
	ExpertEarnings   float64
}

// Coordinator is the single finalize entry point. It must be safe to invoke
// concurrently for the same order from independent triggers: exactly one
// caller commits the terminal transition and the wallet debit, every other
// caller gets the already-persisted numbers back.
type Coordinator interface {
	Finalize(ctx context.Context, orderID snowflake.ID, reason FinalizeReason) (BillingResult, error)
}

var (
	// ErrFinalizeConflict marks an optimistic-concurrency loss inside the
	// finalize transaction; callers retry with fresh reads.
	ErrFinalizeConflict = errors.New("finalize_conflict")
)
