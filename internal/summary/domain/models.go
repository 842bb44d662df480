// Package domain holds the post-call summary queue. Summaries are written as
// PENDING rows inside the finalize transaction and rendered asynchronously by
// the sweeper, so a summary exists for every completed order even when
// generation fails at finalize time.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
	"gorm.io/gorm"
)

type SummaryStatus string

const (
	SummaryStatusPending   SummaryStatus = "PENDING"
	SummaryStatusCompleted SummaryStatus = "COMPLETED"
	SummaryStatusFailed    SummaryStatus = "FAILED"
)

// maxAttempts bounds retries before a summary is parked as FAILED.
const MaxAttempts = 5

type CallSummary struct {
	ID      snowflake.ID `gorm:"primaryKey"`
	OrderID snowflake.ID `gorm:"not null;uniqueIndex:ux_call_summary_order"`

	Status   SummaryStatus `gorm:"type:text;not null;index"`
	Attempts int           `gorm:"not null;default:0"`
	Body     string        `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CallSummary) TableName() string { return "call_summaries" }

// Generator renders the summary body for a finalized order.
type Generator interface {
	Generate(ctx context.Context, order *consultationdomain.Order) (string, error)
}

type Service interface {
	// EnqueueTx inserts a PENDING summary inside the caller's transaction.
	// Re-enqueueing the same order is a no-op.
	EnqueueTx(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) error

	// ProcessPending renders up to limit queued summaries and reports how many
	// were attempted.
	ProcessPending(ctx context.Context, limit int) (int, error)
}

var ErrSummaryNotFound = errors.New("summary_not_found")
