package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Order, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByCallCID(ctx context.Context, db *gorm.DB, callCID string) (*Order, error)

	// UpdateStatusGuarded flips status only when the row still holds `from`;
	// the returned bool reports whether the row was actually updated.
	UpdateStatusGuarded(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to OrderStatus, now time.Time) (bool, error)
	Save(ctx context.Context, db *gorm.DB, order *Order) error

	AppendInterval(ctx context.Context, db *gorm.DB, interval *ParticipantInterval) error
	CloseOpenInterval(ctx context.Context, db *gorm.DB, orderID snowflake.ID, role ParticipantRole, leftAt time.Time) (bool, error)
	ListIntervals(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]ParticipantInterval, error)

	// Sweep claim queries. Both use FOR UPDATE SKIP LOCKED where the dialect
	// supports it so concurrent sweepers never double-claim.
	ClaimConnectedExceeding(ctx context.Context, db *gorm.DB, now time.Time, grace time.Duration, limit int) ([]Order, error)
	ClaimInitiatedStale(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Order, error)

	CountActiveByExpert(ctx context.Context, db *gorm.DB, expertID snowflake.ID, excludeOrder snowflake.ID) (int64, error)
	GetPresence(ctx context.Context, db *gorm.DB, expertID snowflake.ID) (*ExpertPresence, error)
	UpsertPresence(ctx context.Context, db *gorm.DB, expertID snowflake.ID, status PresenceStatus, now time.Time) error
}
