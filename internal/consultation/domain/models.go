// Package domain contains persistence models for consultation orders and
// participant presence.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// OrderStatus represents lifecycle states for a consultation order.
type OrderStatus string

const (
	OrderStatusInitiated  OrderStatus = "INITIATED"
	OrderStatusConnected  OrderStatus = "CONNECTED"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusFailed     OrderStatus = "FAILED"
	OrderStatusCancelled OrderStatus = "CANCELLED"

	// TERMINATED is the transient mark the sweep sets on an over-budget order
	// before its finalize lands; finalize moves it on to COMPLETED.
	OrderStatusTerminated OrderStatus = "TERMINATED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// ConsultationType selects the call medium.
type ConsultationType string

const (
	ConsultationTypeAudio ConsultationType = "audio"
	ConsultationTypeVideo ConsultationType = "video"
	ConsultationTypeChat  ConsultationType = "chat"
)

func (t ConsultationType) Valid() bool {
	switch t {
	case ConsultationTypeAudio, ConsultationTypeVideo, ConsultationTypeChat:
		return true
	default:
		return false
	}
}

// EndReason records which trigger finalized the order.
type EndReason string

const (
	EndReasonWebhook       EndReason = "webhook"
	EndReasonAutoTerminate EndReason = "auto_terminate"
	EndReasonCancel        EndReason = "cancel"
	EndReasonTimeout       EndReason = "initiated_timeout"
)

// Order captures a single consultation booking attempt. Commercial terms are
// fixed at creation; billing outputs are written exactly once on finalization.
type Order struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	UserID   snowflake.ID `gorm:"not null;index"`
	ExpertID snowflake.ID `gorm:"not null;index"`

	Status           OrderStatus      `gorm:"type:text;not null;index"`
	ConsultationType ConsultationType `gorm:"type:text;not null"`

	RatePerMinute      float64 `gorm:"not null"`
	Currency           string  `gorm:"type:text;not null"`
	PlatformFeePercent float64 `gorm:"not null"`

	// MaxAllowedDuration is the wallet-funded budget in seconds, derived once
	// at connect time and fixed for the life of the order.
	MaxAllowedDuration int64 `gorm:""`

	StreamCallCID string `gorm:"column:stream_call_cid;type:text;index"`

	UserJoinedAt   *time.Time `gorm:""`
	ExpertJoinedAt *time.Time `gorm:""`
	BothJoinedAt   *time.Time `gorm:""`
	StartTime      *time.Time `gorm:""`
	EndTime        *time.Time `gorm:""`

	DurationSeconds   *int64     `gorm:""`
	Cost              *float64   `gorm:""`
	PlatformFeeAmount *float64   `gorm:""`
	ExpertEarnings    *float64   `gorm:""`
	EndReason         *EndReason `gorm:"type:text"`
	FailureReason     *string    `gorm:"type:text"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "consultation_orders" }

// ParticipantRole distinguishes the two sides of a call.
type ParticipantRole string

const (
	RoleUser   ParticipantRole = "user"
	RoleExpert ParticipantRole = "expert"
)

// ParticipantInterval is one presence span for one participant. Rows are
// append-only; LeftAt is nil only for the currently-open span.
type ParticipantInterval struct {
	ID       snowflake.ID    `gorm:"primaryKey"`
	OrderID  snowflake.ID    `gorm:"not null;index"`
	Role     ParticipantRole `gorm:"type:text;not null"`
	JoinedAt time.Time       `gorm:"not null"`
	LeftAt   *time.Time      `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ParticipantInterval) TableName() string { return "participant_intervals" }

// PresenceStatus is the expert's coarse availability flag.
type PresenceStatus string

const (
	PresenceFree    PresenceStatus = "FREE"
	PresenceBusy    PresenceStatus = "BUSY"
	PresenceOnline  PresenceStatus = "ONLINE"
	PresenceOffline PresenceStatus = "OFFLINE"
)

// Available reports whether a new consultation may be opened against the
// expert.
func (s PresenceStatus) Available() bool {
	return s == PresenceFree || s == PresenceOnline
}

// ExpertPresence tracks the coarse flag. It flips to BUSY on connect and back
// to FREE on finalize only when no other active order exists for the expert.
type ExpertPresence struct {
	ExpertID  snowflake.ID   `gorm:"primaryKey"`
	Status    PresenceStatus `gorm:"type:text;not null"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ExpertPresence) TableName() string { return "expert_presence" }
