package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// HeartbeatAdvice tells the polling client whether to keep the call running.
type HeartbeatAdvice string

const (
	AdviceContinue  HeartbeatAdvice = "CONTINUE"
	AdviceTerminate HeartbeatAdvice = "TERMINATE"
)

type CreateOrderRequest struct {
	UserID           string           `json:"user_id"`
	ExpertID         string           `json:"expert_id"`
	ConsultationType ConsultationType `json:"consultation_type"`
	RatePerMinute    float64          `json:"rate_per_minute"`
	Currency         string           `json:"currency"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

// CreateOrderResponse carries no duration budget: the budget is derived from
// the wallet balance at connect time, and clients learn it via heartbeat.
type CreateOrderResponse struct {
	OrderID       string      `json:"order_id"`
	Status        OrderStatus `json:"status"`
	StreamCallCID string      `json:"stream_call_cid"`
}

type HeartbeatRequest struct {
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id"`
}

type HeartbeatResponse struct {
	Advice           HeartbeatAdvice `json:"advice"`
	Status           OrderStatus     `json:"status"`
	RemainingSeconds int64           `json:"remaining_seconds"`
	ElapsedSeconds   int64           `json:"elapsed_seconds"`
}

type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error)
	GetByID(ctx context.Context, userID, orderID string) (Order, error)
	Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error)
	Cancel(ctx context.Context, userID, orderID string) error

	// RecordJoin and RecordLeave ingest participant presence reported by the
	// video platform, matched by call cid.
	RecordJoin(ctx context.Context, callCID, participantID string, at time.Time) error
	RecordLeave(ctx context.Context, callCID, participantID string, at time.Time) error

	// ResolveCallCID maps a provider call cid to its order id.
	ResolveCallCID(ctx context.Context, callCID string) (snowflake.ID, error)
}

var (
	ErrOrderNotFound           = errors.New("order_not_found")
	ErrOrderTerminal           = errors.New("order_terminal")
	ErrOrderNotConnected       = errors.New("order_not_connected")
	ErrInvalidTransition       = errors.New("invalid_transition")
	ErrInvalidConsultationType = errors.New("invalid_consultation_type")
	ErrInvalidRate             = errors.New("invalid_rate")
	ErrInvalidParticipant      = errors.New("invalid_participant")
	ErrInvalidOrderID          = errors.New("invalid_order_id")
	ErrInvalidUserID           = errors.New("invalid_user_id")
	ErrInvalidExpertID         = errors.New("invalid_expert_id")
	ErrExpertUnavailable       = errors.New("expert_unavailable")
	ErrInsufficientBalance     = errors.New("insufficient_balance")
	ErrCallSetupFailed         = errors.New("call_setup_failed")
)
