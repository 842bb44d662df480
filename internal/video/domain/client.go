// Package domain defines the video-platform contract: room lifecycle plus the
// webhook envelope delivered when participants join and leave.
package domain

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

type CreateCallRequest struct {
	CallType string
	OrderID  string
	UserID   string
	ExpertID string
}

type CreateCallResponse struct {
	CallCID string
}

type Client interface {
	CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResponse, error)

	// EndCall is best-effort teardown; callers log and swallow failures so the
	// billing outcome is never blocked on the provider.
	EndCall(ctx context.Context, callCID string) error
}

// Webhook event types delivered by the provider.
const (
	EventParticipantJoined = "call.session_participant_joined"
	EventParticipantLeft   = "call.session_participant_left"
	EventCallEnded         = "call.ended"
	EventSessionEnded      = "call.session_ended"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Signature"

type WebhookUser struct {
	ID string `json:"id"`
}

type WebhookParticipant struct {
	User WebhookUser `json:"user"`
}

// WebhookEvent is the typed envelope; unknown event types are ignored by the
// handler rather than rejected.
type WebhookEvent struct {
	Type        string              `json:"type"`
	CallCID     string              `json:"call_cid"`
	CreatedAt   time.Time           `json:"created_at"`
	Participant *WebhookParticipant `json:"participant,omitempty"`
}

// VerifySignature checks the webhook body against the shared secret before
// any event is trusted.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

var (
	ErrCallCreateFailed = errors.New("call_create_failed")
	ErrCallEndFailed    = errors.New("call_end_failed")
)
