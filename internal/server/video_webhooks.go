package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/talktime/talktime/internal/billing/domain"
	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
	videodomain "github.com/talktime/talktime/internal/video/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// videoWebhook ingests provider events. Events for unknown or already
// finalized orders are acknowledged with 200 so the provider stops retrying;
// only a bad signature or malformed payload is rejected.
func (s *Server) videoWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, newValidationError("body", "invalid_request", "unreadable body"))
		return
	}

	signature := c.GetHeader(videodomain.SignatureHeader)
	if !videodomain.VerifySignature(s.cfg.Video.WebhookSecret, body, signature) {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var event videodomain.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_request", "malformed event"))
		return
	}

	ctx := c.Request.Context()
	switch event.Type {
	case videodomain.EventParticipantJoined:
		if event.Participant == nil {
			AbortWithError(c, newValidationError("participant", "required", "participant missing"))
			return
		}
		err = s.consultationSvc.RecordJoin(ctx, event.CallCID, event.Participant.User.ID, event.CreatedAt)

	case videodomain.EventParticipantLeft:
		if event.Participant == nil {
			AbortWithError(c, newValidationError("participant", "required", "participant missing"))
			return
		}
		if err = s.consultationSvc.RecordLeave(ctx, event.CallCID, event.Participant.User.ID, event.CreatedAt); err == nil {
			err = s.finalizeByCID(c, event.CallCID)
		}

	case videodomain.EventCallEnded, videodomain.EventSessionEnded:
		err = s.finalizeByCID(c, event.CallCID)

	default:
		// Unknown event types are acknowledged, not rejected.
	}

	if err != nil && !errors.Is(err, consultationdomain.ErrOrderNotFound) {
		s.log.Error("webhook processing failed",
			zap.String("event_type", event.Type),
			zap.String("call_cid", event.CallCID),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) finalizeByCID(c *gin.Context, callCID string) error {
	ctx := c.Request.Context()
	orderID, err := s.consultationSvc.ResolveCallCID(ctx, callCID)
	if err != nil {
		return err
	}
	_, err = s.coordinator.Finalize(ctx, orderID, billingdomain.ReasonWebhook)
	if errors.Is(err, consultationdomain.ErrOrderNotConnected) {
		// The call never reached CONNECTED; nothing to bill.
		return nil
	}
	return err
}
