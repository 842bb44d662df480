package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/talktime/talktime/internal/billing/domain"
	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
	paymentdomain "github.com/talktime/talktime/internal/payment/domain"
	videodomain "github.com/talktime/talktime/internal/video/domain"
	walletdomain "github.com/talktime/talktime/internal/wallet/domain"
	"github.com/talktime/talktime/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return vErr
	}
	return nil
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, consultationdomain.ErrInvalidUserID),
		errors.Is(err, consultationdomain.ErrInvalidExpertID),
		errors.Is(err, consultationdomain.ErrInvalidOrderID),
		errors.Is(err, consultationdomain.ErrInvalidConsultationType),
		errors.Is(err, consultationdomain.ErrInvalidRate),
		errors.Is(err, consultationdomain.ErrInvalidParticipant),
		errors.Is(err, consultationdomain.ErrInsufficientBalance),
		errors.Is(err, walletdomain.ErrInvalidAmount),
		errors.Is(err, walletdomain.ErrInvalidCurrency),
		errors.Is(err, walletdomain.ErrInvalidTransactionType),
		errors.Is(err, walletdomain.ErrInvalidOrderID),
		errors.Is(err, walletdomain.ErrInsufficientBalance),
		errors.Is(err, walletdomain.ErrAmountBelowMinimum),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, walletdomain.ErrPaymentNotVerified):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, consultationdomain.ErrOrderNotFound),
		errors.Is(err, walletdomain.ErrWalletNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, consultationdomain.ErrExpertUnavailable),
		errors.Is(err, consultationdomain.ErrOrderTerminal),
		errors.Is(err, consultationdomain.ErrInvalidTransition),
		errors.Is(err, consultationdomain.ErrOrderNotConnected),
		errors.Is(err, walletdomain.ErrDuplicateDeduction),
		errors.Is(err, billingdomain.ErrFinalizeConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, consultationdomain.ErrCallSetupFailed),
		errors.Is(err, videodomain.ErrCallCreateFailed),
		errors.Is(err, videodomain.ErrCallEndFailed),
		errors.Is(err, paymentdomain.ErrGatewayUnavailable),
		errors.Is(err, paymentdomain.ErrOrderCreateFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
