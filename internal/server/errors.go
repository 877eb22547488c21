package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/freshfold/freshfold/internal/audit/domain"
	invoicedomain "github.com/freshfold/freshfold/internal/invoice/domain"
	subscriptiondomain "github.com/freshfold/freshfold/internal/subscription/domain"
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

// ErrorHandlingMiddleware converts errors collected on the gin context
// into one JSON error response. Handlers never write error bodies
// themselves; they call AbortWithError and return.
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

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, invoicedomain.ErrValidation),
		errors.Is(err, subscriptiondomain.ErrInvalidRequest),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, invoicedomain.ErrInvoiceNotDraft):
		return http.StatusConflict, errorPayload{
			Type:    "invoice_not_draft",
			Message: "invoice is not in draft state",
		}
	case errors.Is(err, invoicedomain.ErrInvoiceAlreadyIssued):
		return http.StatusConflict, errorPayload{
			Type:    "invoice_already_issued",
			Message: "invoice is already issued",
		}
	case errors.Is(err, invoicedomain.ErrInvoiceVoided):
		return http.StatusConflict, errorPayload{
			Type:    "invoice_voided",
			Message: "invoice is voided",
		}
	case errors.Is(err, invoicedomain.ErrAckNotIssued):
		return http.StatusConflict, errorPayload{
			Type:    "ack_not_issued",
			Message: "acknowledgement invoice has not been issued",
		}
	case errors.Is(err, subscriptiondomain.ErrUsageAlreadyCorrected),
		errors.Is(err, subscriptiondomain.ErrUsageAlreadyReversed),
		errors.Is(err, subscriptiondomain.ErrSubscriptionInactive):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, subscriptiondomain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "insufficient_balance",
			Message: "subscription balance is insufficient",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, invoicedomain.ErrOrderNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, subscriptiondomain.ErrUsageNotFound),
		errors.Is(err, subscriptiondomain.ErrPlanNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
