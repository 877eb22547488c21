package server

import (
	"errors"
	"net/http"
	"testing"

	invoicedomain "github.com/freshfold/freshfold/internal/invoice/domain"
	subscriptiondomain "github.com/freshfold/freshfold/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"validation", invoicedomain.ErrValidation, http.StatusBadRequest, "validation_error"},
		{"invalid request", subscriptiondomain.ErrInvalidRequest, http.StatusBadRequest, "validation_error"},
		{"invoice not found", invoicedomain.ErrInvoiceNotFound, http.StatusNotFound, "not_found"},
		{"order not found", invoicedomain.ErrOrderNotFound, http.StatusNotFound, "not_found"},
		{"not draft", invoicedomain.ErrInvoiceNotDraft, http.StatusConflict, "invoice_not_draft"},
		{"already issued", invoicedomain.ErrInvoiceAlreadyIssued, http.StatusConflict, "invoice_already_issued"},
		{"voided", invoicedomain.ErrInvoiceVoided, http.StatusConflict, "invoice_voided"},
		{"ack not issued", invoicedomain.ErrAckNotIssued, http.StatusConflict, "ack_not_issued"},
		{"already corrected", subscriptiondomain.ErrUsageAlreadyCorrected, http.StatusConflict, "conflict"},
		{"insufficient balance", subscriptiondomain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
		{"unknown", errors.New("kaboom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantType, payload.Type)
		})
	}
}

func TestMapError_FieldValidation(t *testing.T) {
	status, payload := mapError(newValidationError("order_id", "invalid_id", "invalid id"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", payload.Type)
	assert.Len(t, payload.Errors, 1)
	assert.Equal(t, "order_id", payload.Errors[0].Field)
}
