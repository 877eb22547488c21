// Package pdf renders invoice documents. The renderer is a pure
// projection of already-committed invoice rows; issuance never blocks
// on it.
package pdf

import (
	"context"
	"io"

	"go.uber.org/fx"
)

type InvoiceLine struct {
	Description string
	Qty         int64
	UnitPrice   string
	Amount      string
}

type InvoiceData struct {
	BusinessName    string
	BusinessAddress string
	BusinessPhone   string

	Code        string
	InvoiceType string
	IssueDate   string

	CustomerName    string
	CustomerAddress string

	Items []InvoiceLine

	Subtotal string
	Tax      string
	Discount string
	Total    string

	AmountPaid    string
	PaymentStatus string

	SubscriptionNote string
	Comments         string
}

type Provider interface {
	GenerateInvoice(ctx context.Context, data InvoiceData) (io.Reader, error)
}

// NoOpProvider skips rendering. Tests use it so issuance flows do not
// depend on font assets.
type NoOpProvider struct{}

func (p *NoOpProvider) GenerateInvoice(ctx context.Context, data InvoiceData) (io.Reader, error) {
	return nil, nil
}

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)
