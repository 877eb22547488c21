package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/freshfold/freshfold/internal/order/domain"
	subscriptiondomain "github.com/freshfold/freshfold/internal/subscription/domain"
	"github.com/freshfold/freshfold/pkg/db/pagination"
	"gorm.io/datatypes"
)

type DraftItem struct {
	ItemType      string        `json:"item_type"`
	Name          string        `json:"name"`
	Quantity      int64         `json:"quantity"`
	UnitPrice     int64         `json:"unit_price"`
	Amount        int64         `json:"amount"`
	CatalogItemID *snowflake.ID `json:"catalog_item_id"`
	SegmentID     *snowflake.ID `json:"segment_id"`
	ServiceID     *snowflake.ID `json:"service_id"`
}

// DraftRequest fully describes a draft body. Re-submitting replaces
// the existing draft's content outright, never merges.
type DraftRequest struct {
	OrderID                snowflake.ID                       `json:"order_id"`
	InvoiceType            InvoiceType                        `json:"invoice_type"`
	Items                  []DraftItem                        `json:"items"`
	TaxAmount              int64                              `json:"tax_amount"`
	DiscountAmount         int64                              `json:"discount_amount"`
	Comments               string                             `json:"comments"`
	OrderMode              OrderMode                          `json:"order_mode"`
	SubscriptionSelections []subscriptiondomain.Deduction     `json:"subscription_selections"`
	SubscriptionUsageKg    float64                            `json:"subscription_usage_kg"`
	SubscriptionUsageItems int                                `json:"subscription_usage_items"`
	BrandingSnapshot       datatypes.JSON                     `json:"branding_snapshot"`
	NewSubscriptions       []subscriptiondomain.PurchaseItem  `json:"new_subscriptions"`
}

type IssueAckRequest struct {
	OrderID           snowflake.ID `json:"order_id"`
	ApplySubscription bool         `json:"apply_subscription"`
	WeightKg          *float64     `json:"weight_kg"`
	ItemsCount        *int         `json:"items_count"`
}

type IssueFinalRequest struct {
	OrderID          snowflake.ID `json:"order_id"`
	ActualWeightKg   *float64     `json:"actual_weight_kg"`
	ActualItemsCount *int         `json:"actual_items_count"`
}

type PaymentUpdate struct {
	Provider   string                    `json:"provider"`
	Status     orderdomain.PaymentStatus `json:"status"`
	AmountPaid int64                     `json:"amount_paid"`
}

type ListInvoiceRequest struct {
	OrderID     *snowflake.ID
	InvoiceType *InvoiceType
	Status      *InvoiceStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Pagination  pagination.Pagination
}

type ListInvoiceResponse struct {
	Invoices []Invoice            `json:"invoices"`
	PageInfo *pagination.PageInfo `json:"page_info,omitempty"`
}

// Service is the invoice drafting engine and issuance state machine.
type Service interface {
	CreateOrReplaceDraft(ctx context.Context, req DraftRequest) (Invoice, error)
	IssueAck(ctx context.Context, req IssueAckRequest) (Invoice, error)
	IssueFinal(ctx context.Context, req IssueFinalRequest) (Invoice, error)
	Void(ctx context.Context, invoiceID snowflake.ID, reason string) (Invoice, error)
	ReverseUsage(ctx context.Context, invoiceID snowflake.ID) error
	PurchaseSubscription(ctx context.Context, req subscriptiondomain.PurchaseRequest) (subscriptiondomain.PurchaseResponse, error)
	UpdateSubscriptionAndPayment(ctx context.Context, invoiceID snowflake.ID, update PaymentUpdate) (Invoice, error)
	CountIssuedOnDate(ctx context.Context, invoiceType InvoiceType, dateKey string) (int64, error)
	RegeneratePDF(ctx context.Context, invoiceID snowflake.ID) (string, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByID(ctx context.Context, id snowflake.ID) (Invoice, error)
	GetItems(ctx context.Context, invoiceID snowflake.ID) ([]InvoiceItem, error)
}

var (
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrInvoiceNotDraft      = errors.New("invoice_not_draft")
	ErrInvoiceAlreadyIssued = errors.New("invoice_already_issued")
	ErrInvoiceVoided        = errors.New("invoice_voided")
	ErrAckNotIssued         = errors.New("ack_not_issued")
	ErrValidation           = errors.New("validation")
	ErrOrderNotFound        = errors.New("order_not_found")
)
