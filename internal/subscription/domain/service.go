package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Deduction describes one subscription's share of an order's usage.
// ACK issuance processes the draft's ordered list of these; any
// failing entry aborts the whole batch.
type Deduction struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	Pickups        int          `json:"pickups"`
	Kg             float64      `json:"kg"`
	Items          int          `json:"items"`
}

type DeductRequest struct {
	SubscriptionID snowflake.ID
	OrderID        snowflake.ID
	InvoiceID      *snowflake.ID
	Pickups        int
	Kg             float64
	Items          int
}

type CorrectUsageRequest struct {
	OrderID        snowflake.ID
	SubscriptionID snowflake.ID
	NewKg          float64
	NewItems       int
}

type PurchaseItem struct {
	PlanID            snowflake.ID `json:"plan_id"`
	ValidityStartDate time.Time    `json:"validity_start_date"`
	QuantityMonths    int          `json:"quantity_months,omitempty"`
}

// PurchaseRequest is consumed by the invoice engine's purchase path,
// which creates the subscription rows through CreateFromPlanTx and the
// pre-issued SUBSCRIPTION invoices in one transaction.
type PurchaseRequest struct {
	CustomerID        snowflake.ID
	BranchID          *snowflake.ID
	DeliveryAddressID *snowflake.ID
	Items             []PurchaseItem
}

type PurchaseResponse struct {
	Subscriptions []Subscription `json:"subscriptions"`
	InvoiceIDs    []snowflake.ID `json:"invoice_ids"`
}

// PurchaseSnapshot freezes what a subscription purchase granted, for
// display on the purchase invoice regardless of later plan edits.
type PurchaseSnapshot struct {
	PlanID     snowflake.ID `json:"plan_id"`
	PlanName   string       `json:"plan_name"`
	ValidTill  time.Time    `json:"valid_till"`
	MaxPickups int          `json:"max_pickups"`
	KgLimit    float64      `json:"kg_limit"`
	ItemsLimit int          `json:"items_limit"`
	Amount     int64        `json:"amount"`
}

type AdjustBalanceRequest struct {
	SubscriptionID   snowflake.ID
	RemainingPickups *int
	UsedKg           *float64
	UsedItemsCount   *int
	Reason           string
}

// Service is the Subscription Ledger: the authoritative source for how
// much of a subscription is left, and the only mutator of its running
// counters.
//
// The Tx variants join an already-open transaction; the invoice
// issuance path composes with them so a deduction and the invoice
// status flip commit or roll back together.
type Service interface {
	Deduct(ctx context.Context, req DeductRequest) (*SubscriptionUsage, error)
	DeductTx(ctx context.Context, tx *gorm.DB, req DeductRequest) (*SubscriptionUsage, error)
	CorrectUsage(ctx context.Context, req CorrectUsageRequest) (*SubscriptionUsage, error)
	CorrectUsageTx(ctx context.Context, tx *gorm.DB, req CorrectUsageRequest) (*SubscriptionUsage, error)
	ReverseUsageTx(ctx context.Context, tx *gorm.DB, orderID, subscriptionID snowflake.ID) (*SubscriptionUsage, error)
	ListUsage(ctx context.Context, subscriptionID snowflake.ID) ([]SubscriptionUsage, error)
	GetByID(ctx context.Context, id snowflake.ID) (Subscription, error)
	ListByCustomer(ctx context.Context, customerID snowflake.ID, activeOnly bool) ([]Subscription, error)
	CreateFromPlanTx(ctx context.Context, tx *gorm.DB, req PurchaseRequest, item PurchaseItem) (*Subscription, *PurchaseSnapshot, error)
	AdjustBalance(ctx context.Context, req AdjustBalanceRequest) (Subscription, error)
	DeactivateExpired(ctx context.Context) (int64, error)
}

var (
	ErrInsufficientBalance   = errors.New("insufficient_balance")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrSubscriptionInactive  = errors.New("subscription_inactive")
	ErrUsageNotFound         = errors.New("usage_not_found")
	ErrUsageAlreadyCorrected = errors.New("usage_already_corrected")
	ErrUsageAlreadyReversed  = errors.New("usage_already_reversed")
	ErrPlanNotFound          = errors.New("plan_not_found")
	ErrInvalidRequest        = errors.New("invalid_request")
)
