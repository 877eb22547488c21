// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/freshfold/freshfold/internal/order/domain"
	subscriptiondomain "github.com/freshfold/freshfold/internal/subscription/domain"
	"gorm.io/datatypes"
)

// InvoiceType distinguishes the pickup-time estimate, the
// delivery-time final bill, and the plan-purchase invoice.
type InvoiceType string

const (
	InvoiceTypeAcknowledgement InvoiceType = "ACKNOWLEDGEMENT"
	InvoiceTypeFinal           InvoiceType = "FINAL"
	InvoiceTypeSubscription    InvoiceType = "SUBSCRIPTION"
)

// InvoiceStatus represents invoice lifecycle states. The only legal
// transitions are DRAFT→ISSUED, DRAFT→VOID and ISSUED→VOID; nothing
// ever re-enters DRAFT.
type InvoiceStatus string

const (
	InvoiceStatusDraft  InvoiceStatus = "DRAFT"
	InvoiceStatusIssued InvoiceStatus = "ISSUED"
	InvoiceStatusVoid   InvoiceStatus = "VOID"
)

type OrderMode string

const (
	OrderModeIndividual       OrderMode = "INDIVIDUAL"
	OrderModeSubscriptionOnly OrderMode = "SUBSCRIPTION_ONLY"
	OrderModeBoth             OrderMode = "BOTH"
)

// Invoice is a billing document. Code and IssuedAt stay null while
// DRAFT and are set exactly once at issuance; a VOID invoice keeps its
// code for audit but no longer counts toward balances.
type Invoice struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrderID        *snowflake.ID `json:"order_id" gorm:"index"`
	SubscriptionID *snowflake.ID `json:"subscription_id"`
	InvoiceType    InvoiceType   `json:"invoice_type" gorm:"type:text;not null"`
	Code           *string       `json:"code" gorm:"type:text"`
	Status         InvoiceStatus `json:"status" gorm:"type:text;not null;default:'DRAFT'"`

	SubtotalAmount int64 `json:"subtotal_amount" gorm:"not null;default:0"`
	TaxAmount      int64 `json:"tax_amount" gorm:"not null;default:0"`
	DiscountAmount int64 `json:"discount_amount" gorm:"not null;default:0"`
	TotalAmount    int64 `json:"total_amount" gorm:"not null;default:0"`

	OrderMode              OrderMode                                           `json:"order_mode" gorm:"type:text"`
	SubscriptionUtilized   bool                                                `json:"subscription_utilized" gorm:"not null;default:false"`
	SubscriptionSelections datatypes.JSONSlice[subscriptiondomain.Deduction]   `json:"subscription_selections"`
	SubscriptionUsageKg    float64                                             `json:"subscription_usage_kg" gorm:"not null;default:0"`
	SubscriptionUsageItems int                                                 `json:"subscription_usage_items" gorm:"not null;default:0"`

	PaymentStatus   orderdomain.PaymentStatus `json:"payment_status" gorm:"type:text;not null;default:'PENDING'"`
	PaymentProvider *string                   `json:"payment_provider" gorm:"type:text"`
	AmountPaid      int64                     `json:"amount_paid" gorm:"not null;default:0"`

	Comments         string         `json:"comments" gorm:"type:text"`
	BrandingSnapshot datatypes.JSON `json:"branding_snapshot"`

	NewSubscriptionSnapshot      datatypes.JSONSlice[subscriptiondomain.PurchaseItem]     `json:"new_subscription_snapshot"`
	NewSubscriptionFulfilledAt   *time.Time                                               `json:"new_subscription_fulfilled_at"`
	SubscriptionPurchaseSnapshot *datatypes.JSONType[subscriptiondomain.PurchaseSnapshot] `json:"subscription_purchase_snapshot"`

	PDFURL    *string    `json:"pdf_url" gorm:"type:text"`
	IssuedAt  *time.Time `json:"issued_at"`
	VoidedAt  *time.Time `json:"voided_at"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem represents a line on an invoice. Catalog references are
// resolved by the caller; the core never looks up prices itself.
type InvoiceItem struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	InvoiceID     snowflake.ID  `json:"invoice_id" gorm:"not null;index"`
	ItemType      string        `json:"item_type" gorm:"type:text;not null"`
	Name          string        `json:"name" gorm:"type:text;not null"`
	Quantity      int64         `json:"quantity" gorm:"not null;default:1"`
	UnitPrice     int64         `json:"unit_price" gorm:"not null;default:0"`
	Amount        int64         `json:"amount" gorm:"not null;default:0"`
	CatalogItemID *snowflake.ID `json:"catalog_item_id"`
	SegmentID     *snowflake.ID `json:"segment_id"`
	ServiceID     *snowflake.ID `json:"service_id"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }
