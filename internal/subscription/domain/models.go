// Package domain contains persistence models for subscriptions and the
// usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Subscription is a purchased plan instance. The total limits are
// captured at purchase so past subscriptions report correct
// utilization even after the plan definition changes.
//
// Running counters (remaining_pickups, used_kg, used_items_count) are
// mutated only through the ledger's deduction and correction paths, or
// an explicit audited admin adjustment.
type Subscription struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	CustomerID        snowflake.ID  `json:"customer_id" gorm:"not null;index"`
	PlanID            snowflake.ID  `json:"plan_id" gorm:"not null"`
	BranchID          *snowflake.ID `json:"branch_id"`
	DeliveryAddressID *snowflake.ID `json:"delivery_address_id"`
	ValidFrom         time.Time     `json:"valid_from" gorm:"not null"`
	ValidTill         time.Time     `json:"valid_till" gorm:"not null"`
	Active            bool          `json:"active" gorm:"not null"`
	RemainingPickups  int           `json:"remaining_pickups" gorm:"not null;default:0"`
	UsedKg            float64       `json:"used_kg" gorm:"not null;default:0"`
	UsedItemsCount    int           `json:"used_items_count" gorm:"not null;default:0"`
	TotalMaxPickups   int           `json:"total_max_pickups" gorm:"not null;default:0"`
	TotalKgLimit      float64       `json:"total_kg_limit" gorm:"not null;default:0"`
	TotalItemsLimit   int           `json:"total_items_limit" gorm:"not null;default:0"`
	CreatedAt         time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time     `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// HasKgLimit reports whether the subscription caps kilograms. A zero
// limit means the plan does not meter weight.
func (s Subscription) HasKgLimit() bool { return s.TotalKgLimit > 0 }

// HasItemsLimit reports whether the subscription caps item count.
func (s Subscription) HasItemsLimit() bool { return s.TotalItemsLimit > 0 }

// SubscriptionUsage is the append-only ledger entry linking one order
// to one subscription deduction. The (order_id, subscription_id)
// unique index makes deduction idempotent; the only mutation after
// creation is the single FINAL-time correction and the explicit
// post-void reversal.
type SubscriptionUsage struct {
	ID                 snowflake.ID  `json:"id" gorm:"primaryKey"`
	SubscriptionID     snowflake.ID  `json:"subscription_id" gorm:"not null;index;uniqueIndex:ux_subscription_usages_order_sub,priority:2"`
	OrderID            snowflake.ID  `json:"order_id" gorm:"not null;uniqueIndex:ux_subscription_usages_order_sub,priority:1"`
	InvoiceID          *snowflake.ID `json:"invoice_id"`
	DeductedPickups    int           `json:"deducted_pickups" gorm:"not null;default:0"`
	DeductedKg         float64       `json:"deducted_kg" gorm:"not null;default:0"`
	DeductedItemsCount int           `json:"deducted_items_count" gorm:"not null;default:0"`
	CorrectedAt        *time.Time    `json:"corrected_at"`
	ReversedAt         *time.Time    `json:"reversed_at"`
	CreatedAt          time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SubscriptionUsage) TableName() string { return "subscription_usages" }
