// Package domain contains the order surface consumed by the billing
// core. Order lifecycle itself is owned by the surrounding platform;
// the core reads identity/branch for numbering scope and writes the
// payment status through.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "CREATED"
	OrderStatusPickupConfirmed OrderStatus = "PICKUP_CONFIRMED"
	OrderStatusProcessing      OrderStatus = "PROCESSING"
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusCaptured PaymentStatus = "CAPTURED"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Confirmed reports whether money for the order is considered received.
func (s PaymentStatus) Confirmed() bool {
	return s == PaymentStatusCaptured || s == PaymentStatusPaid
}

type Order struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	CustomerID    snowflake.ID  `json:"customer_id" gorm:"not null;index"`
	BranchID      *snowflake.ID `json:"branch_id"`
	Pincode       string        `json:"pincode" gorm:"type:text"`
	OrderType     string        `json:"order_type" gorm:"type:text;not null"`
	Status        OrderStatus   `json:"status" gorm:"type:text;not null"`
	PaymentStatus PaymentStatus `json:"payment_status" gorm:"type:text;not null;default:'PENDING'"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time     `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }
