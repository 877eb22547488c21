// Package domain contains the persistence model for subscription plans.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Plan is a purchasable subscription definition. Limits are copied
// onto the subscription at purchase time so later plan edits never
// change what an existing subscription is entitled to.
type Plan struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	Name         string       `json:"name" gorm:"type:text;not null"`
	PriceAmount  int64        `json:"price_amount" gorm:"not null;default:0"`
	ValidityDays int          `json:"validity_days" gorm:"not null;default:30"`
	MaxPickups   int          `json:"max_pickups" gorm:"not null;default:0"`
	KgLimit      float64      `json:"kg_limit" gorm:"not null;default:0"`
	ItemsLimit   int          `json:"items_limit" gorm:"not null;default:0"`
	Active       bool         `json:"active" gorm:"not null"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }
