package models

import (
	"time"

	"gorm.io/gorm"
)

// User is an account owning invoices, clients and webhooks. Credentials live
// with the session issuer; this record only carries what the billing engine
// needs, including the connected payment processor account.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Email     string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name      string         `gorm:"size:255" json:"name,omitempty"`

	// Connected processor account and its capability flags, refreshed from
	// the processor on account update events.
	ProcessorAccountID string `gorm:"size:255;index" json:"processor_account_id,omitempty"`
	ChargesEnabled     bool   `gorm:"not null;default:false" json:"charges_enabled"`
	PayoutsEnabled     bool   `gorm:"not null;default:false" json:"payouts_enabled"`
	DetailsSubmitted   bool   `gorm:"not null;default:false" json:"details_submitted"`
}
