package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Client represents a customer/client billed by an owner.
// TotalInvoiced and TotalPaid form the incrementally maintained ledger; they
// are only ever changed by atomic increments.
type Client struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// OwnerID is the owner of this client (for multi-tenant isolation)
	OwnerID uint `gorm:"index;not null" json:"owner_id"`

	// Client information
	Name    string `gorm:"size:255;not null" json:"name"`
	Email   string `gorm:"size:255" json:"email,omitempty"`
	Company string `gorm:"size:255" json:"company,omitempty"`

	InvoiceCounter int   `gorm:"not null;default:0" json:"invoice_counter"`
	TotalInvoiced  int64 `gorm:"not null;default:0" json:"total_invoiced"`
	TotalPaid      int64 `gorm:"not null;default:0" json:"total_paid"`
}

// GetOwnerID implements the Ownable interface for authorization.
func (c *Client) GetOwnerID() *uint {
	return &c.OwnerID
}

// Initials returns up to three upper-case initials of the client name, or
// "CL" when the name has no letters.
func (c *Client) Initials() string {
	var b strings.Builder
	for _, word := range strings.Fields(c.Name) {
		for _, r := range word {
			if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
				b.WriteRune(r)
				break
			}
		}
		if b.Len() == 3 {
			break
		}
	}
	if b.Len() == 0 {
		return "CL"
	}
	return strings.ToUpper(b.String())
}
