package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceStatus represents the status of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusSent    InvoiceStatus = "sent"
	InvoiceStatusViewed  InvoiceStatus = "viewed"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
	InvoiceStatusVoid    InvoiceStatus = "void"
)

// InvoiceStatuses lists every status in lifecycle order.
var InvoiceStatuses = []InvoiceStatus{
	InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusViewed,
	InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusVoid,
}

// Valid reports whether s is a known status.
func (s InvoiceStatus) Valid() bool {
	for _, v := range InvoiceStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsPaid reports whether the status counts towards a client's paid bucket.
func (s InvoiceStatus) IsPaid() bool { return s == InvoiceStatusPaid }

// IsTerminal reports whether no further transition is allowed.
func (s InvoiceStatus) IsTerminal() bool { return s == InvoiceStatusVoid }

// PaymentStatus tracks online payment progress for an invoice.
type PaymentStatus string

const (
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Activity entry types.
const (
	ActivityCreated        = "created"
	ActivityUpdated        = "updated"
	ActivityStatusChanged  = "status_changed"
	ActivityViewed         = "viewed"
	ActivityShared         = "shared"
	ActivityPaymentOpened  = "payment_session_created"
	ActivityPaymentPending = "payment_processing"
	ActivityPaymentPaid    = "payment_received"
	ActivityPaymentFailed  = "payment_failed"
	ActivityRefunded       = "payment_refunded"
)

// LineItem is one billed line. Amount is Quantity × Rate in minor units,
// derived by the totals calculator.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        int64           `json:"rate"`
	Amount      int64           `json:"amount"`
}

// ActivityEntry is one record of the invoice's append-only trail.
type ActivityEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Payment holds online payment state. Stored inline on the invoice row.
type Payment struct {
	Enabled           bool          `gorm:"not null;default:false" json:"enabled"`
	CheckoutSessionID string        `gorm:"size:255;index" json:"checkout_session_id,omitempty"`
	PaymentIntentID   string        `gorm:"size:255;index" json:"payment_intent_id,omitempty"`
	Status            PaymentStatus `gorm:"size:30;not null;default:'unpaid'" json:"status"`
	PaidAt            *time.Time    `json:"paid_at,omitempty"`
	PaidAmount        int64         `gorm:"not null;default:0" json:"paid_amount"`
	PlatformFee       int64         `gorm:"not null;default:0" json:"platform_fee"`
	ProcessorFee      int64         `gorm:"not null;default:0" json:"processor_fee"`
	NetAmount         int64         `gorm:"not null;default:0" json:"net_amount"`
	RefundAmount      int64         `gorm:"not null;default:0" json:"refund_amount"`
	FailureReason     string        `gorm:"size:500" json:"failure_reason,omitempty"`
}

// Share holds the public link state. Stored inline on the invoice row.
type Share struct {
	Token    string     `gorm:"size:64;index" json:"token,omitempty"`
	Enabled  bool       `gorm:"not null;default:false" json:"enabled"`
	ViewedAt *time.Time `json:"viewed_at,omitempty"`
}

// Invoice represents a billing invoice. All money fields are minor units.
// Implements the Ownable interface for ownership-based authorization.
type Invoice struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// OwnerID is nil for guest invoices.
	OwnerID  *uint   `gorm:"index;uniqueIndex:idx_invoices_owner_number,where:deleted_at IS NULL" json:"owner_id,omitempty"`
	ClientID *uint   `gorm:"index" json:"client_id,omitempty"`
	Client   *Client `gorm:"foreignKey:ClientID" json:"-"`

	// Invoice identification
	Number   string `gorm:"size:64;not null;uniqueIndex:idx_invoices_owner_number,where:deleted_at IS NULL" json:"number"`
	Sequence int    `gorm:"not null;default:0;index:idx_invoices_owner_year_seq" json:"sequence"`
	Year     int    `gorm:"not null;index:idx_invoices_owner_year_seq" json:"year"`

	Status   InvoiceStatus `gorm:"size:20;not null;default:'draft';index" json:"status"`
	Currency string        `gorm:"size:3;not null;default:'usd'" json:"currency"`

	IssueDate time.Time  `gorm:"not null" json:"issue_date"`
	DueDate   *time.Time `gorm:"index" json:"due_date,omitempty"`
	Notes     string     `gorm:"type:text" json:"notes,omitempty"`

	Items []LineItem `gorm:"serializer:json;type:text" json:"items"`

	Subtotal     int64           `gorm:"not null;default:0" json:"subtotal"`
	TaxPercent   decimal.Decimal `gorm:"type:decimal(7,4);not null;default:0" json:"tax_percent"`
	TaxAmount    int64           `gorm:"not null;default:0" json:"tax_amount"`
	DiscountFlat int64           `gorm:"not null;default:0" json:"discount_flat"`
	Total        int64           `gorm:"not null;default:0" json:"total"`
	AmountPaid   int64           `gorm:"not null;default:0" json:"amount_paid"`
	BalanceDue   int64           `gorm:"not null;default:0" json:"balance_due"`

	Payment  Payment         `gorm:"embedded;embeddedPrefix:payment_" json:"payment"`
	Share    Share           `gorm:"embedded;embeddedPrefix:share_" json:"share"`
	Activity []ActivityEntry `gorm:"serializer:json;type:text" json:"activity"`
}

// GetOwnerID implements the Ownable interface for authorization.
func (i *Invoice) GetOwnerID() *uint {
	return i.OwnerID
}

// OwnedBy reports whether ownerID owns the invoice. Guest invoices have no owner.
func (i *Invoice) OwnedBy(ownerID uint) bool {
	return i.OwnerID != nil && *i.OwnerID == ownerID
}

// AppendActivity appends an entry to the trail.
func (i *Invoice) AppendActivity(at time.Time, typ string, metadata map[string]string) {
	i.Activity = append(i.Activity, ActivityEntry{Timestamp: at.UTC(), Type: typ, Metadata: metadata})
}

// IsDraft returns true if the invoice is in draft status.
func (i *Invoice) IsDraft() bool {
	return i.Status == InvoiceStatusDraft
}

// CanEdit returns true if line items and adjustments may still change.
func (i *Invoice) CanEdit() bool {
	return !i.Status.IsTerminal() && !i.Payment.Enabled
}
