package models

import (
	"time"

	"gorm.io/gorm"
)

// MaxDeliveryAttempts bounds the per-webhook delivery history.
const MaxDeliveryAttempts = 10

// Webhook is an owner-registered endpoint receiving event notifications.
type Webhook struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OwnerID uint              `gorm:"index;not null" json:"owner_id"`
	URL     string            `gorm:"size:2048;not null" json:"url"`
	Events  []string          `gorm:"serializer:json;type:text" json:"events"`
	Headers map[string]string `gorm:"serializer:json;type:text" json:"headers,omitempty"`
	Active  bool              `gorm:"not null;default:true;index" json:"active"`

	// Secret signs deliveries. Never serialised; returned once on creation
	// or regeneration.
	Secret string `gorm:"size:128;not null" json:"-"`

	SuccessCount   int64             `gorm:"not null;default:0" json:"success_count"`
	FailureCount   int64             `gorm:"not null;default:0" json:"failure_count"`
	LastDeliveryAt *time.Time        `json:"last_delivery_at,omitempty"`
	Attempts       []DeliveryAttempt `gorm:"serializer:json;type:text" json:"attempts"`
}

// GetOwnerID implements the Ownable interface for authorization.
func (w *Webhook) GetOwnerID() *uint {
	return &w.OwnerID
}

// Subscribes reports whether the webhook wants event.
func (w *Webhook) Subscribes(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// RecordAttempt appends a to the history, evicting the oldest entries beyond
// MaxDeliveryAttempts.
func (w *Webhook) RecordAttempt(a DeliveryAttempt) {
	w.Attempts = append(w.Attempts, a)
	if n := len(w.Attempts); n > MaxDeliveryAttempts {
		w.Attempts = append([]DeliveryAttempt(nil), w.Attempts[n-MaxDeliveryAttempts:]...)
	}
}

// DeliveryAttempt is one outbound delivery result.
type DeliveryAttempt struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}
