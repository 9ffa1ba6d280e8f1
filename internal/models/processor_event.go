package models

import "time"

// ProcessorEvent journals inbound payment processor events after signature
// verification.
type ProcessorEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"size:20;not null;uniqueIndex:idx_processor_events_provider_event,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"size:191;not null;uniqueIndex:idx_processor_events_provider_event,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"size:100;not null;index" json:"event_type"`
	Payload         string     `gorm:"type:text;not null" json:"-"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
