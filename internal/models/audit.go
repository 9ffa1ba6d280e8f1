package models

import "time"

// AuditLog records one state mutation.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ActorID    *uint     `gorm:"index" json:"actor_id,omitempty"` // nil for system and processor-driven changes
	Source     string    `gorm:"size:30;not null" json:"source"`  // "api", "public", "processor", "scheduler"
	EntityType string    `gorm:"size:30;not null;index:idx_audit_entity" json:"entity_type"`
	EntityID   uint      `gorm:"not null;index:idx_audit_entity" json:"entity_id"`
	Action     string    `gorm:"size:50;not null" json:"action"`
	Field      string    `gorm:"size:50" json:"field,omitempty"`
	OldValue   string    `gorm:"size:255" json:"old_value,omitempty"`
	NewValue   string    `gorm:"size:255" json:"new_value,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
