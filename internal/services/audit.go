package services

import (
	"context"

	"github.com/diewo77/invoicing/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Audit sources.
const (
	SourceAPI       = "api"
	SourcePublic    = "public"
	SourceProcessor = "processor"
	SourceScheduler = "scheduler"
)

// AuditEntry describes one state mutation.
type AuditEntry struct {
	ActorID    *uint
	Source     string
	EntityType string
	EntityID   uint
	Action     string
	Field      string
	OldValue   string
	NewValue   string
}

// AuditLogger is called after every state mutation. Failures are logged by
// the implementation and never reach the caller.
type AuditLogger interface {
	Record(ctx context.Context, e AuditEntry)
}

// GormAuditLogger stores audit entries in the audit_logs table.
type GormAuditLogger struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewGormAuditLogger(db *gorm.DB, log zerolog.Logger) *GormAuditLogger {
	return &GormAuditLogger{db: db, log: log}
}

func (a *GormAuditLogger) Record(ctx context.Context, e AuditEntry) {
	row := models.AuditLog{
		ActorID:    e.ActorID,
		Source:     e.Source,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		Field:      e.Field,
		OldValue:   e.OldValue,
		NewValue:   e.NewValue,
	}
	if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
		a.log.Warn().Err(err).Str("entity", e.EntityType).Uint("entity_id", e.EntityID).Str("action", e.Action).Msg("audit write failed")
	}
}
