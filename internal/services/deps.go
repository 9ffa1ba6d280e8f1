// Package services implements the invoice financial lifecycle: totals,
// numbering, the client ledger, the status state machine and client
// management. Side effects that must not block a caller (ledger adjustments,
// webhook fan-out) go through a tasks.Submitter.
package services

import (
	"context"
	"time"

	"github.com/diewo77/invoicing/internal/policy"
	"github.com/diewo77/invoicing/internal/tasks"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Notifier fans an event out to the owner's subscribed webhooks. It must not
// block the caller.
type Notifier interface {
	Notify(ctx context.Context, ownerID uint, event string, data any)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, uint, string, any) {}

// Deps are the collaborators shared by the services.
type Deps struct {
	DB       *gorm.DB
	Gate     *policy.Gate
	Ledger   *LedgerService
	Audit    AuditLogger
	Notifier Notifier
	Tasks    tasks.Submitter
	Mailer   Mailer
	Log      zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) fill() {
	if d.Gate == nil {
		d.Gate = policy.Default()
	}
	if d.Ledger == nil {
		d.Ledger = NewLedgerService(d.DB)
	}
	if d.Audit == nil {
		d.Audit = NewGormAuditLogger(d.DB, d.Log)
	}
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Tasks == nil {
		d.Tasks = tasks.Inline{Log: d.Log}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

func (d *Deps) notify(ctx context.Context, ownerID *uint, event string, data any) {
	if ownerID == nil {
		return
	}
	d.Notifier.Notify(ctx, *ownerID, event, data)
}
