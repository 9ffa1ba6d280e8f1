package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/policy"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Transition describes one state machine step. To is the target status; an
// empty To keeps the status and only applies Mutate.
type Transition struct {
	To models.InvoiceStatus
	// From restricts the status change to invoices currently in one of these
	// statuses. Empty means any non-terminal status.
	From []models.InvoiceStatus
	// PaymentFrom skips the whole transition unless the payment status is
	// one of these. Processor events use it to turn redeliveries into no-ops.
	PaymentFrom []models.PaymentStatus
	ActorID     *uint
	Source      string
	// AmountPaid is booked on entering paid; defaults to the invoice total.
	AmountPaid *int64
	// PaymentReceived books the ledger with the received amount instead of
	// moving the total.
	PaymentReceived bool
	// Mutate edits payment, share or activity fields under the same row lock
	// and reports whether it changed anything.
	Mutate func(inv *models.Invoice, now time.Time) bool
}

// TransitionResult reports what Apply did.
type TransitionResult struct {
	Applied       bool
	StatusChanged bool
	From          models.InvoiceStatus
}

// transitionColumns are written by Apply. The row is locked for the read,
// so rewriting the unchanged ones is harmless.
var transitionColumns = []string{
	"status", "amount_paid", "balance_due", "activity", "share_viewed_at",
	"payment_enabled", "payment_checkout_session_id", "payment_payment_intent_id",
	"payment_status", "payment_paid_at", "payment_paid_amount", "payment_platform_fee",
	"payment_processor_fee", "payment_net_amount", "payment_refund_amount", "payment_failure_reason",
}

// ChangeStatus is the explicit status change requested by an owner.
func (s *InvoiceService) ChangeStatus(ctx context.Context, ownerID, id uint, to models.InvoiceStatus) (*models.Invoice, error) {
	if !to.Valid() {
		return nil, apperr.Validation("invoices.ChangeStatus", "invalid_status")
	}
	inv, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Gate.Authorize(ctx, ownerID, policy.ActionUpdate, policy.ResourceInvoice, inv); err != nil {
		return nil, apperr.NotFound("invoices.ChangeStatus", "invoice not found")
	}
	if _, err := s.Apply(ctx, inv, Transition{To: to, ActorID: &ownerID, Source: SourceAPI}); err != nil {
		return nil, err
	}
	return inv, nil
}

// Apply runs t against the stored invoice and refreshes inv with the result.
// The status write is a compare-and-swap on the status read under lock, so a
// repeated transition to the same status is a no-op and moves ledger money
// once. Side effects (audit, ledger, webhooks, mail) follow the commit.
func (s *InvoiceService) Apply(ctx context.Context, inv *models.Invoice, t Transition) (TransitionResult, error) {
	const op = "invoices.Transition"
	if t.To != "" && !t.To.Valid() {
		return TransitionResult{}, apperr.Validation(op, "invalid_status")
	}
	now := s.deps.Now().UTC()
	var res TransitionResult
	var preTotal int64
	err := s.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := lockInvoice(tx, inv.ID)
		if err != nil {
			return err
		}
		*inv = *cur
		if len(t.PaymentFrom) > 0 && !slices.Contains(t.PaymentFrom, cur.Payment.Status) {
			return nil
		}
		res.From, preTotal = cur.Status, cur.Total

		next := *cur
		next.Activity = slices.Clone(cur.Activity)
		changeStatus := t.To != "" && t.To != cur.Status &&
			(len(t.From) == 0 || slices.Contains(t.From, cur.Status))
		if changeStatus {
			if cur.Status.IsTerminal() {
				return apperr.Conflict(op, "void invoices cannot change status")
			}
			next.Status = t.To
			switch {
			case t.To.IsPaid():
				next.AmountPaid = cur.Total
				if t.AmountPaid != nil {
					next.AmountPaid = *t.AmountPaid
				}
				next.BalanceDue = 0
			case cur.Status.IsPaid():
				next.AmountPaid = 0
				next.BalanceDue = cur.Total
			}
			next.AppendActivity(now, models.ActivityStatusChanged, map[string]string{"from": string(cur.Status), "to": string(t.To)})
		}
		mutated := t.Mutate != nil && t.Mutate(&next, now)
		if !changeStatus && !mutated {
			return nil
		}

		q := tx.Model(&next).Where("status = ?", cur.Status).Select(transitionColumns).Updates(&next)
		if q.Error != nil {
			return fmt.Errorf("transition invoice %d: %w", cur.ID, q.Error)
		}
		if q.RowsAffected == 0 {
			return apperr.Conflict(op, "invoice changed concurrently")
		}
		*inv = next
		res.Applied, res.StatusChanged = true, changeStatus
		return nil
	})
	if err != nil || !res.Applied {
		return res, err
	}

	if res.StatusChanged {
		s.afterStatusChange(ctx, inv, res.From, preTotal, t)
	}
	return res, nil
}

func (s *InvoiceService) afterStatusChange(ctx context.Context, inv *models.Invoice, from models.InvoiceStatus, preTotal int64, t Transition) {
	to := inv.Status
	s.deps.Audit.Record(ctx, AuditEntry{ActorID: t.ActorID, Source: t.Source, EntityType: "invoice", EntityID: inv.ID,
		Action: "status_change", Field: "status", OldValue: string(from), NewValue: string(to)})

	clientID := inv.ClientID
	if t.PaymentReceived && !from.IsPaid() && to.IsPaid() {
		received := inv.AmountPaid
		s.deps.Tasks.Submit("ledger.payment_applied", func(ctx context.Context) error {
			return s.deps.Ledger.PaymentApplied(ctx, clientID, preTotal, received)
		})
	} else if from.IsPaid() != to.IsPaid() {
		s.deps.Tasks.Submit("ledger.status_change", func(ctx context.Context) error {
			return s.deps.Ledger.OnStatusChange(ctx, clientID, from, to, preTotal)
		})
	}

	if event, ok := models.StatusEvent(to); ok {
		s.deps.notify(ctx, inv.OwnerID, event, *inv)
	}
	if to == models.InvoiceStatusSent && s.deps.Mailer != nil && clientID != nil {
		snapshot := *inv
		s.deps.Tasks.Submit("mail.invoice", func(ctx context.Context) error {
			var c models.Client
			if err := s.deps.DB.WithContext(ctx).Select("id, email").First(&c, *clientID).Error; err != nil {
				return fmt.Errorf("load client %d: %w", *clientID, err)
			}
			if c.Email == "" {
				return nil
			}
			return s.deps.Mailer.SendInvoice(ctx, &snapshot, c.Email)
		})
	}
}

// SweepOverdue moves every invoice past its due date that is not paid,
// overdue or void to overdue, and returns how many moved.
func (s *InvoiceService) SweepOverdue(ctx context.Context) (int, error) {
	now := s.deps.Now().UTC()
	var ids []uint
	err := s.deps.DB.WithContext(ctx).Model(&models.Invoice{}).
		Where("due_date IS NOT NULL AND due_date < ?", now).
		Where("status NOT IN ?", []string{string(models.InvoiceStatusPaid), string(models.InvoiceStatusOverdue), string(models.InvoiceStatusVoid)}).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("list overdue invoices: %w", err)
	}
	moved := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		inv := &models.Invoice{ID: id}
		res, err := s.Apply(ctx, inv, Transition{
			To:     models.InvoiceStatusOverdue,
			From:   []models.InvoiceStatus{models.InvoiceStatusDraft, models.InvoiceStatusSent, models.InvoiceStatusViewed},
			Source: SourceScheduler,
		})
		if err != nil {
			s.deps.Log.Warn().Err(err).Uint("invoice_id", id).Msg("overdue transition failed")
			continue
		}
		if res.StatusChanged {
			moved++
		}
	}
	return moved, nil
}

// OverdueSweeper runs SweepOverdue on an interval until its context ends.
type OverdueSweeper struct {
	svc      *InvoiceService
	interval time.Duration
	log      zerolog.Logger
}

func NewOverdueSweeper(svc *InvoiceService, interval time.Duration, log zerolog.Logger) *OverdueSweeper {
	return &OverdueSweeper{svc: svc, interval: interval, log: log}
}

// Run sweeps once immediately, then on every tick.
func (w *OverdueSweeper) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		n, err := w.svc.SweepOverdue(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("overdue sweep failed")
		} else if n > 0 {
			w.log.Info().Int("moved", n).Msg("overdue sweep")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
