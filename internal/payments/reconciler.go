package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/services"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const provider = "stripe"

type handlerFunc func(ctx context.Context, ev *Event) error

// Reconciler applies processor events to invoices. Every handler checks the
// invoice's current payment status first, so redelivered and reordered
// events are no-ops.
type Reconciler struct {
	db        *gorm.DB
	processor Processor
	invoices  *services.InvoiceService
	notifier  services.Notifier
	audit     services.AuditLogger
	log       zerolog.Logger
	handlers  map[EventType]handlerFunc
}

func NewReconciler(db *gorm.DB, processor Processor, invoices *services.InvoiceService, notifier services.Notifier, audit services.AuditLogger, log zerolog.Logger) *Reconciler {
	if notifier == nil {
		notifier = services.NopNotifier{}
	}
	r := &Reconciler{db: db, processor: processor, invoices: invoices, notifier: notifier, audit: audit, log: log}
	r.handlers = map[EventType]handlerFunc{
		EventCheckoutCompleted: r.checkoutCompleted,
		EventPaymentSucceeded:  r.paymentSucceeded,
		EventPaymentFailed:     r.paymentFailed,
		EventChargeRefunded:    r.chargeRefunded,
		EventAccountUpdated:    r.accountUpdated,
	}
	return r
}

// HandleWebhook verifies and applies one inbound delivery. Nothing is parsed
// or stored before the signature checks out. Errors other than Signature mean
// the processor should redeliver.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	const op = "payments.HandleWebhook"
	ev, err := r.processor.ParseEvent(payload, signature)
	if err != nil {
		return apperr.Signature(op, err)
	}
	log := r.log.With().Str("event_id", ev.ID).Str("type", string(ev.Type)).Logger()

	journal := models.ProcessorEvent{Provider: provider, ProviderEventID: ev.ID, EventType: string(ev.Type), Payload: string(ev.Payload)}
	ins := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&journal)
	if ins.Error != nil {
		return fmt.Errorf("journal event %s: %w", ev.ID, ins.Error)
	}
	if ins.RowsAffected == 0 {
		if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", provider, ev.ID).First(&journal).Error; err != nil {
			return fmt.Errorf("load journal %s: %w", ev.ID, err)
		}
		if journal.ProcessedAt != nil {
			log.Debug().Msg("duplicate processor event")
			return nil
		}
	}

	h, ok := r.handlers[ev.Type]
	if !ok {
		log.Debug().Msg("ignoring processor event")
		r.finish(ctx, journal.ID, nil)
		return nil
	}
	err = h(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrConflict):
		// Redelivery cannot fix these.
		log.Warn().Err(err).Msg("processor event not applied")
		r.finish(ctx, journal.ID, err)
		return nil
	default:
		log.Error().Err(err).Msg("processor event failed")
		r.finish(ctx, journal.ID, err)
		return err
	}
	r.finish(ctx, journal.ID, nil)
	return nil
}

func (r *Reconciler) finish(ctx context.Context, id uint, handlerErr error) {
	updates := map[string]any{"processing_error": ""}
	if handlerErr != nil {
		updates["processing_error"] = handlerErr.Error()
	}
	if handlerErr == nil || errors.Is(handlerErr, apperr.ErrNotFound) || errors.Is(handlerErr, apperr.ErrConflict) {
		updates["processed_at"] = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Model(&models.ProcessorEvent{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		r.log.Warn().Err(err).Uint("journal_id", id).Msg("update processor event journal")
	}
}

// findInvoice looks the invoice up by the stored processor id, falling back
// to the metadata invoice id when the event outran the session write.
func (r *Reconciler) findInvoice(ctx context.Context, column, value string, meta map[string]string) (*models.Invoice, error) {
	var inv models.Invoice
	if value != "" {
		err := r.db.WithContext(ctx).Where(column+" = ?", value).First(&inv).Error
		if err == nil {
			return &inv, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("find invoice by %s: %w", column, err)
		}
	}
	if raw := meta[MetaInvoiceID]; raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err == nil {
			err = r.db.WithContext(ctx).First(&inv, uint(id)).Error
			if err == nil {
				return &inv, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("find invoice %d: %w", id, err)
			}
		}
	}
	return nil, apperr.NotFound("payments.findInvoice", "invoice not found for processor event")
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, ev *Event) error {
	inv, err := r.findInvoice(ctx, "payment_checkout_session_id", ev.CheckoutSessionID, ev.Metadata)
	if err != nil {
		return err
	}
	_, err = r.invoices.Apply(ctx, inv, services.Transition{
		Source:      services.SourceProcessor,
		PaymentFrom: []models.PaymentStatus{models.PaymentStatusUnpaid, models.PaymentStatusFailed},
		Mutate: func(cur *models.Invoice, now time.Time) bool {
			cur.Payment.Status = models.PaymentStatusProcessing
			cur.Payment.CheckoutSessionID = ev.CheckoutSessionID
			if ev.PaymentIntentID != "" {
				cur.Payment.PaymentIntentID = ev.PaymentIntentID
			}
			cur.AppendActivity(now, models.ActivityPaymentPending, map[string]string{"session_id": ev.CheckoutSessionID})
			return true
		},
	})
	return err
}

func (r *Reconciler) paymentSucceeded(ctx context.Context, ev *Event) error {
	inv, err := r.findInvoice(ctx, "payment_payment_intent_id", ev.PaymentIntentID, ev.Metadata)
	if err != nil {
		return err
	}
	received := ev.AmountReceived
	res, err := r.invoices.Apply(ctx, inv, services.Transition{
		To:              models.InvoiceStatusPaid,
		Source:          services.SourceProcessor,
		PaymentFrom:     []models.PaymentStatus{models.PaymentStatusUnpaid, models.PaymentStatusProcessing, models.PaymentStatusFailed},
		AmountPaid:      &received,
		PaymentReceived: true,
		Mutate: func(cur *models.Invoice, now time.Time) bool {
			processorFee := ProcessorFee(received)
			if cur.Payment.PlatformFee == 0 {
				cur.Payment.PlatformFee = ev.ApplicationFee
			}
			meta := map[string]string{
				"amount":         strconv.FormatInt(received, 10),
				"payment_intent": ev.PaymentIntentID,
			}
			// A manually marked paid invoice keeps its status but the processor amount wins.
			if cur.AmountPaid != 0 && cur.AmountPaid != received {
				meta["replaced_amount_paid"] = strconv.FormatInt(cur.AmountPaid, 10)
			}
			cur.Payment.Status = models.PaymentStatusPaid
			cur.Payment.PaymentIntentID = ev.PaymentIntentID
			cur.Payment.PaidAt = &now
			cur.Payment.PaidAmount = received
			cur.Payment.ProcessorFee = processorFee
			cur.Payment.NetAmount = received - cur.Payment.PlatformFee - processorFee
			cur.Payment.FailureReason = ""
			cur.AmountPaid = received
			cur.BalanceDue = 0
			cur.AppendActivity(now, models.ActivityPaymentPaid, meta)
			return true
		},
	})
	if err != nil || !res.Applied {
		return err
	}
	r.audit.Record(ctx, services.AuditEntry{Source: services.SourceProcessor, EntityType: "invoice", EntityID: inv.ID,
		Action: "payment_received", Field: "amount_paid", NewValue: strconv.FormatInt(received, 10)})
	if inv.OwnerID != nil {
		r.notifier.Notify(ctx, *inv.OwnerID, models.EventPaymentReceived, map[string]any{
			"invoice_id":     inv.ID,
			"invoice_number": inv.Number,
			"amount":         received,
			"currency":       inv.Currency,
			"net_amount":     inv.Payment.NetAmount,
		})
	}
	return nil
}

func (r *Reconciler) paymentFailed(ctx context.Context, ev *Event) error {
	inv, err := r.findInvoice(ctx, "payment_payment_intent_id", ev.PaymentIntentID, ev.Metadata)
	if err != nil {
		return err
	}
	reason := ev.FailureReason
	if reason == "" {
		reason = "payment failed"
	}
	res, err := r.invoices.Apply(ctx, inv, services.Transition{
		Source:      services.SourceProcessor,
		PaymentFrom: []models.PaymentStatus{models.PaymentStatusUnpaid, models.PaymentStatusProcessing, models.PaymentStatusFailed},
		Mutate: func(cur *models.Invoice, now time.Time) bool {
			if cur.Payment.Status == models.PaymentStatusFailed && cur.Payment.FailureReason == reason {
				return false
			}
			cur.Payment.Status = models.PaymentStatusFailed
			cur.Payment.FailureReason = reason
			if cur.Payment.PaymentIntentID == "" {
				cur.Payment.PaymentIntentID = ev.PaymentIntentID
			}
			cur.AppendActivity(now, models.ActivityPaymentFailed, map[string]string{"reason": reason})
			return true
		},
	})
	if err != nil || !res.Applied {
		return err
	}
	r.audit.Record(ctx, services.AuditEntry{Source: services.SourceProcessor, EntityType: "invoice", EntityID: inv.ID,
		Action: "payment_failed", Field: "payment_status", NewValue: string(models.PaymentStatusFailed)})
	if inv.OwnerID != nil {
		r.notifier.Notify(ctx, *inv.OwnerID, models.EventPaymentFailed, map[string]any{
			"invoice_id":     inv.ID,
			"invoice_number": inv.Number,
			"reason":         reason,
		})
	}
	return nil
}

// chargeRefunded applies the charge's cumulative refunded amount. A full
// refund voids the invoice; a partial one lowers amountPaid by the amount
// not yet recorded.
func (r *Reconciler) chargeRefunded(ctx context.Context, ev *Event) error {
	inv, err := r.findInvoice(ctx, "payment_payment_intent_id", ev.PaymentIntentID, ev.Metadata)
	if err != nil {
		return err
	}
	t := services.Transition{
		Source:      services.SourceProcessor,
		PaymentFrom: []models.PaymentStatus{models.PaymentStatusPaid, models.PaymentStatusPartiallyRefunded},
		Mutate: func(cur *models.Invoice, now time.Time) bool {
			delta := ev.AmountRefunded - cur.Payment.RefundAmount
			if delta <= 0 {
				return false
			}
			cur.Payment.RefundAmount = ev.AmountRefunded
			if ev.FullyRefunded {
				cur.Payment.Status = models.PaymentStatusRefunded
				cur.AmountPaid = 0
				cur.BalanceDue = cur.Total
			} else {
				cur.Payment.Status = models.PaymentStatusPartiallyRefunded
				cur.AmountPaid -= delta
				cur.BalanceDue = cur.Total - cur.AmountPaid
			}
			cur.AppendActivity(now, models.ActivityRefunded, map[string]string{
				"refunded": strconv.FormatInt(ev.AmountRefunded, 10),
				"full":     strconv.FormatBool(ev.FullyRefunded),
			})
			return true
		},
	}
	if ev.FullyRefunded {
		t.To = models.InvoiceStatusVoid
	}
	res, err := r.invoices.Apply(ctx, inv, t)
	if err != nil || !res.Applied {
		return err
	}
	r.audit.Record(ctx, services.AuditEntry{Source: services.SourceProcessor, EntityType: "invoice", EntityID: inv.ID,
		Action: "refund", Field: "payment_refund_amount", NewValue: strconv.FormatInt(ev.AmountRefunded, 10)})
	return nil
}

// accountUpdated refreshes the owner's capability flags from the processor
// rather than trusting the event body.
func (r *Reconciler) accountUpdated(ctx context.Context, ev *Event) error {
	if ev.AccountID == "" {
		return apperr.Validation("payments.accountUpdated", "missing account id")
	}
	acct, err := r.processor.GetAccount(ctx, ev.AccountID)
	if err != nil {
		return apperr.External("payments.accountUpdated", err)
	}
	var owner models.User
	if err := r.db.WithContext(ctx).Where("processor_account_id = ?", acct.ID).First(&owner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("payments.accountUpdated", "no owner for account "+acct.ID)
		}
		return fmt.Errorf("find owner for account %s: %w", acct.ID, err)
	}
	err = r.db.WithContext(ctx).Model(&owner).Select("charges_enabled", "payouts_enabled", "details_submitted").
		Updates(&models.User{ChargesEnabled: acct.ChargesEnabled, PayoutsEnabled: acct.PayoutsEnabled, DetailsSubmitted: acct.DetailsSubmitted}).Error
	if err != nil {
		return fmt.Errorf("update owner %d capabilities: %w", owner.ID, err)
	}
	r.audit.Record(ctx, services.AuditEntry{Source: services.SourceProcessor, EntityType: "user", EntityID: owner.ID,
		Action: "account_updated", Field: "charges_enabled", OldValue: strconv.FormatBool(owner.ChargesEnabled), NewValue: strconv.FormatBool(acct.ChargesEnabled)})
	return nil
}
