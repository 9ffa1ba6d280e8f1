package payments

import (
	"context"
	"fmt"
	"testing"

	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentEvents(inv *models.Invoice, amount int64) (Event, Event) {
	meta := map[string]string{MetaInvoiceID: fmt.Sprint(inv.ID)}
	completed := Event{ID: "evt_cs", Type: EventCheckoutCompleted, CheckoutSessionID: "cs_test_1", PaymentIntentID: "pi_1", Metadata: meta}
	succeeded := Event{ID: "evt_pi", Type: EventPaymentSucceeded, PaymentIntentID: "pi_1", AmountReceived: amount, Metadata: meta}
	return completed, succeeded
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	err := f.reconciler.HandleWebhook(context.Background(), []byte("{}"), "forged")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrSignature)

	var n int64
	require.NoError(t, f.db.Model(&models.ProcessorEvent{}).Count(&n).Error)
	assert.Zero(t, n, "nothing is journaled before verification")
}

func TestHandleWebhook_PaymentFlowMarksPaid(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 10000)
	_, err := f.sessions.CreateSession(context.Background(), f.owner.ID, inv.ID)
	require.NoError(t, err)

	completed, succeeded := paymentEvents(inv, 10000)
	require.NoError(t, f.deliver(t, completed))
	got := f.reload(t, inv.ID)
	assert.Equal(t, models.PaymentStatusProcessing, got.Payment.Status)
	assert.Equal(t, "pi_1", got.Payment.PaymentIntentID)
	assert.Equal(t, models.InvoiceStatusSent, got.Status)

	require.NoError(t, f.deliver(t, succeeded))
	got = f.reload(t, inv.ID)
	assert.Equal(t, models.InvoiceStatusPaid, got.Status)
	assert.Equal(t, models.PaymentStatusPaid, got.Payment.Status)
	assert.EqualValues(t, 10000, got.AmountPaid)
	assert.EqualValues(t, 0, got.BalanceDue)
	assert.EqualValues(t, 10000, got.Payment.PaidAmount)
	assert.EqualValues(t, 100, got.Payment.PlatformFee)
	assert.EqualValues(t, 320, got.Payment.ProcessorFee)
	assert.EqualValues(t, 10000-100-320, got.Payment.NetAmount)
	require.NotNil(t, got.Payment.PaidAt)

	c := f.reloadClient(t)
	assert.EqualValues(t, 0, c.TotalInvoiced)
	assert.EqualValues(t, 10000, c.TotalPaid)
	assert.Equal(t, 1, f.notifier.count(models.EventPaymentReceived))
	assert.Equal(t, 1, f.notifier.count(models.EventInvoicePaid))
}

func TestHandleWebhook_SuccessBeforeSessionStored(t *testing.T) {
	for name, fee := range map[string]int64{"fee reported": 100, "fee omitted": 0} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			inv := f.invoice(t, 10000)
			_, succeeded := paymentEvents(inv, 10000)
			succeeded.ApplicationFee = fee
			f.processor.onOpen = func(CheckoutRequest) {
				require.NoError(t, f.deliver(t, succeeded))
			}

			_, err := f.sessions.CreateSession(context.Background(), f.owner.ID, inv.ID)
			require.NoError(t, err)

			got := f.reload(t, inv.ID)
			assert.Equal(t, models.InvoiceStatusPaid, got.Status)
			assert.Equal(t, models.PaymentStatusPaid, got.Payment.Status)
			assert.Equal(t, "cs_test_1", got.Payment.CheckoutSessionID)
			assert.EqualValues(t, 100, got.Payment.PlatformFee)
			assert.EqualValues(t, 320, got.Payment.ProcessorFee)
			assert.EqualValues(t, 10000-100-320, got.Payment.NetAmount)
		})
	}
}

func TestHandleWebhook_ProcessorAmountReplacesManualPayment(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 10000)
	_, err := f.invoices.ChangeStatus(context.Background(), f.owner.ID, inv.ID, models.InvoiceStatusPaid)
	require.NoError(t, err)

	_, succeeded := paymentEvents(inv, 9500)
	require.NoError(t, f.deliver(t, succeeded))

	got := f.reload(t, inv.ID)
	assert.Equal(t, models.InvoiceStatusPaid, got.Status)
	assert.EqualValues(t, 9500, got.AmountPaid)
	require.NotEmpty(t, got.Activity)
	last := got.Activity[len(got.Activity)-1]
	assert.Equal(t, models.ActivityPaymentPaid, last.Type)
	assert.Equal(t, "9500", last.Metadata["amount"])
	assert.Equal(t, "10000", last.Metadata["replaced_amount_paid"])
}

func TestHandleWebhook_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 5000)
	_, succeeded := paymentEvents(inv, 5000)

	require.NoError(t, f.deliver(t, succeeded))
	require.NoError(t, f.deliver(t, succeeded))

	// Same payload under a new event id is still a no-op: payment status
	// has moved past the accepted set.
	again := succeeded
	again.ID = "evt_pi_retry"
	require.NoError(t, f.deliver(t, again))

	c := f.reloadClient(t)
	assert.EqualValues(t, 5000, c.TotalPaid)
	assert.EqualValues(t, 0, c.TotalInvoiced)
	assert.Equal(t, 1, f.notifier.count(models.EventPaymentReceived))

	var journal []models.ProcessorEvent
	require.NoError(t, f.db.Order("id").Find(&journal).Error)
	require.Len(t, journal, 2)
	for _, j := range journal {
		assert.NotNil(t, j.ProcessedAt)
		assert.Empty(t, j.ProcessingError)
	}
}

func TestHandleWebhook_FallsBackToMetadata(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 2500)
	_, succeeded := paymentEvents(inv, 2500)
	succeeded.PaymentIntentID = "pi_unknown"

	require.NoError(t, f.deliver(t, succeeded))
	got := f.reload(t, inv.ID)
	assert.Equal(t, models.InvoiceStatusPaid, got.Status)
	assert.Equal(t, "pi_unknown", got.Payment.PaymentIntentID)
}

func TestHandleWebhook_UnknownInvoiceIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	err := f.deliver(t, Event{ID: "evt_orphan", Type: EventPaymentSucceeded, PaymentIntentID: "pi_nope", AmountReceived: 100})
	require.NoError(t, err)

	var j models.ProcessorEvent
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_orphan").First(&j).Error)
	assert.NotNil(t, j.ProcessedAt)
	assert.NotEmpty(t, j.ProcessingError)
}

func TestHandleWebhook_UnhandledTypeIsJournaled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deliver(t, Event{ID: "evt_other", Type: "customer.created"}))

	var j models.ProcessorEvent
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_other").First(&j).Error)
	assert.Equal(t, "customer.created", j.EventType)
	assert.NotNil(t, j.ProcessedAt)
}

func TestHandleWebhook_PaymentFailed(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 4000)
	meta := map[string]string{MetaInvoiceID: fmt.Sprint(inv.ID)}
	failed := Event{ID: "evt_fail", Type: EventPaymentFailed, PaymentIntentID: "pi_f", FailureReason: "card_declined", Metadata: meta}

	require.NoError(t, f.deliver(t, failed))
	got := f.reload(t, inv.ID)
	assert.Equal(t, models.PaymentStatusFailed, got.Payment.Status)
	assert.Equal(t, "card_declined", got.Payment.FailureReason)
	assert.Equal(t, models.InvoiceStatusSent, got.Status)

	again := failed
	again.ID = "evt_fail_2"
	require.NoError(t, f.deliver(t, again))
	assert.Equal(t, 1, f.notifier.count(models.EventPaymentFailed))

	// A later success still lands.
	require.NoError(t, f.deliver(t, Event{ID: "evt_ok", Type: EventPaymentSucceeded, PaymentIntentID: "pi_f", AmountReceived: 4000, Metadata: meta}))
	got = f.reload(t, inv.ID)
	assert.Equal(t, models.InvoiceStatusPaid, got.Status)
	assert.Empty(t, got.Payment.FailureReason)
}

func TestHandleWebhook_PartialThenFullRefund(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, 10000)
	_, succeeded := paymentEvents(inv, 10000)
	require.NoError(t, f.deliver(t, succeeded))

	partial := Event{ID: "evt_r1", Type: EventChargeRefunded, PaymentIntentID: "pi_1", AmountRefunded: 3000}
	require.NoError(t, f.deliver(t, partial))
	got := f.reload(t, inv.ID)
	assert.Equal(t, models.InvoiceStatusPaid, got.Status)
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, got.Payment.Status)
	assert.EqualValues(t, 7000, got.AmountPaid)
	assert.EqualValues(t, 3000, got.BalanceDue)
	assert.EqualValues(t, 3000, got.Payment.RefundAmount)

	// Same cumulative amount again: nothing new to record.
	dup := partial
	dup.ID = "evt_r1_again"
	require.NoError(t, f.deliver(t, dup))
	assert.EqualValues(t, 7000, f.reload(t, inv.ID).AmountPaid)

	full := Event{ID: "evt_r2", Type: EventChargeRefunded, PaymentIntentID: "pi_1", AmountRefunded: 10000, FullyRefunded: true}
	require.NoError(t, f.deliver(t, full))
	got = f.reload(t, inv.ID)
	assert.Equal(t, models.InvoiceStatusVoid, got.Status)
	assert.Equal(t, models.PaymentStatusRefunded, got.Payment.Status)
	assert.EqualValues(t, 0, got.AmountPaid)
	assert.EqualValues(t, got.Total, got.BalanceDue)

	c := f.reloadClient(t)
	assert.EqualValues(t, 0, c.TotalPaid)
	assert.EqualValues(t, 10000, c.TotalInvoiced)
}

func TestHandleWebhook_AccountUpdated(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&f.owner).Select("charges_enabled").Updates(&models.User{ChargesEnabled: false}).Error)
	f.processor.accounts["acct_1"] = &Account{ID: "acct_1", ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true}

	require.NoError(t, f.deliver(t, Event{ID: "evt_acct", Type: EventAccountUpdated, AccountID: "acct_1"}))

	var u models.User
	require.NoError(t, f.db.First(&u, f.owner.ID).Error)
	assert.True(t, u.ChargesEnabled)
	assert.True(t, u.PayoutsEnabled)
	assert.True(t, u.DetailsSubmitted)
}

func TestHandleWebhook_AccountLookupFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	err := f.deliver(t, Event{ID: "evt_acct_missing", Type: EventAccountUpdated, AccountID: "acct_missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrExternal)

	var j models.ProcessorEvent
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_acct_missing").First(&j).Error)
	assert.Nil(t, j.ProcessedAt)

	// The processor redelivers once the account is readable.
	f.processor.accounts["acct_missing"] = &Account{ID: "acct_missing"}
	require.NoError(t, f.db.Model(&f.owner).Update("processor_account_id", "acct_missing").Error)
	require.NoError(t, f.deliver(t, Event{ID: "evt_acct_missing", Type: EventAccountUpdated, AccountID: "acct_missing"}))
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_acct_missing").First(&j).Error)
	assert.NotNil(t, j.ProcessedAt)
}
