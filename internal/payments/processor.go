// Package payments opens processor-hosted checkout sessions for invoices and
// reconciles the processor's asynchronous events back into invoice state.
package payments

import (
	"context"

	"github.com/diewo77/invoicing/internal/money"
	"github.com/shopspring/decimal"
)

// Metadata keys carried on checkout sessions and payment intents.
const (
	MetaInvoiceID     = "invoice_id"
	MetaOwnerID       = "owner_id"
	MetaInvoiceNumber = "invoice_number"
)

// EventType is a normalised processor event type.
type EventType string

const (
	EventCheckoutCompleted EventType = "checkout.session.completed"
	EventPaymentSucceeded  EventType = "payment_intent.succeeded"
	EventPaymentFailed     EventType = "payment_intent.payment_failed"
	EventChargeRefunded    EventType = "charge.refunded"
	EventAccountUpdated    EventType = "account.updated"
)

// Event is a verified processor event reduced to what the reconciler reads.
type Event struct {
	ID      string
	Type    EventType
	Payload []byte

	CheckoutSessionID string
	PaymentIntentID   string
	Metadata          map[string]string

	// AmountReceived is set on payment success.
	AmountReceived int64
	// ApplicationFee is the platform fee the processor withheld, when it reports one.
	ApplicationFee int64
	// AmountRefunded is the cumulative refunded amount of the charge.
	AmountRefunded int64
	FullyRefunded  bool
	FailureReason  string
	AccountID      string
}

// CheckoutRequest describes a hosted checkout for one invoice.
type CheckoutRequest struct {
	InvoiceID     uint
	OwnerID       uint
	InvoiceNumber string
	Description   string
	Currency      string
	Amount        int64
	PlatformFee   int64
	// DestinationAccount receives the funds minus the platform fee.
	DestinationAccount string
	CustomerEmail      string
	SuccessURL         string
	CancelURL          string
}

// CheckoutSession is an opened hosted checkout.
type CheckoutSession struct {
	ID  string
	URL string
}

// Account holds a connected account's capability flags.
type Account struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Processor is the payment processor as seen by this package.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	// ParseEvent verifies the signature header before decoding payload.
	ParseEvent(payload []byte, signatureHeader string) (*Event, error)
}

var (
	processorFeeRate  = decimal.RequireFromString("0.029")
	processorFeeFixed = int64(30)
)

// ProcessorFee is the processor's card fee on a received amount:
// 2.9% rounded to a minor unit, plus 30.
func ProcessorFee(received int64) int64 {
	return money.Mul(received, processorFeeRate) + processorFeeFixed
}

// PlatformFee is the platform's cut of amount.
func PlatformFee(amount int64, pct decimal.Decimal) int64 {
	return money.Mul(amount, pct)
}
