package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProcessor implements Processor with Stripe Checkout and Connect
// destination charges.
type StripeProcessor struct {
	client        *stripe.Client
	webhookSecret string
}

func NewStripeProcessor(secretKey, webhookSecret string) *StripeProcessor {
	return &StripeProcessor{client: stripe.NewClient(secretKey), webhookSecret: webhookSecret}
}

func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	meta := map[string]string{
		MetaInvoiceID:     fmt.Sprint(req.InvoiceID),
		MetaOwnerID:       fmt.Sprint(req.OwnerID),
		MetaInvoiceNumber: req.InvoiceNumber,
	}
	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name:        stripe.String("Invoice " + req.InvoiceNumber),
					Description: stripe.String(req.Description),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(req.PlatformFee),
			TransferData: &stripe.CheckoutSessionCreatePaymentIntentDataTransferDataParams{
				Destination: stripe.String(req.DestinationAccount),
			},
			Metadata: meta,
		},
		Metadata: meta,
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	s, err := p.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (p *StripeProcessor) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	a, err := p.client.V1Accounts.GetByID(ctx, accountID, nil)
	if err != nil {
		return nil, fmt.Errorf("stripe get account %s: %w", accountID, err)
	}
	return &Account{ID: a.ID, ChargesEnabled: a.ChargesEnabled, PayoutsEnabled: a.PayoutsEnabled, DetailsSubmitted: a.DetailsSubmitted}, nil
}

func (p *StripeProcessor) ParseEvent(payload []byte, signatureHeader string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, err
	}
	return normalizeStripeEvent(ev, payload)
}

func normalizeStripeEvent(ev stripe.Event, payload []byte) (*Event, error) {
	out := &Event{ID: ev.ID, Type: EventType(ev.Type), Payload: payload}
	if ev.Data == nil {
		return out, nil
	}
	raw := ev.Data.Raw
	switch out.Type {
	case EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.CheckoutSessionID = s.ID
		out.Metadata = s.Metadata
		if s.PaymentIntent != nil {
			out.PaymentIntentID = s.PaymentIntent.ID
		}
	case EventPaymentSucceeded, EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out.PaymentIntentID = pi.ID
		out.Metadata = pi.Metadata
		out.AmountReceived = pi.AmountReceived
		out.ApplicationFee = pi.ApplicationFeeAmount
		if pi.LastPaymentError != nil {
			out.FailureReason = pi.LastPaymentError.Msg
		}
	case EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		out.Metadata = ch.Metadata
		out.AmountRefunded = ch.AmountRefunded
		out.FullyRefunded = ch.Refunded
		if ch.PaymentIntent != nil {
			out.PaymentIntentID = ch.PaymentIntent.ID
		}
	case EventAccountUpdated:
		var a stripe.Account
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		out.AccountID = a.ID
	}
	return out, nil
}
