package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/diewo77/invoicing/httpx"
	"github.com/diewo77/invoicing/internal/apperr"
)

// maxProcessorPayload bounds inbound processor event bodies.
const maxProcessorPayload = 65536

// EventReceiver applies verified processor events.
type EventReceiver interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type PaymentHandler struct {
	receiver        EventReceiver
	signatureHeader string
}

// NewPaymentHandler reads the processor signature from signatureHeader
// (Stripe-Signature for Stripe).
func NewPaymentHandler(receiver EventReceiver, signatureHeader string) *PaymentHandler {
	return &PaymentHandler{receiver: receiver, signatureHeader: signatureHeader}
}

// Webhook: POST /payments/webhook. Bad signatures answer 400; other failures
// answer 500 so the processor redelivers.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProcessorPayload))
	if err != nil {
		httpx.Error(w, apperr.Validation("handlers.PaymentWebhook", "payload_too_large"))
		return
	}
	if err := h.receiver.HandleWebhook(r.Context(), payload, r.Header.Get(h.signatureHeader)); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]bool{"received": true})
}
