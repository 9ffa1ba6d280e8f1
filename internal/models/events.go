package models

// Outbound webhook event names.
const (
	EventInvoiceCreated  = "invoice.created"
	EventInvoiceUpdated  = "invoice.updated"
	EventInvoiceDeleted  = "invoice.deleted"
	EventInvoiceSent     = "invoice.sent"
	EventInvoiceViewed   = "invoice.viewed"
	EventInvoicePaid     = "invoice.paid"
	EventInvoiceOverdue  = "invoice.overdue"
	EventClientCreated   = "client.created"
	EventClientUpdated   = "client.updated"
	EventClientDeleted   = "client.deleted"
	EventPaymentReceived = "payment.received"
	EventPaymentFailed   = "payment.failed"
)

// WebhookEvents is the full event taxonomy a webhook may subscribe to.
var WebhookEvents = []string{
	EventInvoiceCreated, EventInvoiceUpdated, EventInvoiceDeleted,
	EventInvoiceSent, EventInvoiceViewed, EventInvoicePaid, EventInvoiceOverdue,
	EventClientCreated, EventClientUpdated, EventClientDeleted,
	EventPaymentReceived, EventPaymentFailed,
}

// StatusEvent returns the event emitted on entering status, if any.
func StatusEvent(s InvoiceStatus) (string, bool) {
	switch s {
	case InvoiceStatusSent:
		return EventInvoiceSent, true
	case InvoiceStatusViewed:
		return EventInvoiceViewed, true
	case InvoiceStatusPaid:
		return EventInvoicePaid, true
	case InvoiceStatusOverdue:
		return EventInvoiceOverdue, true
	}
	return "", false
}
