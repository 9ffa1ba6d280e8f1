package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/money"
	"github.com/rs/zerolog"
)

// InvoiceRenderer turns an invoice into a document (PDF, HTML, text).
type InvoiceRenderer interface {
	Render(ctx context.Context, inv *models.Invoice, w io.Writer) error
}

// Mailer delivers an invoice to a recipient.
type Mailer interface {
	SendInvoice(ctx context.Context, inv *models.Invoice, to string) error
}

// TextRenderer renders a plain-text invoice.
type TextRenderer struct{}

func (TextRenderer) Render(_ context.Context, inv *models.Invoice, w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Invoice %s\n", inv.Number)
	fmt.Fprintf(&b, "Issued %s", inv.IssueDate.Format("2006-01-02"))
	if inv.DueDate != nil {
		fmt.Fprintf(&b, ", due %s", inv.DueDate.Format("2006-01-02"))
	}
	b.WriteString("\n\n")
	for _, it := range inv.Items {
		fmt.Fprintf(&b, "%-40s %8s x %12s = %12s\n", it.Description, it.Quantity.String(),
			money.Format(it.Rate, inv.Currency), money.Format(it.Amount, inv.Currency))
	}
	fmt.Fprintf(&b, "\nSubtotal %s\n", money.Format(inv.Subtotal, inv.Currency))
	fmt.Fprintf(&b, "Tax (%s%%) %s\n", inv.TaxPercent.String(), money.Format(inv.TaxAmount, inv.Currency))
	if inv.DiscountFlat != 0 {
		fmt.Fprintf(&b, "Discount -%s\n", money.Format(inv.DiscountFlat, inv.Currency))
	}
	fmt.Fprintf(&b, "Total %s\n", money.Format(inv.Total, inv.Currency))
	fmt.Fprintf(&b, "Balance due %s\n", money.Format(inv.BalanceDue, inv.Currency))
	_, err := io.WriteString(w, b.String())
	return err
}

// LogMailer renders the invoice and logs it instead of sending mail. Used in
// development and whenever no mail transport is configured.
type LogMailer struct {
	Renderer InvoiceRenderer
	Log      zerolog.Logger
}

func (m LogMailer) SendInvoice(ctx context.Context, inv *models.Invoice, to string) error {
	var b strings.Builder
	if err := m.Renderer.Render(ctx, inv, &b); err != nil {
		return fmt.Errorf("render invoice %d: %w", inv.ID, err)
	}
	m.Log.Info().Str("to", to).Str("number", inv.Number).Str("body", b.String()).Msg("invoice mail (not sent)")
	return nil
}
