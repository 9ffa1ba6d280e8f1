package services

import (
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/money"
	"github.com/shopspring/decimal"
)

// Totals is the derived money state of an invoice, in minor units.
type Totals struct {
	Subtotal   int64 `json:"subtotal"`
	TaxAmount  int64 `json:"tax_amount"`
	Total      int64 `json:"total"`
	BalanceDue int64 `json:"balance_due"`
}

// LineAmount returns quantity × rate rounded to a whole minor unit.
func LineAmount(quantity decimal.Decimal, rate int64) int64 {
	return money.Mul(rate, quantity)
}

// ComputeTotals sums precomputed line amounts and applies tax, discount and
// payments. A discount larger than subtotal plus tax yields a negative total.
func ComputeTotals(items []models.LineItem, taxPercent decimal.Decimal, discountFlat, amountPaid int64) Totals {
	var t Totals
	for _, it := range items {
		t.Subtotal += it.Amount
	}
	t.TaxAmount = money.Percent(t.Subtotal, taxPercent)
	t.Total = t.Subtotal + t.TaxAmount - discountFlat
	t.BalanceDue = t.Total - amountPaid
	return t
}

// ApplyTotals recomputes every line amount and the invoice totals in place.
// Call it after any change to items, tax percent or discount.
func ApplyTotals(inv *models.Invoice) {
	for i := range inv.Items {
		inv.Items[i].Amount = LineAmount(inv.Items[i].Quantity, inv.Items[i].Rate)
	}
	t := ComputeTotals(inv.Items, inv.TaxPercent, inv.DiscountFlat, inv.AmountPaid)
	inv.Subtotal = t.Subtotal
	inv.TaxAmount = t.TaxAmount
	inv.Total = t.Total
	inv.BalanceDue = t.BalanceDue
}
