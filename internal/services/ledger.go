package services

import (
	"context"
	"fmt"

	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/models"
	"gorm.io/gorm"
)

// Balances is a client's invoiced/paid split in minor units.
type Balances struct {
	TotalInvoiced int64 `json:"total_invoiced"`
	TotalPaid     int64 `json:"total_paid"`
}

// LedgerSummary exposes both read models side by side.
type LedgerSummary struct {
	// Ledger is the incrementally maintained running total on the client row.
	Ledger Balances `json:"ledger"`
	// Aggregate is recomputed from live invoices and is authoritative.
	Aggregate Balances `json:"aggregate"`
	Drift     bool     `json:"drift"`
}

// LedgerService keeps per-client running totals. The write path only ever
// issues atomic increments; Aggregate and Reconcile form the read path and
// the repair job.
type LedgerService struct {
	db *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

func (l *LedgerService) adjust(ctx context.Context, clientID *uint, invoicedDelta, paidDelta int64) error {
	if clientID == nil || (invoicedDelta == 0 && paidDelta == 0) {
		return nil
	}
	err := l.db.WithContext(ctx).Model(&models.Client{}).
		Where("id = ?", *clientID).
		UpdateColumns(map[string]any{
			"total_invoiced": gorm.Expr("total_invoiced + ?", invoicedDelta),
			"total_paid":     gorm.Expr("total_paid + ?", paidDelta),
		}).Error
	if err != nil {
		return fmt.Errorf("ledger adjust client %d: %w", *clientID, err)
	}
	return nil
}

// OnCreate books a new invoice into the bucket of its status.
func (l *LedgerService) OnCreate(ctx context.Context, clientID *uint, status models.InvoiceStatus, total int64) error {
	if status.IsPaid() {
		return l.adjust(ctx, clientID, 0, total)
	}
	return l.adjust(ctx, clientID, total, 0)
}

// OnTotalChange applies the delta between two totals to the bucket of status.
func (l *LedgerService) OnTotalChange(ctx context.Context, clientID *uint, status models.InvoiceStatus, oldTotal, newTotal int64) error {
	delta := newTotal - oldTotal
	if status.IsPaid() {
		return l.adjust(ctx, clientID, 0, delta)
	}
	return l.adjust(ctx, clientID, delta, 0)
}

// OnStatusChange moves the whole pre-transition total between buckets when
// the transition crosses paid. Other transitions leave the ledger alone.
func (l *LedgerService) OnStatusChange(ctx context.Context, clientID *uint, from, to models.InvoiceStatus, total int64) error {
	switch {
	case !from.IsPaid() && to.IsPaid():
		return l.adjust(ctx, clientID, -total, total)
	case from.IsPaid() && !to.IsPaid():
		return l.adjust(ctx, clientID, total, -total)
	}
	return nil
}

// OnDelete removes total from the bucket of the last known status.
func (l *LedgerService) OnDelete(ctx context.Context, clientID *uint, status models.InvoiceStatus, total int64) error {
	if status.IsPaid() {
		return l.adjust(ctx, clientID, 0, -total)
	}
	return l.adjust(ctx, clientID, -total, 0)
}

// PaymentApplied books a reconciled payment: the pre-payment total leaves
// the invoiced bucket and the amount actually received enters the paid one.
// The two may differ; neither is adjusted to match the other.
func (l *LedgerService) PaymentApplied(ctx context.Context, clientID *uint, preTotal, received int64) error {
	return l.adjust(ctx, clientID, -preTotal, received)
}

// Aggregate recomputes a client's balances from its live invoices.
func (l *LedgerService) Aggregate(ctx context.Context, clientID uint) (Balances, error) {
	var rows []struct {
		Status models.InvoiceStatus
		Total  int64
	}
	err := l.db.WithContext(ctx).Model(&models.Invoice{}).
		Select("status, COALESCE(SUM(total), 0) AS total").
		Where("client_id = ?", clientID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Balances{}, fmt.Errorf("ledger aggregate client %d: %w", clientID, err)
	}
	var b Balances
	for _, r := range rows {
		if r.Status.IsPaid() {
			b.TotalPaid += r.Total
		} else {
			b.TotalInvoiced += r.Total
		}
	}
	return b, nil
}

// Summary returns the stored ledger next to the aggregate.
func (l *LedgerService) Summary(ctx context.Context, client *models.Client) (LedgerSummary, error) {
	agg, err := l.Aggregate(ctx, client.ID)
	if err != nil {
		return LedgerSummary{}, err
	}
	ledger := Balances{TotalInvoiced: client.TotalInvoiced, TotalPaid: client.TotalPaid}
	return LedgerSummary{Ledger: ledger, Aggregate: agg, Drift: ledger != agg}, nil
}

// Reconcile overwrites the client's running totals with the aggregate.
func (l *LedgerService) Reconcile(ctx context.Context, clientID uint) (Balances, error) {
	agg, err := l.Aggregate(ctx, clientID)
	if err != nil {
		return Balances{}, err
	}
	res := l.db.WithContext(ctx).Model(&models.Client{}).
		Where("id = ?", clientID).
		UpdateColumns(map[string]any{"total_invoiced": agg.TotalInvoiced, "total_paid": agg.TotalPaid})
	if res.Error != nil {
		return Balances{}, fmt.Errorf("ledger reconcile client %d: %w", clientID, res.Error)
	}
	if res.RowsAffected == 0 {
		return Balances{}, apperr.NotFound("ledger.Reconcile", "client not found")
	}
	return agg, nil
}

// ReconcileAll reconciles every live client and returns how many drifted.
func (l *LedgerService) ReconcileAll(ctx context.Context) (int, error) {
	var clients []models.Client
	if err := l.db.WithContext(ctx).Select("id, total_invoiced, total_paid").Find(&clients).Error; err != nil {
		return 0, fmt.Errorf("ledger list clients: %w", err)
	}
	drifted := 0
	for i := range clients {
		if err := ctx.Err(); err != nil {
			return drifted, err
		}
		before := Balances{TotalInvoiced: clients[i].TotalInvoiced, TotalPaid: clients[i].TotalPaid}
		after, err := l.Reconcile(ctx, clients[i].ID)
		if err != nil {
			return drifted, err
		}
		if before != after {
			drifted++
		}
	}
	return drifted, nil
}
