package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/policy"
	"github.com/diewo77/invoicing/validation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LineItemInput is one line as supplied by the caller. Rate is in minor units.
type LineItemInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        int64           `json:"rate"`
}

// CreateInvoiceInput describes a new invoice. An empty Number selects an
// automatic numbering strategy.
type CreateInvoiceInput struct {
	ClientID     *uint
	Number       string
	Status       models.InvoiceStatus
	Currency     string
	IssueDate    time.Time
	DueDate      *time.Time
	Notes        string
	Items        []LineItemInput
	TaxPercent   decimal.Decimal
	DiscountFlat int64
}

// UpdateInvoiceInput carries the fields to change; nil means unchanged.
type UpdateInvoiceInput struct {
	Items        *[]LineItemInput
	TaxPercent   *decimal.Decimal
	DiscountFlat *int64
	DueDate      *time.Time
	Notes        *string
}

func (in UpdateInvoiceInput) touchesMoney() bool {
	return in.Items != nil || in.TaxPercent != nil || in.DiscountFlat != nil
}

var hundred = decimal.NewFromInt(100)

// InvoiceService owns invoice creation, edits, deletion, sharing and the
// status state machine.
type InvoiceService struct {
	deps     Deps
	prefix   string
	currency string
}

// NewInvoiceService wires the service. prefix starts generated numbers
// ("INV"); currency is used when a request names none.
func NewInvoiceService(deps Deps, prefix, currency string) *InvoiceService {
	deps.fill()
	if prefix == "" {
		prefix = "INV"
	}
	if currency == "" {
		currency = "usd"
	}
	return &InvoiceService{deps: deps, prefix: prefix, currency: strings.ToLower(currency)}
}

func validateItems(items []LineItemInput, v validation.Violations) {
	if len(items) == 0 {
		v["items"] = "required"
		return
	}
	for i, it := range items {
		f := "items." + strconv.Itoa(i)
		validation.Required(f+".description", it.Description, v)
		validation.PositiveDecimal(f+".quantity", it.Quantity, v)
		validation.NonNegative(f+".rate", it.Rate, v)
	}
}

func validateAdjustments(tax *decimal.Decimal, discount *int64, v validation.Violations) {
	if tax != nil {
		validation.RangeDecimal("tax_percent", *tax, decimal.Zero, hundred, v)
	}
	if discount != nil {
		validation.NonNegative("discount_flat", *discount, v)
	}
}

func toLineItems(in []LineItemInput) []models.LineItem {
	out := make([]models.LineItem, len(in))
	for i, it := range in {
		out[i] = models.LineItem{Description: strings.TrimSpace(it.Description), Quantity: it.Quantity, Rate: it.Rate}
	}
	return out
}

// Create validates in, assigns a number and stores the invoice. ownerID is
// nil for guest invoices, which cannot reference a client.
func (s *InvoiceService) Create(ctx context.Context, ownerID *uint, in CreateInvoiceInput) (*models.Invoice, error) {
	const op = "invoices.Create"
	v := make(validation.Violations)
	validateItems(in.Items, v)
	validateAdjustments(&in.TaxPercent, &in.DiscountFlat, v)
	if in.Status == "" {
		in.Status = models.InvoiceStatusDraft
	}
	if !in.Status.Valid() || in.Status.IsTerminal() {
		v["status"] = "invalid_status"
	}
	if in.Currency == "" {
		in.Currency = s.currency
	}
	if len(in.Currency) != 3 {
		v["currency"] = "invalid_currency"
	}
	if in.ClientID != nil && ownerID == nil {
		v["client_id"] = "requires_owner"
	}
	if !v.Empty() {
		return nil, apperr.Invalid(op, v)
	}
	if in.ClientID != nil {
		if _, err := s.ownedClient(ctx, *ownerID, *in.ClientID); err != nil {
			return nil, err
		}
	}

	now := s.deps.Now().UTC()
	issue := in.IssueDate
	if issue.IsZero() {
		issue = now
	}
	inv := &models.Invoice{
		OwnerID:      ownerID,
		ClientID:     in.ClientID,
		Status:       in.Status,
		Currency:     strings.ToLower(in.Currency),
		IssueDate:    issue.UTC(),
		DueDate:      utcPtr(in.DueDate),
		Notes:        in.Notes,
		Items:        toLineItems(in.Items),
		TaxPercent:   in.TaxPercent,
		DiscountFlat: in.DiscountFlat,
		Payment:      models.Payment{Status: models.PaymentStatusUnpaid},
	}
	ApplyTotals(inv)
	if inv.Status.IsPaid() {
		inv.AmountPaid = inv.Total
		inv.BalanceDue = 0
	}

	err := s.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := StrategyFor(in.Number, in.ClientID, s.prefix).assign(tx, inv); err != nil {
			return err
		}
		inv.AppendActivity(now, models.ActivityCreated, map[string]string{"number": inv.Number, "status": string(inv.Status)})
		if err := tx.Create(inv).Error; err != nil {
			return duplicateNumber(err, inv.Number)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.Audit.Record(ctx, AuditEntry{ActorID: ownerID, Source: SourceAPI, EntityType: "invoice", EntityID: inv.ID, Action: "create", NewValue: inv.Number})
	clientID, status, total := inv.ClientID, inv.Status, inv.Total
	s.deps.Tasks.Submit("ledger.create", func(ctx context.Context) error {
		return s.deps.Ledger.OnCreate(ctx, clientID, status, total)
	})
	s.deps.notify(ctx, inv.OwnerID, models.EventInvoiceCreated, *inv)
	return inv, nil
}

// Get returns an invoice owned by ownerID.
func (s *InvoiceService) Get(ctx context.Context, ownerID, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.deps.DB.WithContext(ctx).First(&inv, id).Error; err != nil {
		return nil, notFound(err, "invoices.Get", "invoice not found")
	}
	if err := s.authorize(ctx, ownerID, policy.ActionView, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Update edits an invoice and recomputes its totals. Line items, tax and
// discount are locked once the invoice is void or online payment is enabled.
func (s *InvoiceService) Update(ctx context.Context, ownerID, id uint, in UpdateInvoiceInput) (*models.Invoice, error) {
	const op = "invoices.Update"
	v := make(validation.Violations)
	if in.Items != nil {
		validateItems(*in.Items, v)
	}
	validateAdjustments(in.TaxPercent, in.DiscountFlat, v)
	if !v.Empty() {
		return nil, apperr.Invalid(op, v)
	}

	now := s.deps.Now().UTC()
	var inv *models.Invoice
	var oldTotal int64
	err := s.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := lockInvoice(tx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, ownerID, policy.ActionUpdate, cur); err != nil {
			return err
		}
		if in.touchesMoney() && !cur.CanEdit() {
			return apperr.Conflict(op, "invoice can no longer be edited")
		}
		oldTotal = cur.Total
		if in.Items != nil {
			cur.Items = toLineItems(*in.Items)
		}
		if in.TaxPercent != nil {
			cur.TaxPercent = *in.TaxPercent
		}
		if in.DiscountFlat != nil {
			cur.DiscountFlat = *in.DiscountFlat
		}
		if in.DueDate != nil {
			cur.DueDate = utcPtr(in.DueDate)
		}
		if in.Notes != nil {
			cur.Notes = *in.Notes
		}
		ApplyTotals(cur)
		cur.AppendActivity(now, models.ActivityUpdated, map[string]string{"total": strconv.FormatInt(cur.Total, 10)})
		err = tx.Model(cur).
			Select("items", "subtotal", "tax_percent", "tax_amount", "discount_flat", "total", "balance_due", "due_date", "notes", "activity").
			Updates(cur).Error
		if err != nil {
			return fmt.Errorf("update invoice %d: %w", id, err)
		}
		inv = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldTotal != inv.Total {
		s.deps.Audit.Record(ctx, AuditEntry{ActorID: &ownerID, Source: SourceAPI, EntityType: "invoice", EntityID: inv.ID, Action: "update", Field: "total",
			OldValue: strconv.FormatInt(oldTotal, 10), NewValue: strconv.FormatInt(inv.Total, 10)})
		clientID, status, newTotal := inv.ClientID, inv.Status, inv.Total
		s.deps.Tasks.Submit("ledger.total_change", func(ctx context.Context) error {
			return s.deps.Ledger.OnTotalChange(ctx, clientID, status, oldTotal, newTotal)
		})
	} else {
		s.deps.Audit.Record(ctx, AuditEntry{ActorID: &ownerID, Source: SourceAPI, EntityType: "invoice", EntityID: inv.ID, Action: "update"})
	}
	s.deps.notify(ctx, inv.OwnerID, models.EventInvoiceUpdated, *inv)
	return inv, nil
}

// Delete soft-deletes an invoice and takes its total out of the ledger.
func (s *InvoiceService) Delete(ctx context.Context, ownerID, id uint) error {
	var inv *models.Invoice
	err := s.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := lockInvoice(tx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, ownerID, policy.ActionDelete, cur); err != nil {
			return err
		}
		if err := tx.Delete(cur).Error; err != nil {
			return fmt.Errorf("delete invoice %d: %w", id, err)
		}
		inv = cur
		return nil
	})
	if err != nil {
		return err
	}
	s.deps.Audit.Record(ctx, AuditEntry{ActorID: &ownerID, Source: SourceAPI, EntityType: "invoice", EntityID: inv.ID, Action: "delete", OldValue: inv.Number})
	clientID, status, total := inv.ClientID, inv.Status, inv.Total
	s.deps.Tasks.Submit("ledger.delete", func(ctx context.Context) error {
		return s.deps.Ledger.OnDelete(ctx, clientID, status, total)
	})
	s.deps.notify(ctx, inv.OwnerID, models.EventInvoiceDeleted, map[string]any{"id": inv.ID, "number": inv.Number})
	return nil
}

// Share enables the public link, minting a token on first use.
func (s *InvoiceService) Share(ctx context.Context, ownerID, id uint) (*models.Invoice, error) {
	now := s.deps.Now().UTC()
	var inv *models.Invoice
	err := s.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := lockInvoice(tx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, ownerID, policy.ActionUpdate, cur); err != nil {
			return err
		}
		if cur.Share.Token == "" {
			cur.Share.Token = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		cur.Share.Enabled = true
		cur.AppendActivity(now, models.ActivityShared, nil)
		if err := tx.Model(cur).Select("share_token", "share_enabled", "activity").Updates(cur).Error; err != nil {
			return fmt.Errorf("share invoice %d: %w", id, err)
		}
		inv = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.deps.Audit.Record(ctx, AuditEntry{ActorID: &ownerID, Source: SourceAPI, EntityType: "invoice", EntityID: inv.ID, Action: "share"})
	return inv, nil
}

// ViewPublic resolves a public link. The first access records the view, and
// a sent invoice moves to viewed.
func (s *InvoiceService) ViewPublic(ctx context.Context, token string) (*models.Invoice, error) {
	const op = "invoices.ViewPublic"
	if strings.TrimSpace(token) == "" {
		return nil, apperr.NotFound(op, "invoice not found")
	}
	var inv models.Invoice
	err := s.deps.DB.WithContext(ctx).Where("share_token = ? AND share_enabled = ?", token, true).First(&inv).Error
	if err != nil {
		return nil, notFound(err, op, "invoice not found")
	}
	if inv.Share.ViewedAt != nil && inv.Status != models.InvoiceStatusSent {
		return &inv, nil
	}
	_, err = s.Apply(ctx, &inv, Transition{
		To:     models.InvoiceStatusViewed,
		From:   []models.InvoiceStatus{models.InvoiceStatusSent},
		Source: SourcePublic,
		Mutate: func(cur *models.Invoice, now time.Time) bool {
			if cur.Share.ViewedAt != nil {
				return false
			}
			cur.Share.ViewedAt = &now
			cur.AppendActivity(now, models.ActivityViewed, nil)
			return true
		},
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *InvoiceService) authorize(ctx context.Context, ownerID uint, action policy.Action, inv *models.Invoice) error {
	if err := s.deps.Gate.Authorize(ctx, ownerID, action, policy.ResourceInvoice, inv); err != nil {
		// Other owners' invoices are reported as missing.
		return apperr.NotFound("invoices", "invoice not found")
	}
	return nil
}

func (s *InvoiceService) ownedClient(ctx context.Context, ownerID, clientID uint) (*models.Client, error) {
	var c models.Client
	if err := s.deps.DB.WithContext(ctx).First(&c, clientID).Error; err != nil {
		return nil, notFound(err, "clients.Get", "client not found")
	}
	if err := s.deps.Gate.Authorize(ctx, ownerID, policy.ActionView, policy.ResourceClient, &c); err != nil {
		return nil, apperr.NotFound("clients.Get", "client not found")
	}
	return &c, nil
}

func lockInvoice(tx *gorm.DB, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&inv, id).Error; err != nil {
		return nil, notFound(err, "invoices", "invoice not found")
	}
	return &inv, nil
}

func notFound(err error, op, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(op, msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
