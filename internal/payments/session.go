package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/services"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Checkout is returned to the owner after a session opens.
type Checkout struct {
	SessionID   string `json:"session_id"`
	URL         string `json:"url"`
	Amount      int64  `json:"amount"`
	PlatformFee int64  `json:"platform_fee"`
}

// SessionConfig holds the platform fee and redirect templates. "{token}" in
// a URL is replaced with the invoice's public share token.
type SessionConfig struct {
	FeePercentage decimal.Decimal
	SuccessURL    string
	CancelURL     string
}

// SessionManager opens hosted checkouts for invoices.
type SessionManager struct {
	db        *gorm.DB
	processor Processor
	invoices  *services.InvoiceService
	audit     services.AuditLogger
	cfg       SessionConfig
	log       zerolog.Logger
}

func NewSessionManager(db *gorm.DB, processor Processor, invoices *services.InvoiceService, audit services.AuditLogger, cfg SessionConfig, log zerolog.Logger) *SessionManager {
	return &SessionManager{db: db, processor: processor, invoices: invoices, audit: audit, cfg: cfg, log: log}
}

// CreateSession opens a checkout for the invoice's balance. The owner needs a
// connected account able to take charges, and an invoice can hold only one
// open session.
func (m *SessionManager) CreateSession(ctx context.Context, ownerID, invoiceID uint) (*Checkout, error) {
	const op = "payments.CreateSession"
	inv, err := m.invoices.Get(ctx, ownerID, invoiceID)
	if err != nil {
		return nil, err
	}

	var owner models.User
	if err := m.db.WithContext(ctx).First(&owner, ownerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Forbidden(op, "no connected payment account")
		}
		return nil, fmt.Errorf("load owner %d: %w", ownerID, err)
	}
	if owner.ProcessorAccountID == "" {
		return nil, apperr.Forbidden(op, "no connected payment account")
	}
	if !owner.ChargesEnabled {
		return nil, apperr.Forbidden(op, "payment account cannot accept charges yet")
	}
	if inv.Payment.Enabled {
		return nil, apperr.Conflict(op, "online payment already enabled for this invoice")
	}
	if inv.Status.IsPaid() || inv.Status.IsTerminal() {
		return nil, apperr.Conflict(op, "invoice is not payable")
	}
	amount := inv.BalanceDue
	if amount <= 0 {
		return nil, apperr.Validation(op, "nothing_to_pay")
	}

	// Claim the invoice before calling out so concurrent requests cannot open
	// two sessions.
	res := m.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND payment_enabled = ?", inv.ID, false).
		UpdateColumn("payment_enabled", true)
	if res.Error != nil {
		return nil, fmt.Errorf("claim invoice %d: %w", inv.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Conflict(op, "online payment already enabled for this invoice")
	}
	release := func() {
		if err := m.db.WithContext(context.WithoutCancel(ctx)).Model(&models.Invoice{}).
			Where("id = ?", inv.ID).UpdateColumn("payment_enabled", false).Error; err != nil {
			m.log.Error().Err(err).Uint("invoice_id", inv.ID).Msg("release payment claim")
		}
	}

	shared, err := m.invoices.Share(ctx, ownerID, inv.ID)
	if err != nil {
		release()
		return nil, err
	}
	var customerEmail string
	if inv.ClientID != nil {
		var c models.Client
		if err := m.db.WithContext(ctx).Select("id, email").First(&c, *inv.ClientID).Error; err == nil {
			customerEmail = c.Email
		}
	}

	fee := PlatformFee(amount, m.cfg.FeePercentage)
	session, err := m.processor.CreateCheckoutSession(ctx, CheckoutRequest{
		InvoiceID:          inv.ID,
		OwnerID:            ownerID,
		InvoiceNumber:      inv.Number,
		Description:        fmt.Sprintf("Invoice %s", inv.Number),
		Currency:           inv.Currency,
		Amount:             amount,
		PlatformFee:        fee,
		DestinationAccount: owner.ProcessorAccountID,
		CustomerEmail:      customerEmail,
		SuccessURL:         strings.ReplaceAll(m.cfg.SuccessURL, "{token}", shared.Share.Token),
		CancelURL:          strings.ReplaceAll(m.cfg.CancelURL, "{token}", shared.Share.Token),
	})
	if err != nil {
		release()
		m.log.Error().Err(err).Uint("invoice_id", inv.ID).Msg("open checkout session")
		return nil, apperr.External(op, err)
	}

	_, err = m.invoices.Apply(ctx, inv, services.Transition{
		ActorID: &ownerID,
		Source:  services.SourceAPI,
		Mutate: func(cur *models.Invoice, now time.Time) bool {
			cur.Payment.Enabled = true
			cur.Payment.CheckoutSessionID = session.ID
			cur.Payment.PlatformFee = fee
			// The success event can land before this write.
			if cur.Payment.Status == models.PaymentStatusPaid {
				cur.Payment.NetAmount = cur.Payment.PaidAmount - fee - cur.Payment.ProcessorFee
			}
			cur.AppendActivity(now, models.ActivityPaymentOpened, map[string]string{"session_id": session.ID})
			return true
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store checkout session: %w", err)
	}
	m.audit.Record(ctx, services.AuditEntry{ActorID: &ownerID, Source: services.SourceAPI, EntityType: "invoice", EntityID: inv.ID,
		Action: "payment_session", Field: "payment_checkout_session_id", NewValue: session.ID})
	return &Checkout{SessionID: session.ID, URL: session.URL, Amount: amount, PlatformFee: fee}, nil
}
