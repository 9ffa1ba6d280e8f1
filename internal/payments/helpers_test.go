package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/diewo77/invoicing/internal/db/dbtest"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/services"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var errBadSignature = errors.New("bad signature")

// fakeProcessor resolves payloads to queued events and records checkouts.
type fakeProcessor struct {
	mu        sync.Mutex
	events    map[string]*Event
	accounts  map[string]*Account
	checkouts []CheckoutRequest
	failOpen  error
	// onOpen runs after a checkout is recorded, outside mu.
	onOpen func(CheckoutRequest)
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{events: map[string]*Event{}, accounts: map[string]*Account{}}
}

func (p *fakeProcessor) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	p.mu.Lock()
	if p.failOpen != nil {
		p.mu.Unlock()
		return nil, p.failOpen
	}
	p.checkouts = append(p.checkouts, req)
	hook := p.onOpen
	p.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return &CheckoutSession{ID: "cs_test_1", URL: "https://checkout.example.com/cs_test_1"}, nil
}

func (p *fakeProcessor) GetAccount(_ context.Context, id string) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[id]
	if !ok {
		return nil, errors.New("no such account")
	}
	return a, nil
}

func (p *fakeProcessor) ParseEvent(payload []byte, sig string) (*Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sig != "valid" {
		return nil, errBadSignature
	}
	ev, ok := p.events[string(payload)]
	if !ok {
		return nil, errBadSignature
	}
	cp := *ev
	cp.Payload = payload
	return &cp, nil
}

// deliver registers ev under its id and hands it to the reconciler.
func (f *fixture) deliver(t *testing.T, ev Event) error {
	t.Helper()
	f.processor.mu.Lock()
	f.processor.events[ev.ID] = &ev
	f.processor.mu.Unlock()
	return f.reconciler.HandleWebhook(context.Background(), []byte(ev.ID), "valid")
}

type sentEvent struct {
	OwnerID uint
	Event   string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recordingNotifier) Notify(_ context.Context, ownerID uint, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{ownerID, event})
}

func (r *recordingNotifier) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

type fixture struct {
	db         *gorm.DB
	owner      models.User
	client     *models.Client
	processor  *fakeProcessor
	notifier   *recordingNotifier
	invoices   *services.InvoiceService
	sessions   *SessionManager
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := dbtest.Open(t)
	owner := models.User{Email: "owner@example.com", ProcessorAccountID: "acct_1", ChargesEnabled: true}
	require.NoError(t, d.Create(&owner).Error)

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	notifier := &recordingNotifier{}
	audit := services.NewGormAuditLogger(d, zerolog.Nop())
	deps := services.Deps{DB: d, Audit: audit, Notifier: notifier, Log: zerolog.Nop(), Now: func() time.Time { return now }}
	invoices := services.NewInvoiceService(deps, "INV", "usd")
	clients := services.NewClientService(deps)
	c, err := clients.Create(context.Background(), owner.ID, services.ClientInput{Name: "Acme Corp", Email: "ap@acme.example"})
	require.NoError(t, err)

	p := newFakeProcessor()
	cfg := SessionConfig{
		FeePercentage: decimal.RequireFromString("0.01"),
		SuccessURL:    "https://app.example.com/i/{token}?paid=1",
		CancelURL:     "https://app.example.com/i/{token}",
	}
	return &fixture{
		db:         d,
		owner:      owner,
		client:     c,
		processor:  p,
		notifier:   notifier,
		invoices:   invoices,
		sessions:   NewSessionManager(d, p, invoices, audit, cfg, zerolog.Nop()),
		reconciler: NewReconciler(d, p, invoices, notifier, audit, zerolog.Nop()),
	}
}

// invoice creates a sent invoice for total minor units.
func (f *fixture) invoice(t *testing.T, total int64) *models.Invoice {
	t.Helper()
	inv, err := f.invoices.Create(context.Background(), &f.owner.ID, services.CreateInvoiceInput{
		ClientID: &f.client.ID,
		Status:   models.InvoiceStatusSent,
		Items:    []services.LineItemInput{{Description: "Work", Quantity: decimal.NewFromInt(1), Rate: total}},
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) reload(t *testing.T, id uint) models.Invoice {
	t.Helper()
	var inv models.Invoice
	require.NoError(t, f.db.First(&inv, id).Error)
	return inv
}

func (f *fixture) reloadClient(t *testing.T) models.Client {
	t.Helper()
	var c models.Client
	require.NoError(t, f.db.First(&c, f.client.ID).Error)
	return c
}
