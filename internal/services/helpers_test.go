package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/diewo77/invoicing/internal/db/dbtest"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sentEvent struct {
	OwnerID uint
	Event   string
	Data    any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recordingNotifier) Notify(_ context.Context, ownerID uint, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{ownerID, event, data})
}

func (r *recordingNotifier) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}

type fixture struct {
	db       *gorm.DB
	owner    models.User
	notifier *recordingNotifier
	invoices *InvoiceService
	clients  *ClientService
	ledger   *LedgerService
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := dbtest.Open(t)
	owner := models.User{Email: "owner@example.com", Name: "Owner"}
	require.NoError(t, d.Create(&owner).Error)

	f := &fixture{db: d, owner: owner, notifier: &recordingNotifier{}, now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	f.ledger = NewLedgerService(d)
	deps := Deps{DB: d, Ledger: f.ledger, Notifier: f.notifier, Log: zerolog.Nop(), Now: func() time.Time { return f.now }}
	f.invoices = NewInvoiceService(deps, "INV", "usd")
	f.clients = NewClientService(deps)
	return f
}

func (f *fixture) client(t *testing.T, name string) *models.Client {
	t.Helper()
	c, err := f.clients.Create(context.Background(), f.owner.ID, ClientInput{Name: name, Email: "billing@example.com"})
	require.NoError(t, err)
	return c
}

func (f *fixture) reloadClient(t *testing.T, id uint) models.Client {
	t.Helper()
	var c models.Client
	require.NoError(t, f.db.First(&c, id).Error)
	return c
}

func item(desc string, qty string, rate int64) LineItemInput {
	return LineItemInput{Description: desc, Quantity: decimal.RequireFromString(qty), Rate: rate}
}

func uintPtr(v uint) *uint { return &v }
