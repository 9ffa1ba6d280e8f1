package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/db/dbtest"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/services"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, func(id uint) models.Webhook) {
	d := dbtest.Open(t)
	svc := NewService(d, nil, services.NewGormAuditLogger(d, zerolog.Nop()))
	return svc, func(id uint) models.Webhook { return reload(t, d, id) }
}

func TestCreateReturnsSecretOnce(t *testing.T) {
	svc, load := newService(t)
	ctx := context.Background()
	w, secret, err := svc.Create(ctx, 1, CreateInput{
		URL:     "https://hooks.example.com/in",
		Events:  []string{models.EventInvoicePaid, models.EventInvoicePaid, models.EventPaymentFailed},
		Headers: map[string]string{"x-tenant": "acme"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret, "whsec_"))
	assert.Equal(t, []string{models.EventInvoicePaid, models.EventPaymentFailed}, w.Events)
	assert.Equal(t, "acme", w.Headers["X-Tenant"])

	raw, err := json.Marshal(w)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), secret)

	assert.Equal(t, secret, load(w.ID).Secret)

	rotated, err := svc.RegenerateSecret(ctx, 1, w.ID)
	require.NoError(t, err)
	assert.NotEqual(t, secret, rotated)
	assert.Equal(t, rotated, load(w.ID).Secret)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t)
	_, _, err := svc.Create(context.Background(), 1, CreateInput{
		URL:     "ftp://nope",
		Events:  []string{"invoice.exploded"},
		Headers: map[string]string{"X-Webhook-Signature": "forged"},
	})
	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "invalid_url", e.Fields["url"])
	assert.Equal(t, "unknown_value:invoice.exploded", e.Fields["events"])
	assert.Contains(t, e.Fields, "headers")
}

func TestUpdateListDelete(t *testing.T) {
	svc, load := newService(t)
	ctx := context.Background()
	w, _, err := svc.Create(ctx, 1, CreateInput{URL: "https://a.example.com", Events: []string{models.EventInvoiceSent}})
	require.NoError(t, err)

	off := false
	events := []string{models.EventClientCreated}
	_, err = svc.Update(ctx, 1, w.ID, UpdateInput{Active: &off, Events: &events})
	require.NoError(t, err)
	got := load(w.ID)
	assert.False(t, got.Active)
	assert.Equal(t, events, got.Events)

	_, err = svc.Update(ctx, 2, w.ID, UpdateInput{Active: &off})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	list, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, 1, w.ID))
	_, err = svc.Get(ctx, 1, w.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
