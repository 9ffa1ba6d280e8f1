package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diewo77/invoicing/internal/db/dbtest"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/tasks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newHook(t *testing.T, d *gorm.DB, ownerID uint, url string, events ...string) models.Webhook {
	t.Helper()
	w := models.Webhook{OwnerID: ownerID, URL: url, Events: events, Active: true, Secret: "whsec_test"}
	require.NoError(t, d.Create(&w).Error)
	return w
}

func reload(t *testing.T, d *gorm.DB, id uint) models.Webhook {
	t.Helper()
	var w models.Webhook
	require.NoError(t, d.First(&w, id).Error)
	return w
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"event":"invoice.paid","timestamp":"2025-01-01T00:00:00Z","data":{}}`)
	sig := Sign("whsec_abc", body)
	assert.True(t, Verify("whsec_abc", body, sig))

	tampered := append([]byte(nil), body...)
	tampered[10] ^= 0x01
	assert.False(t, Verify("whsec_abc", tampered, sig))
	assert.False(t, Verify("whsec_other", body, sig))
	assert.False(t, Verify("whsec_abc", body, "not-hex"))
}

func TestDispatchSignsAndSendsHeaders(t *testing.T) {
	d := dbtest.Open(t)
	var (
		mu      sync.Mutex
		gotBody []byte
		gotHdr  http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody, gotHdr = b, r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := newHook(t, d, 1, srv.URL, models.EventInvoicePaid)
	hook.Headers = map[string]string{"X-Tenant": "acme"}
	require.NoError(t, d.Model(&hook).Select("headers").Updates(&hook).Error)

	disp := NewDispatcher(d, tasks.Inline{Log: zerolog.Nop()}, time.Second, zerolog.Nop())
	disp.Notify(context.Background(), 1, models.EventInvoicePaid, map[string]any{"id": 42})

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, gotBody)
	assert.True(t, Verify("whsec_test", gotBody, gotHdr.Get(HeaderSignature)))
	assert.Equal(t, models.EventInvoicePaid, gotHdr.Get(HeaderEvent))
	assert.Equal(t, "application/json", gotHdr.Get("Content-Type"))
	assert.Equal(t, "acme", gotHdr.Get("X-Tenant"))

	var env struct {
		Event     string         `json:"event"`
		Timestamp time.Time      `json:"timestamp"`
		Data      map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &env))
	assert.Equal(t, models.EventInvoicePaid, env.Event)
	assert.False(t, env.Timestamp.IsZero())
	assert.EqualValues(t, 42, env.Data["id"])

	got := reload(t, d, hook.ID)
	assert.EqualValues(t, 1, got.SuccessCount)
	assert.EqualValues(t, 0, got.FailureCount)
	require.Len(t, got.Attempts, 1)
	assert.True(t, got.Attempts[0].Success)
	assert.Equal(t, http.StatusNoContent, got.Attempts[0].StatusCode)
	assert.NotNil(t, got.LastDeliveryAt)
}

func TestDispatchRecordsFailureOn500(t *testing.T) {
	d := dbtest.Open(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	hook := newHook(t, d, 1, srv.URL, models.EventInvoiceSent)

	disp := NewDispatcher(d, tasks.Inline{Log: zerolog.Nop()}, time.Second, zerolog.Nop())
	require.NoError(t, disp.Dispatch(context.Background(), 1, models.EventInvoiceSent, []byte(`{}`)))

	got := reload(t, d, hook.ID)
	assert.EqualValues(t, 0, got.SuccessCount)
	assert.EqualValues(t, 1, got.FailureCount)
	require.Len(t, got.Attempts, 1)
	assert.False(t, got.Attempts[0].Success)
	assert.Equal(t, http.StatusInternalServerError, got.Attempts[0].StatusCode)
}

func TestDispatchUnreachableTargetDoesNotAffectOthers(t *testing.T) {
	d := dbtest.Open(t)
	var hits atomic.Int64
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ok.Close()
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	good := newHook(t, d, 1, ok.URL, models.EventPaymentReceived)
	bad := newHook(t, d, 1, deadURL, models.EventPaymentReceived)
	other := newHook(t, d, 2, ok.URL, models.EventPaymentReceived)
	unsubscribed := newHook(t, d, 1, ok.URL, models.EventInvoiceSent)

	disp := NewDispatcher(d, tasks.Inline{Log: zerolog.Nop()}, time.Second, zerolog.Nop())
	require.NoError(t, disp.Dispatch(context.Background(), 1, models.EventPaymentReceived, []byte(`{}`)))

	assert.EqualValues(t, 1, hits.Load())
	assert.EqualValues(t, 1, reload(t, d, good.ID).SuccessCount)
	badGot := reload(t, d, bad.ID)
	assert.EqualValues(t, 1, badGot.FailureCount)
	require.Len(t, badGot.Attempts, 1)
	assert.NotEmpty(t, badGot.Attempts[0].Error)
	assert.Empty(t, reload(t, d, other.ID).Attempts)
	assert.Empty(t, reload(t, d, unsubscribed.ID).Attempts)
}

func TestDispatchTimesOut(t *testing.T) {
	d := dbtest.Open(t)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	hook := newHook(t, d, 1, srv.URL, models.EventInvoiceOverdue)

	disp := NewDispatcher(d, tasks.Inline{Log: zerolog.Nop()}, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, disp.Dispatch(context.Background(), 1, models.EventInvoiceOverdue, []byte(`{}`)))
	assert.EqualValues(t, 1, reload(t, d, hook.ID).FailureCount)
}

func TestAttemptHistoryKeepsLastTen(t *testing.T) {
	d := dbtest.Open(t)
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()
	hook := newHook(t, d, 1, srv.URL, models.EventInvoiceCreated)

	disp := NewDispatcher(d, tasks.Inline{Log: zerolog.Nop()}, time.Second, zerolog.Nop())
	for i := 0; i < 12; i++ {
		require.NoError(t, disp.Dispatch(context.Background(), 1, models.EventInvoiceCreated, []byte(`{}`)))
	}
	got := reload(t, d, hook.ID)
	assert.EqualValues(t, 12, got.SuccessCount)
	assert.Len(t, got.Attempts, models.MaxDeliveryAttempts)
}
