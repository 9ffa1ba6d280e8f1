package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/diewo77/invoicing/auth"
	"github.com/diewo77/invoicing/internal/db/dbtest"
	"github.com/diewo77/invoicing/internal/handlers"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/services"
	"github.com/diewo77/invoicing/internal/webhooks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newRouter(t *testing.T) (http.Handler, *gorm.DB) {
	t.Helper()
	d := dbtest.Open(t)
	deps := services.Deps{DB: d, Log: zerolog.Nop()}
	h := Handlers{
		Invoices: handlers.NewInvoiceHandler(services.NewInvoiceService(deps, "INV", "usd"), nil),
		Clients:  handlers.NewClientHandler(services.NewClientService(deps)),
		Webhooks: handlers.NewWebhookHandler(webhooks.NewService(d, nil, services.NewGormAuditLogger(d, zerolog.Nop()))),
	}
	return New(d, h, zerolog.Nop()), d
}

func TestHealthz(t *testing.T) {
	h, _ := newRouter(t)
	for _, path := range []string{"/health", "/healthz"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), `"status":"ok"`)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	h, d := newRouter(t)
	auth.SetSecret("router-test-secret")
	auth.SetUserVerifier(nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/clients", strings.NewReader(`{"name":"Acme"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	owner := models.User{Email: "owner@example.com"}
	require.NoError(t, d.Create(&owner).Error)
	req := httptest.NewRequest(http.MethodPost, "/clients", strings.NewReader(`{"name":"Acme"}`))
	req.Header.Set("Authorization", "Bearer "+auth.Token(owner.ID))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/clients", strings.NewReader(`{"name":"Acme"}`))
	req.Header.Set("Authorization", "Bearer 1.forged")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPublicRoutesAreOpen(t *testing.T) {
	h, _ := newRouter(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/public/invoices/none", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}

func TestPaymentIngressAbsentWithoutProcessor(t *testing.T) {
	h, _ := newRouter(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	h := withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), zerolog.Nop())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}
