// Package server wires the handlers into the HTTP route table.
package server

import (
	"net/http"
	"time"

	"github.com/diewo77/invoicing/auth"
	"github.com/diewo77/invoicing/httpx"
	"github.com/diewo77/invoicing/internal/handlers"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Handlers groups the route handlers. Payments is nil when online payment
// is not configured.
type Handlers struct {
	Invoices *handlers.InvoiceHandler
	Clients  *handlers.ClientHandler
	Webhooks *handlers.WebhookHandler
	Payments *handlers.PaymentHandler
}

// New constructs the root http.Handler with all routes and middlewares applied.
func New(db *gorm.DB, h Handlers, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// --- Health endpoints ---
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := db.Exec("SELECT 1").Error; err != nil {
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	protected := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, auth.RequireAuth(fn))
	}

	// Invoices
	ih := h.Invoices
	protected("POST /invoices", ih.Create)
	protected("GET /invoices/{id}", ih.Get)
	protected("PUT /invoices/{id}", ih.Update)
	protected("DELETE /invoices/{id}", ih.Delete)
	protected("POST /invoices/{id}/status", ih.ChangeStatus)
	protected("POST /invoices/{id}/share", ih.Share)
	protected("POST /invoices/{id}/checkout", ih.Checkout)

	// Public share links and guest invoices
	mux.HandleFunc("GET /public/invoices/{token}", ih.ViewPublic)
	mux.HandleFunc("POST /public/invoices", ih.CreateGuest)

	// Clients
	ch := h.Clients
	protected("POST /clients", ch.Create)
	protected("GET /clients/{id}", ch.Get)
	protected("PUT /clients/{id}", ch.Update)
	protected("DELETE /clients/{id}", ch.Delete)
	protected("POST /clients/{id}/ledger/reconcile", ch.Reconcile)

	// Outbound webhooks
	wh := h.Webhooks
	protected("POST /webhooks", wh.Create)
	protected("GET /webhooks", wh.List)
	protected("GET /webhooks/{id}", wh.Get)
	protected("PUT /webhooks/{id}", wh.Update)
	protected("DELETE /webhooks/{id}", wh.Delete)
	protected("POST /webhooks/{id}/secret", wh.RegenerateSecret)

	// Processor ingress, authenticated by signature
	if h.Payments != nil {
		mux.HandleFunc("POST /payments/webhook", h.Payments.Webhook)
	}

	return withRecover(withLogging(auth.Middleware(mux), log), log)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func withLogging(next http.Handler, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func withRecover(next http.Handler, log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
				httpx.Fail(w, http.StatusInternalServerError, "internal_error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
