package main

import (
	"context"

	"github.com/diewo77/invoicing/auth"
	"github.com/diewo77/invoicing/internal/config"
	"github.com/diewo77/invoicing/internal/handlers"
	"github.com/diewo77/invoicing/internal/logger"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/payments"
	"github.com/diewo77/invoicing/internal/policy"
	"github.com/diewo77/invoicing/internal/server"
	"github.com/diewo77/invoicing/internal/services"
	"github.com/diewo77/invoicing/internal/tasks"
	"github.com/diewo77/invoicing/internal/webhooks"
	"gorm.io/gorm"
)

// app holds the wired services for one process.
type app struct {
	runner   *tasks.Runner
	invoices *services.InvoiceService
	clients  *services.ClientService
	ledger   *services.LedgerService
	webhooks *webhooks.Service
	sessions *payments.SessionManager
	events   *payments.Reconciler
}

func newApp(cfg *config.Config, conn *gorm.DB) *app {
	runner := tasks.NewRunner(cfg.App.TaskWorkers, cfg.App.TaskQueueSize, logger.WithComponent("tasks"))
	gate := policy.Default()
	audit := services.NewGormAuditLogger(conn, logger.WithComponent("audit"))
	dispatcher := webhooks.NewDispatcher(conn, runner, cfg.Webhooks.Timeout, logger.WithComponent("webhooks"))
	ledger := services.NewLedgerService(conn)

	deps := services.Deps{
		DB:       conn,
		Gate:     gate,
		Ledger:   ledger,
		Audit:    audit,
		Notifier: dispatcher,
		Tasks:    runner,
		Mailer:   services.LogMailer{Renderer: services.TextRenderer{}, Log: logger.WithComponent("mail")},
		Log:      logger.WithComponent("invoices"),
	}
	a := &app{
		runner:   runner,
		invoices: services.NewInvoiceService(deps, cfg.App.NumberPrefix, cfg.App.DefaultCurrency),
		clients:  services.NewClientService(deps),
		ledger:   ledger,
		webhooks: webhooks.NewService(conn, gate, audit),
	}
	if cfg.Payments.Enabled() {
		processor := payments.NewStripeProcessor(cfg.Payments.StripeSecretKey, cfg.Payments.StripeWebhookSecret)
		a.sessions = payments.NewSessionManager(conn, processor, a.invoices, audit, payments.SessionConfig{
			FeePercentage: cfg.Payments.FeePercentage,
			SuccessURL:    cfg.Payments.SuccessURL,
			CancelURL:     cfg.Payments.CancelURL,
		}, logger.WithComponent("checkout"))
		a.events = payments.NewReconciler(conn, processor, a.invoices, dispatcher, audit, logger.WithComponent("payments"))
	}

	auth.SetSecret(cfg.App.SessionSecret)
	auth.SetUserVerifier(func(ctx context.Context, uid uint) bool {
		var count int64
		if err := conn.WithContext(ctx).Model(&models.User{}).Where("id = ?", uid).Limit(1).Count(&count).Error; err != nil {
			return false
		}
		return count > 0
	})
	return a
}

func (a *app) handlers() server.Handlers {
	h := server.Handlers{
		Clients:  handlers.NewClientHandler(a.clients),
		Webhooks: handlers.NewWebhookHandler(a.webhooks),
	}
	if a.sessions != nil {
		h.Invoices = handlers.NewInvoiceHandler(a.invoices, a.sessions)
		h.Payments = handlers.NewPaymentHandler(a.events, "Stripe-Signature")
	} else {
		h.Invoices = handlers.NewInvoiceHandler(a.invoices, nil)
	}
	return h
}
