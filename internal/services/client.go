package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/policy"
	"github.com/diewo77/invoicing/validation"
)

// ClientInput is the editable part of a client.
type ClientInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
}

func (in ClientInput) validate() validation.Violations {
	v := make(validation.Violations)
	validation.Required("name", in.Name, v)
	if e := strings.TrimSpace(in.Email); e != "" {
		if _, err := mail.ParseAddress(e); err != nil {
			v["email"] = "invalid_email"
		}
	}
	return v
}

// ClientView is a client with both ledger read models.
type ClientView struct {
	models.Client
	Balances LedgerSummary `json:"balances"`
}

// ClientService manages clients and exposes their ledger.
type ClientService struct {
	deps Deps
}

func NewClientService(deps Deps) *ClientService {
	deps.fill()
	return &ClientService{deps: deps}
}

func (s *ClientService) Create(ctx context.Context, ownerID uint, in ClientInput) (*models.Client, error) {
	if v := in.validate(); !v.Empty() {
		return nil, apperr.Invalid("clients.Create", v)
	}
	c := &models.Client{
		OwnerID: ownerID,
		Name:    strings.TrimSpace(in.Name),
		Email:   strings.TrimSpace(in.Email),
		Company: strings.TrimSpace(in.Company),
	}
	if err := s.deps.DB.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	s.deps.Audit.Record(ctx, AuditEntry{ActorID: &ownerID, Source: SourceAPI, EntityType: "client", EntityID: c.ID, Action: "create", NewValue: c.Name})
	s.deps.notify(ctx, &ownerID, models.EventClientCreated, *c)
	return c, nil
}

func (s *ClientService) get(ctx context.Context, ownerID, id uint, action policy.Action) (*models.Client, error) {
	var c models.Client
	if err := s.deps.DB.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, "clients.Get", "client not found")
	}
	if err := s.deps.Gate.Authorize(ctx, ownerID, action, policy.ResourceClient, &c); err != nil {
		return nil, apperr.NotFound("clients.Get", "client not found")
	}
	return &c, nil
}

// Get returns the client with its incremental ledger and the aggregate
// recomputed from live invoices.
func (s *ClientService) Get(ctx context.Context, ownerID, id uint) (*ClientView, error) {
	c, err := s.get(ctx, ownerID, id, policy.ActionView)
	if err != nil {
		return nil, err
	}
	sum, err := s.deps.Ledger.Summary(ctx, c)
	if err != nil {
		return nil, err
	}
	return &ClientView{Client: *c, Balances: sum}, nil
}

func (s *ClientService) Update(ctx context.Context, ownerID, id uint, in ClientInput) (*models.Client, error) {
	if v := in.validate(); !v.Empty() {
		return nil, apperr.Invalid("clients.Update", v)
	}
	c, err := s.get(ctx, ownerID, id, policy.ActionUpdate)
	if err != nil {
		return nil, err
	}
	old := c.Name
	c.Name = strings.TrimSpace(in.Name)
	c.Email = strings.TrimSpace(in.Email)
	c.Company = strings.TrimSpace(in.Company)
	// Ledger columns are only touched by atomic increments.
	if err := s.deps.DB.WithContext(ctx).Model(c).Select("name", "email", "company").Updates(c).Error; err != nil {
		return nil, fmt.Errorf("update client %d: %w", id, err)
	}
	s.deps.Audit.Record(ctx, AuditEntry{ActorID: &ownerID, Source: SourceAPI, EntityType: "client", EntityID: c.ID, Action: "update", Field: "name", OldValue: old, NewValue: c.Name})
	s.deps.notify(ctx, &ownerID, models.EventClientUpdated, *c)
	return c, nil
}

// Delete soft-deletes a client. Its invoices keep their client reference.
func (s *ClientService) Delete(ctx context.Context, ownerID, id uint) error {
	c, err := s.get(ctx, ownerID, id, policy.ActionDelete)
	if err != nil {
		return err
	}
	if err := s.deps.DB.WithContext(ctx).Delete(c).Error; err != nil {
		return fmt.Errorf("delete client %d: %w", id, err)
	}
	s.deps.Audit.Record(ctx, AuditEntry{ActorID: &ownerID, Source: SourceAPI, EntityType: "client", EntityID: c.ID, Action: "delete", OldValue: c.Name})
	s.deps.notify(ctx, &ownerID, models.EventClientDeleted, map[string]any{"id": c.ID, "name": c.Name})
	return nil
}

// ReconcileLedger overwrites the client's running totals with the aggregate.
func (s *ClientService) ReconcileLedger(ctx context.Context, ownerID, id uint) (*ClientView, error) {
	c, err := s.get(ctx, ownerID, id, policy.ActionUpdate)
	if err != nil {
		return nil, err
	}
	before := Balances{TotalInvoiced: c.TotalInvoiced, TotalPaid: c.TotalPaid}
	agg, err := s.deps.Ledger.Reconcile(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.TotalInvoiced, c.TotalPaid = agg.TotalInvoiced, agg.TotalPaid
	if before != agg {
		s.deps.Audit.Record(ctx, AuditEntry{ActorID: &ownerID, Source: SourceAPI, EntityType: "client", EntityID: c.ID, Action: "ledger_reconcile",
			OldValue: fmt.Sprintf("%d/%d", before.TotalInvoiced, before.TotalPaid), NewValue: fmt.Sprintf("%d/%d", agg.TotalInvoiced, agg.TotalPaid)})
	}
	return &ClientView{Client: *c, Balances: LedgerSummary{Ledger: agg, Aggregate: agg}}, nil
}
