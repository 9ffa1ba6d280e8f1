package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/policy"
	"github.com/diewo77/invoicing/internal/services"
	"github.com/diewo77/invoicing/validation"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// reservedHeaders are set by the dispatcher and cannot be overridden.
var reservedHeaders = []string{"Content-Type", HeaderEvent, HeaderSignature}

// CreateInput describes a new webhook.
type CreateInput struct {
	URL     string            `json:"url"`
	Events  []string          `json:"events"`
	Headers map[string]string `json:"headers"`
}

// UpdateInput carries the fields to change; nil means unchanged.
type UpdateInput struct {
	URL     *string            `json:"url"`
	Events  *[]string          `json:"events"`
	Headers *map[string]string `json:"headers"`
	Active  *bool              `json:"active"`
}

// Service manages an owner's webhooks.
type Service struct {
	db    *gorm.DB
	gate  *policy.Gate
	audit services.AuditLogger
}

func NewService(db *gorm.DB, gate *policy.Gate, audit services.AuditLogger) *Service {
	if gate == nil {
		gate = policy.Default()
	}
	return &Service{db: db, gate: gate, audit: audit}
}

func validateHeaders(h map[string]string, v validation.Violations) map[string]string {
	out := make(map[string]string, len(h))
	for k, val := range h {
		name := http.CanonicalHeaderKey(strings.TrimSpace(k))
		if name == "" || lo.Contains(reservedHeaders, name) {
			v["headers"] = "reserved_or_empty:" + k
			continue
		}
		out[name] = val
	}
	return out
}

// Create registers a webhook and returns it together with its secret. The
// secret is not retrievable afterwards.
func (s *Service) Create(ctx context.Context, ownerID uint, in CreateInput) (*models.Webhook, string, error) {
	v := make(validation.Violations)
	validation.HTTPURL("url", in.URL, v)
	validation.SubsetOf("events", in.Events, models.WebhookEvents, v)
	headers := validateHeaders(in.Headers, v)
	if !v.Empty() {
		return nil, "", apperr.Invalid("webhooks.Create", v)
	}
	secret, err := NewSecret()
	if err != nil {
		return nil, "", err
	}
	w := &models.Webhook{
		OwnerID: ownerID,
		URL:     strings.TrimSpace(in.URL),
		Events:  lo.Uniq(in.Events),
		Headers: headers,
		Active:  true,
		Secret:  secret,
	}
	if err := s.db.WithContext(ctx).Create(w).Error; err != nil {
		return nil, "", fmt.Errorf("create webhook: %w", err)
	}
	s.audit.Record(ctx, services.AuditEntry{ActorID: &ownerID, Source: services.SourceAPI, EntityType: "webhook", EntityID: w.ID, Action: "create", NewValue: w.URL})
	return w, secret, nil
}

// List returns the owner's webhooks, newest first.
func (s *Service) List(ctx context.Context, ownerID uint) ([]models.Webhook, error) {
	var hooks []models.Webhook
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id DESC").Find(&hooks).Error; err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return hooks, nil
}

func (s *Service) Get(ctx context.Context, ownerID, id uint) (*models.Webhook, error) {
	var w models.Webhook
	if err := s.db.WithContext(ctx).First(&w, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("webhooks.Get", "webhook not found")
		}
		return nil, fmt.Errorf("get webhook %d: %w", id, err)
	}
	if !s.gate.Can(ctx, ownerID, policy.ActionView, policy.ResourceWebhook, &w) {
		return nil, apperr.NotFound("webhooks.Get", "webhook not found")
	}
	return &w, nil
}

func (s *Service) Update(ctx context.Context, ownerID, id uint, in UpdateInput) (*models.Webhook, error) {
	w, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	v := make(validation.Violations)
	if in.URL != nil {
		validation.HTTPURL("url", *in.URL, v)
		w.URL = strings.TrimSpace(*in.URL)
	}
	if in.Events != nil {
		validation.SubsetOf("events", *in.Events, models.WebhookEvents, v)
		w.Events = lo.Uniq(*in.Events)
	}
	if in.Headers != nil {
		w.Headers = validateHeaders(*in.Headers, v)
	}
	if in.Active != nil {
		w.Active = *in.Active
	}
	if !v.Empty() {
		return nil, apperr.Invalid("webhooks.Update", v)
	}
	if err := s.db.WithContext(ctx).Model(w).Select("url", "events", "headers", "active").Updates(w).Error; err != nil {
		return nil, fmt.Errorf("update webhook %d: %w", id, err)
	}
	s.audit.Record(ctx, services.AuditEntry{ActorID: &ownerID, Source: services.SourceAPI, EntityType: "webhook", EntityID: w.ID, Action: "update"})
	return w, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, id uint) error {
	w, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(w).Error; err != nil {
		return fmt.Errorf("delete webhook %d: %w", id, err)
	}
	s.audit.Record(ctx, services.AuditEntry{ActorID: &ownerID, Source: services.SourceAPI, EntityType: "webhook", EntityID: w.ID, Action: "delete"})
	return nil
}

// RegenerateSecret replaces the signing secret and returns the new one.
func (s *Service) RegenerateSecret(ctx context.Context, ownerID, id uint) (string, error) {
	w, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	secret, err := NewSecret()
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Model(w).UpdateColumn("secret", secret).Error; err != nil {
		return "", fmt.Errorf("rotate webhook secret %d: %w", id, err)
	}
	s.audit.Record(ctx, services.AuditEntry{ActorID: &ownerID, Source: services.SourceAPI, EntityType: "webhook", EntityID: w.ID, Action: "rotate_secret"})
	return secret, nil
}
