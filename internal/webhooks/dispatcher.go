// Package webhooks delivers signed event notifications to owner-registered
// endpoints and manages those endpoints.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/tasks"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// Envelope is the body of every delivery.
type Envelope struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Dispatcher fans events out to subscribed webhooks. Deliveries are made once,
// concurrently, and their outcome only shows up in counters, the attempt
// history and logs.
type Dispatcher struct {
	db     *gorm.DB
	client *http.Client
	tasks  tasks.Submitter
	log    zerolog.Logger
	now    func() time.Time

	// locks serialises history writes per webhook id.
	locks sync.Map
}

// NewDispatcher builds a dispatcher submitting fan-out to submitter.
func NewDispatcher(db *gorm.DB, submitter tasks.Submitter, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		db:     db,
		client: &http.Client{Timeout: timeout},
		tasks:  submitter,
		log:    log,
		now:    time.Now,
	}
}

// Notify serialises the envelope immediately and schedules the fan-out. It
// never blocks on delivery and never reports delivery errors.
func (d *Dispatcher) Notify(_ context.Context, ownerID uint, event string, data any) {
	body, err := json.Marshal(Envelope{Event: event, Timestamp: d.now().UTC(), Data: data})
	if err != nil {
		d.log.Error().Err(err).Str("event", event).Msg("encode webhook envelope")
		return
	}
	d.tasks.Submit("webhooks."+event, func(ctx context.Context) error {
		return d.Dispatch(ctx, ownerID, event, body)
	})
}

// Dispatch delivers body to every active webhook of ownerID subscribed to
// event and waits for all attempts.
func (d *Dispatcher) Dispatch(ctx context.Context, ownerID uint, event string, body []byte) error {
	var hooks []models.Webhook
	err := d.db.WithContext(ctx).Where("owner_id = ? AND active = ?", ownerID, true).Find(&hooks).Error
	if err != nil {
		return fmt.Errorf("load webhooks for owner %d: %w", ownerID, err)
	}
	targets := lo.Filter(hooks, func(w models.Webhook, _ int) bool { return w.Subscribes(event) })

	var wg sync.WaitGroup
	for _, w := range targets {
		wg.Add(1)
		go func(w models.Webhook) {
			defer wg.Done()
			attempt := d.deliver(ctx, w, event, body)
			if err := d.record(ctx, w.ID, attempt); err != nil {
				d.log.Error().Err(err).Uint("webhook_id", w.ID).Msg("record webhook attempt")
			}
		}(w)
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, w models.Webhook, event string, body []byte) models.DeliveryAttempt {
	start := d.now()
	attempt := models.DeliveryAttempt{ID: uuid.NewString(), Event: event, Timestamp: start.UTC()}

	ctx, cancel := context.WithTimeout(ctx, d.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		attempt.Error = err.Error()
		return attempt
	}
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderSignature, Sign(w.Secret, body))

	resp, err := d.client.Do(req)
	attempt.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		attempt.Error = err.Error()
		d.log.Warn().Err(err).Uint("webhook_id", w.ID).Str("event", event).Msg("webhook delivery failed")
		return attempt
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	attempt.StatusCode = resp.StatusCode
	attempt.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !attempt.Success {
		attempt.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		d.log.Warn().Uint("webhook_id", w.ID).Str("event", event).Int("status", resp.StatusCode).Msg("webhook delivery rejected")
	}
	return attempt
}

func (d *Dispatcher) lock(id uint) func() {
	m, _ := d.locks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// record bumps the counters atomically and appends to the bounded history.
func (d *Dispatcher) record(ctx context.Context, id uint, a models.DeliveryAttempt) error {
	unlock := d.lock(id)
	defer unlock()
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w models.Webhook
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id, attempts").First(&w, id).Error; err != nil {
			return err
		}
		w.RecordAttempt(a)
		counter := "failure_count"
		if a.Success {
			counter = "success_count"
		}
		at := a.Timestamp
		w.LastDeliveryAt = &at
		if err := tx.Model(&w).Select("attempts", "last_delivery_at").Updates(&w).Error; err != nil {
			return err
		}
		return tx.Model(&models.Webhook{}).Where("id = ?", id).
			UpdateColumn(counter, gorm.Expr(counter+" + 1")).Error
	})
}
