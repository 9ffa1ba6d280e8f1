package handlers

import (
	"net/http"

	"github.com/diewo77/invoicing/httpx"
	"github.com/diewo77/invoicing/internal/webhooks"
)

type WebhookHandler struct {
	svc *webhooks.Service
}

func NewWebhookHandler(svc *webhooks.Service) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// Create: POST /webhooks. The signing secret is only ever returned here and
// by RegenerateSecret.
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in webhooks.CreateInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, err)
		return
	}
	wh, secret, err := h.svc.Create(r.Context(), ownerID(r), in)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, map[string]any{"webhook": wh, "secret": secret})
}

// List: GET /webhooks
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), ownerID(r))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, list)
}

// Get: GET /webhooks/{id}, including the recent delivery attempts.
func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	wh, err := h.svc.Get(r.Context(), ownerID(r), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, wh)
}

// Update: PUT /webhooks/{id}
func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var in webhooks.UpdateInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, err)
		return
	}
	wh, err := h.svc.Update(r.Context(), ownerID(r), id, in)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, wh)
}

// Delete: DELETE /webhooks/{id}
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	if err := h.svc.Delete(r.Context(), ownerID(r), id); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]uint{"id": id})
}

// RegenerateSecret: POST /webhooks/{id}/secret
func (h *WebhookHandler) RegenerateSecret(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	secret, err := h.svc.RegenerateSecret(r.Context(), ownerID(r), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]string{"secret": secret})
}
