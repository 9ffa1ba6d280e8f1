package handlers

import (
	"net/http"

	"github.com/diewo77/invoicing/httpx"
	"github.com/diewo77/invoicing/internal/services"
)

type ClientHandler struct {
	svc *services.ClientService
}

func NewClientHandler(svc *services.ClientService) *ClientHandler {
	return &ClientHandler{svc: svc}
}

// Create: POST /clients
func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.ClientInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, err)
		return
	}
	c, err := h.svc.Create(r.Context(), ownerID(r), in)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, c)
}

// Get: GET /clients/{id}, with both ledger read models.
func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	v, err := h.svc.Get(r.Context(), ownerID(r), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, v)
}

// Update: PUT /clients/{id}
func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var in services.ClientInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, err)
		return
	}
	c, err := h.svc.Update(r.Context(), ownerID(r), id, in)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, c)
}

// Delete: DELETE /clients/{id}
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// Reconcile: POST /clients/{id}/ledger/reconcile
func (h *ClientHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	v, err := h.svc.ReconcileLedger(r.Context(), ownerID(r), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, v)
}
