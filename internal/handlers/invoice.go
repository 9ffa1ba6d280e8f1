package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/diewo77/invoicing/httpx"
	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/diewo77/invoicing/internal/money"
	"github.com/diewo77/invoicing/internal/payments"
	"github.com/diewo77/invoicing/internal/services"
	"github.com/shopspring/decimal"
)

// CheckoutOpener opens hosted checkouts. Nil when online payment is off.
type CheckoutOpener interface {
	CreateSession(ctx context.Context, ownerID, invoiceID uint) (*payments.Checkout, error)
}

// InvoiceHandler serves /invoices and the public share link.
type InvoiceHandler struct {
	svc      *services.InvoiceService
	checkout CheckoutOpener
}

func NewInvoiceHandler(svc *services.InvoiceService, checkout CheckoutOpener) *InvoiceHandler {
	return &InvoiceHandler{svc: svc, checkout: checkout}
}

// lineItemReq carries rate in major units.
type lineItemReq struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
}

func toItemInputs(in []lineItemReq) []services.LineItemInput {
	out := make([]services.LineItemInput, len(in))
	for i, it := range in {
		out[i] = services.LineItemInput{Description: it.Description, Quantity: it.Quantity, Rate: money.FromMajor(it.Rate)}
	}
	return out
}

type createInvoiceReq struct {
	ClientID     *uint                `json:"client_id"`
	Number       string               `json:"number"`
	Status       models.InvoiceStatus `json:"status"`
	Currency     string               `json:"currency"`
	IssueDate    *time.Time           `json:"issue_date"`
	DueDate      *time.Time           `json:"due_date"`
	Notes        string               `json:"notes"`
	Items        []lineItemReq        `json:"items"`
	TaxPercent   decimal.Decimal      `json:"tax_percent"`
	DiscountFlat decimal.Decimal      `json:"discount_flat"`
}

func (req createInvoiceReq) input() services.CreateInvoiceInput {
	in := services.CreateInvoiceInput{
		ClientID:     req.ClientID,
		Number:       req.Number,
		Status:       req.Status,
		Currency:     req.Currency,
		DueDate:      req.DueDate,
		Notes:        req.Notes,
		Items:        toItemInputs(req.Items),
		TaxPercent:   req.TaxPercent,
		DiscountFlat: money.FromMajor(req.DiscountFlat),
	}
	if req.IssueDate != nil {
		in.IssueDate = *req.IssueDate
	}
	return in
}

type updateInvoiceReq struct {
	Items        *[]lineItemReq   `json:"items"`
	TaxPercent   *decimal.Decimal `json:"tax_percent"`
	DiscountFlat *decimal.Decimal `json:"discount_flat"`
	DueDate      *time.Time       `json:"due_date"`
	Notes        *string          `json:"notes"`
}

type statusReq struct {
	Status models.InvoiceStatus `json:"status"`
}

// Create: POST /invoices
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	uid := ownerID(r)
	inv, err := h.svc.Create(r.Context(), &uid, req.input())
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, inv)
}

// CreateGuest: POST /public/invoices. Guest invoices have no owner and no
// client.
func (h *InvoiceHandler) CreateGuest(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	inv, err := h.svc.Create(r.Context(), nil, req.input())
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, inv)
}

// Get: GET /invoices/{id}
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	inv, err := h.svc.Get(r.Context(), ownerID(r), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, inv)
}

// Update: PUT /invoices/{id}
func (h *InvoiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var req updateInvoiceReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	in := services.UpdateInvoiceInput{
		TaxPercent:   req.TaxPercent,
		DiscountFlat: minorPtr(req.DiscountFlat),
		DueDate:      req.DueDate,
		Notes:        req.Notes,
	}
	if req.Items != nil {
		items := toItemInputs(*req.Items)
		in.Items = &items
	}
	inv, err := h.svc.Update(r.Context(), ownerID(r), id, in)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, inv)
}

// Delete: DELETE /invoices/{id}
func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

// ChangeStatus: POST /invoices/{id}/status
func (h *InvoiceHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var req statusReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	inv, err := h.svc.ChangeStatus(r.Context(), ownerID(r), id, req.Status)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, inv)
}

// Share: POST /invoices/{id}/share
func (h *InvoiceHandler) Share(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	inv, err := h.svc.Share(r.Context(), ownerID(r), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"id": inv.ID, "token": inv.Share.Token, "path": "/public/invoices/" + inv.Share.Token})
}

// Checkout: POST /invoices/{id}/checkout
func (h *InvoiceHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		httpx.Error(w, apperr.Forbidden("handlers.Checkout", "online payment is not configured"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	co, err := h.checkout.CreateSession(r.Context(), ownerID(r), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, co)
}

// ViewPublic: GET /public/invoices/{token}
func (h *InvoiceHandler) ViewPublic(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.ViewPublic(r.Context(), r.PathValue("token"))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, inv)
}
