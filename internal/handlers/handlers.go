// Package handlers exposes the services as a JSON API. Handlers decode the
// request, convert money from major to minor units and map service errors
// onto status codes through httpx.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/diewo77/invoicing/auth"
	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/money"
	"github.com/shopspring/decimal"
)

// pathID parses the {id} path segment.
func pathID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.NotFound("handlers.pathID", "not found")
	}
	return uint(id), nil
}

// ownerID returns the authenticated owner. Routes behind auth.RequireAuth
// always carry one.
func ownerID(r *http.Request) uint {
	uid, _ := auth.UserIDFromContext(r.Context())
	return uid
}

func minorPtr(d *decimal.Decimal) *int64 {
	if d == nil {
		return nil
	}
	v := money.FromMajor(*d)
	return &v
}
