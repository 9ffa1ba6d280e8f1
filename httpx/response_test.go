package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diewo77/invoicing/internal/apperr"
)

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Validation("op", "bad"), http.StatusBadRequest},
		{apperr.Signature("op", errors.New("x")), http.StatusBadRequest},
		{apperr.Conflict("op", "dup"), http.StatusConflict},
		{apperr.NotFound("op", "missing"), http.StatusNotFound},
		{apperr.Forbidden("op", "no"), http.StatusForbidden},
		{apperr.External("op", errors.New("x")), http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", apperr.Conflict("op", "dup")), http.StatusConflict},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestErrorWritesEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, apperr.Invalid("op", map[string]string{"tax_percent": "out_of_range"}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Success {
		t.Fatalf("expected success=false")
	}
	if env.Message != "validation failed" || env.Errors["tax_percent"] != "out_of_range" {
		t.Fatalf("unexpected envelope: %#v", env)
	}
}

func TestOKWritesData(t *testing.T) {
	w := httptest.NewRecorder()
	OK(w, http.StatusCreated, map[string]int{"id": 7})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
	if got := w.Body.String(); got != `{"success":true,"data":{"id":7}}` {
		t.Fatalf("body = %s", got)
	}
}
