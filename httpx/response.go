package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diewo77/invoicing/internal/apperr"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    any               `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(payload)
	if err != nil {
		// best-effort error response; avoid writing partial JSON
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"encode_error"}`))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// OK writes a success envelope around data.
func OK(w http.ResponseWriter, status int, data any) {
	JSON(w, status, Envelope{Success: true, Data: data})
}

// Fail writes a failure envelope with msg.
func Fail(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, Envelope{Success: false, Message: msg})
}

// Error maps err to a status code through its apperr kind and writes the
// failure envelope. Unknown errors become 500 without leaking details.
func Error(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	env := Envelope{Success: false, Message: apperr.Message(err)}
	var e *apperr.Error
	if errors.As(err, &e) && len(e.Fields) > 0 {
		env.Errors = e.Fields
	}
	JSON(w, status, env)
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrSignature):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrExternal):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON body into dst, rejecting unknown fields.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("httpx.Decode", "invalid_json")
	}
	return nil
}
