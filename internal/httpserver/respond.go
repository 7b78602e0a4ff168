package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/store"
)

// Envelope is the uniform response shape every handler writes:
// {success, data?, error?: {code, message, details?}, meta?}.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *EnvelopeError `json:"error,omitempty"`
	Meta    any            `json:"meta,omitempty"`
}

// EnvelopeError is the error member of Envelope.
type EnvelopeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Meta is the pagination metadata member of Envelope.
type Meta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// MetaFromPage builds an envelope Meta from a store.Page.
func MetaFromPage[T any](p store.Page[T]) Meta {
	return Meta{Page: p.Page, Limit: p.Limit, Total: p.Total, TotalPages: p.TotalPages}
}

// Respond writes a successful envelope.
func Respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

// RespondWithMeta writes a successful envelope carrying pagination meta.
func RespondWithMeta(w http.ResponseWriter, status int, data, meta any) {
	writeJSON(w, status, Envelope{Success: true, Data: data, Meta: meta})
}

// statusForCode maps the error taxonomy to an HTTP status.
func statusForCode(code errs.Code) int {
	switch code {
	case errs.Validation:
		return http.StatusUnprocessableEntity
	case errs.Authn:
		return http.StatusUnauthorized
	case errs.Authz:
		return http.StatusForbidden
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Conflict, errs.License:
		return http.StatusConflict
	case errs.RateLimited:
		return http.StatusTooManyRequests
	case errs.Dependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes an error envelope, classifying err against the
// taxonomy and logging internal failures without leaking them to the
// caller. A nil logger is tolerated (no logging).
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	e, ok := errs.As(err)
	if !ok {
		e = errs.Wrap(errs.Internal, "Internal", "an unexpected error occurred", err)
	}

	status := statusForCode(e.Code)
	if status >= 500 && logger != nil {
		logger.Error("request failed", "code", e.Code, "reason", e.Reason, "error", err)
	}

	writeJSON(w, status, Envelope{
		Success: false,
		Error: &EnvelopeError{
			Code:    string(e.Code),
			Message: e.Message,
			Details: e.Details,
		},
	})
}

// RespondValidationError writes a 422 envelope carrying field-level details.
func RespondValidationError(w http.ResponseWriter, fields []ValidationError) {
	details := make(map[string]any, len(fields))
	for _, f := range fields {
		details[f.Field] = f.Message
	}
	writeJSON(w, http.StatusUnprocessableEntity, Envelope{
		Success: false,
		Error: &EnvelopeError{
			Code:    string(errs.Validation),
			Message: "one or more fields failed validation",
			Details: details,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
