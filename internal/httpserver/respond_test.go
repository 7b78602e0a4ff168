package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wisbric/safeguard/internal/errs"
)

func TestStatusForCode(t *testing.T) {
	cases := map[errs.Code]int{
		errs.Validation:  http.StatusUnprocessableEntity,
		errs.Authn:       http.StatusUnauthorized,
		errs.Authz:       http.StatusForbidden,
		errs.NotFound:    http.StatusNotFound,
		errs.Conflict:    http.StatusConflict,
		errs.License:     http.StatusConflict,
		errs.RateLimited: http.StatusTooManyRequests,
		errs.Dependency:  http.StatusServiceUnavailable,
		errs.Internal:    http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusForCode(code); got != want {
			t.Errorf("statusForCode(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestRespond_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	Respond(w, http.StatusCreated, map[string]string{"id": "abc"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if !env.Success {
		t.Error("success should be true")
	}
	if env.Error != nil {
		t.Error("error member should be absent on success")
	}
}

func TestRespondError_TypedError(t *testing.T) {
	w := httptest.NewRecorder()
	RespondError(w, nil, errs.New(errs.Conflict, "VisitorBanned", "visitor is banned"))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if env.Success {
		t.Error("success should be false")
	}
	if env.Error == nil || env.Error.Code != string(errs.Conflict) {
		t.Errorf("error = %+v, want code CONFLICT", env.Error)
	}
	if env.Error.Message != "visitor is banned" {
		t.Errorf("message = %q", env.Error.Message)
	}
}

func TestRespondError_UntypedErrorDoesNotLeak(t *testing.T) {
	w := httptest.NewRecorder()
	RespondError(w, nil, errors.New("pq: duplicate key value violates unique constraint"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if env.Error == nil {
		t.Fatal("error member missing")
	}
	if env.Error.Code != string(errs.Internal) {
		t.Errorf("code = %q, want INTERNAL", env.Error.Code)
	}
	if env.Error.Message == "pq: duplicate key value violates unique constraint" {
		t.Error("the raw database error must not cross the boundary")
	}
}
