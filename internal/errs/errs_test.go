package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestAs_UnwrapsThroughFmtErrorf(t *testing.T) {
	base := New(Conflict, "VisitorBanned", "visitor is banned")
	wrapped := fmt.Errorf("creating visit: %w", base)

	e, ok := As(wrapped)
	if !ok {
		t.Fatal("As should find the typed error through a fmt.Errorf wrap")
	}
	if e.Code != Conflict || e.Reason != "VisitorBanned" {
		t.Errorf("extracted %v/%v", e.Code, e.Reason)
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	e := Wrap(Dependency, "DatabaseDown", "database unavailable", cause)

	if !errors.Is(e, cause) {
		t.Error("wrapped error should match its cause with errors.Is")
	}
	if e.Error() == cause.Error() {
		t.Error("Error() should carry the taxonomy prefix, not just the cause")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(Authn, "TokenExpired", "expired")); got != Authn {
		t.Errorf("CodeOf(typed) = %v, want %v", got, Authn)
	}
	if got := CodeOf(errors.New("plain")); got != Internal {
		t.Errorf("CodeOf(untyped) = %v, want %v", got, Internal)
	}
	if got := CodeOf(nil); got != Internal {
		t.Errorf("CodeOf(nil) = %v, want %v", got, Internal)
	}
}

func TestIs(t *testing.T) {
	e := New(Conflict, "BanAlreadyExists", "already banned")
	if !Is(e, "BanAlreadyExists") {
		t.Error("Is should match the reason")
	}
	if Is(e, "VisitorBanned") {
		t.Error("Is should not match a different reason")
	}
	if Is(errors.New("plain"), "BanAlreadyExists") {
		t.Error("Is should not match an untyped error")
	}
	if Is(nil, "BanAlreadyExists") {
		t.Error("Is should not match nil")
	}
}

func TestWithDetails(t *testing.T) {
	e := New(Validation, "InvalidRegistration", "bad fields").
		WithDetails(map[string]any{"email": "must be a valid email address"})
	if e.Details["email"] == nil {
		t.Error("details should carry the field message")
	}
}
