package visit

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateShortCode(t *testing.T) {
	seen := make(map[string]int)
	for i := 0; i < 1000; i++ {
		code, err := GenerateShortCode()
		if err != nil {
			t.Fatalf("GenerateShortCode: %v", err)
		}
		if len(code) != shortCodeLength {
			t.Fatalf("code %q length = %d, want %d", code, len(code), shortCodeLength)
		}
		for _, c := range code {
			if !strings.ContainsRune(shortCodeAlphabet, c) {
				t.Fatalf("code %q contains %q outside the alphabet", code, c)
			}
		}
		seen[code]++
	}
	// 1000 draws from a 36^6 space should essentially never repeat; a
	// code drawn three or more times points at a broken random source.
	for code, n := range seen {
		if n > 2 {
			t.Errorf("code %q generated %d times", code, n)
		}
	}
}

func TestGenerateQR_RoundTrip(t *testing.T) {
	visitID := uuid.New()
	qr, err := GenerateQR(visitID)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}

	if !strings.HasPrefix(qr.Plaintext, visitID.String()+".") {
		t.Errorf("plaintext %q not bound to visit id", qr.Plaintext)
	}
	if HashQR(qr.Plaintext) != qr.Hash {
		t.Error("HashQR(plaintext) does not match the stored hash")
	}

	qr2, err := GenerateQR(visitID)
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}
	if qr.Plaintext == qr2.Plaintext {
		t.Error("two QR payloads for the same visit should differ")
	}
}

func TestStateIsTerminal(t *testing.T) {
	terminal := map[State]bool{
		StatePending:   false,
		StateConfirmed: false,
		StateActive:    false,
		StateCompleted: true,
		StateCancelled: true,
		StateExpired:   true,
	}
	for state, want := range terminal {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", state, got, want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StatePending, StateConfirmed},
		{StatePending, StateActive},
		{StatePending, StateCancelled},
		{StatePending, StateExpired},
		{StateConfirmed, StateActive},
		{StateConfirmed, StateCancelled},
		{StateConfirmed, StateExpired},
		{StateActive, StateCompleted},
		{StateActive, StateCancelled},
		{StateActive, StateExpired},
	}
	allowedSet := make(map[[2]State]bool, len(allowed))
	for _, tr := range allowed {
		allowedSet[[2]State{tr.from, tr.to}] = true
	}

	states := []State{StatePending, StateConfirmed, StateActive, StateCompleted, StateCancelled, StateExpired}
	for _, from := range states {
		for _, to := range states {
			want := allowedSet[[2]State{from, to}]
			if got := canTransition(from, to); got != want {
				t.Errorf("canTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}
