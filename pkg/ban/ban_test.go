package ban

import (
	"testing"
	"time"

	"github.com/wisbric/safeguard/internal/errs"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+2348011112222", "+2348011112222"},
		{"+234 801 111 2222", "+2348011112222"},
		{"+234-801-111-2222", "+2348011112222"},
		{"+234 (801) 111-2222", "+2348011112222"},
		{"  +14155552671  ", "+14155552671"},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if err != nil {
			t.Errorf("NormalizePhone(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePhone_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"2348011112222",   // no leading +
		"+0123456789",     // country code cannot start with 0
		"+12345",          // too short
		"+123456789012345678", // too long
		"+234801x112222",  // letters
	} {
		if _, err := NormalizePhone(in); !errs.Is(err, "InvalidPhone") {
			t.Errorf("NormalizePhone(%q) err = %v, want InvalidPhone", in, err)
		}
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	permanent := &Ban{}
	if permanent.IsExpired(now) {
		t.Error("a ban with no expiry is permanent")
	}

	expired := &Ban{ExpiresAt: &past}
	if !expired.IsExpired(now) {
		t.Error("a ban past its expiry is expired")
	}

	live := &Ban{ExpiresAt: &future}
	if live.IsExpired(now) {
		t.Error("a ban before its expiry is not expired")
	}

	boundary := &Ban{ExpiresAt: &now}
	if !boundary.IsExpired(now) {
		t.Error("expiry exactly at now counts as expired")
	}
}

func TestValidSeverity(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh} {
		if !validSeverity(s) {
			t.Errorf("validSeverity(%q) = false", s)
		}
	}
	if validSeverity("extreme") {
		t.Error(`validSeverity("extreme") = true`)
	}
}
