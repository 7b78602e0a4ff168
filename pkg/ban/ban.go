// Package ban implements BanEngine: the personal and building-scoped
// visitor-ban evaluator. It answers two questions in constant SQL calls,
// is phone P banned by user U and is phone P banned anywhere inside
// building B, and owns the Ban entity's CRUD.
package ban

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/safeguard/internal/errs"
)

// Severity is informational; it never gates the active-ban predicate.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func validSeverity(s Severity) bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// Type distinguishes a ban a resident entered by hand from one raised
// automatically by some future rule engine; the core itself only ever
// creates manual bans, but the column exists for that extension point.
type Type string

const (
	TypeManual    Type = "manual"
	TypeAutomatic Type = "automatic"
)

// Ban is a denial record: one owner refusing entry to one phone number.
type Ban struct {
	ID           uuid.UUID
	OwnerID      uuid.UUID
	TargetPhone  string // E.164, normalized
	TargetName   string
	Reason       string
	Severity     Severity
	Type         Type
	CreatedAt    time.Time
	ExpiresAt    *time.Time // nil means permanent
	Active       bool
	UnbanReason  string
	UnbannedAt   *time.Time
}

// IsExpired reports whether b's expiry has passed as of now. An expired ban
// is excluded from the active predicate even though no sweeper flips its
// Active flag — the check is idempotent, not a state transition.
func (b *Ban) IsExpired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

var phoneCleanRe = regexp.MustCompile(`[\s\-()]`)
var phoneValidRe = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// NormalizePhone strips spaces, hyphens, and parentheses and requires a
// leading '+' and country code.
func NormalizePhone(raw string) (string, error) {
	cleaned := phoneCleanRe.ReplaceAllString(strings.TrimSpace(raw), "")
	if !phoneValidRe.MatchString(cleaned) {
		return "", errs.New(errs.Validation, "InvalidPhone", "phone must be E.164 format, e.g. +2348011112222")
	}
	return cleaned, nil
}
