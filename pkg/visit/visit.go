// Package visit implements VisitEngine: the visit lifecycle state machine.
// Creation with short-code/QR issuance, scan processing for entry and exit,
// cancellation, and the expiry sweep.
package visit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/safeguard/internal/errs"
)

// State is one node of the visit state machine.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// IsTerminal reports whether s is an absorbing state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateExpired
}

// VisitorState is one node of a Visitor's per-visit state machine.
type VisitorState string

const (
	VisitorExpected VisitorState = "expected"
	VisitorArrived  VisitorState = "arrived"
	VisitorEntered  VisitorState = "entered"
	VisitorExited   VisitorState = "exited"
	VisitorCancelled VisitorState = "cancelled"
)

// Visitor is one person embedded in a Visit.
type Visitor struct {
	ID        uuid.UUID
	VisitID   uuid.UUID
	Name      string
	Phone     string // E.164
	State     VisitorState
	EntryAt   *time.Time
	ExitAt    *time.Time
	CreatedAt time.Time
}

// Visit is a pending or active pass.
type Visit struct {
	ID              uuid.UUID
	HostID          uuid.UUID
	BuildingID      uuid.UUID
	Purpose         string
	ExpectedStart   time.Time
	ExpectedEnd     time.Time
	ShortCode       string // empty once retired
	QRHash          string // sha256 hex of the plaintext QR payload; empty once retired
	State           State
	CreatedAt       time.Time
	LastTransitionAt time.Time
	Visitors        []*Visitor
}

// shortCodeAlphabet is the uppercase alphanumeric alphabet used for
// human-readable pass codes.
const shortCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const shortCodeLength = 6

// maxShortCodeAttempts bounds the retry loop on a short-code collision,
// which the building-scoped unique index makes rare.
const maxShortCodeAttempts = 5

// GenerateShortCode returns a uniform-random 6-character uppercase
// alphanumeric code. Uniqueness is enforced by the caller retrying against
// the database's unique partial index, not by this function.
func GenerateShortCode() (string, error) {
	// Bytes at or above the largest multiple of the alphabet size are
	// rejected so every symbol is equally likely.
	limit := 256 - 256%len(shortCodeAlphabet)
	buf := make([]byte, 1)
	out := make([]byte, 0, shortCodeLength)
	for len(out) < shortCodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", errs.Wrap(errs.Internal, "RandFailure", "failed to generate short code", err)
		}
		if int(buf[0]) >= limit {
			continue
		}
		out = append(out, shortCodeAlphabet[int(buf[0])%len(shortCodeAlphabet)])
	}
	return string(out), nil
}

// QRPayload is a newly minted QR pass: the opaque plaintext returned once to
// the caller, and its sha256 hash stored on the Visit row.
type QRPayload struct {
	Plaintext string
	Hash      string
}

// GenerateQR mints an opaque, globally unique QR payload bound to visitID.
func GenerateQR(visitID uuid.UUID) (QRPayload, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return QRPayload{}, errs.Wrap(errs.Internal, "RandFailure", "failed to generate QR payload", err)
	}
	plaintext := visitID.String() + "." + hex.EncodeToString(buf)
	sum := sha256.Sum256([]byte(plaintext))
	return QRPayload{Plaintext: plaintext, Hash: hex.EncodeToString(sum[:])}, nil
}

// HashQR hashes a caller-presented QR plaintext for lookup.
func HashQR(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// canTransition reports whether the visit state machine permits the
// from/to pair. Expiry is handled separately by the
// sweeper, which transitions any non-terminal state directly to expired.
func canTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateConfirmed || to == StateActive || to == StateCancelled || to == StateExpired
	case StateConfirmed:
		return to == StateActive || to == StateCancelled || to == StateExpired
	case StateActive:
		return to == StateCompleted || to == StateCancelled || to == StateExpired
	default:
		return false
	}
}
