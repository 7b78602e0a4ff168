package audit

import (
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestLog_DropsWhenFull(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)
	// Don't start the background goroutine — nothing drains the channel.

	// Fill the buffer.
	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{Action: "test", Resource: "test"})
	}

	// The next log should be dropped (non-blocking).
	w.Log(Entry{Action: "dropped", Resource: "dropped"})

	// Verify buffer is full.
	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestLog_CarriesFields(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)
	// Don't start — read from the channel directly.

	userID := uuid.New()
	resourceID := uuid.New()
	w.Log(Entry{
		UserID:     &userID,
		Action:     "visit.create",
		Resource:   "visit",
		ResourceID: resourceID,
		IPAddress:  "198.51.100.23",
		UserAgent:  "test-agent/1.0",
	})

	entry := <-w.entries
	if entry.Action != "visit.create" || entry.Resource != "visit" {
		t.Errorf("action/resource = %q/%q", entry.Action, entry.Resource)
	}
	if entry.UserID == nil || *entry.UserID != userID {
		t.Errorf("UserID = %v, want %v", entry.UserID, userID)
	}
	if entry.ResourceID != resourceID {
		t.Errorf("ResourceID = %v, want %v", entry.ResourceID, resourceID)
	}
	if entry.IPAddress != "198.51.100.23" || entry.UserAgent != "test-agent/1.0" {
		t.Errorf("ip/agent = %q/%q", entry.IPAddress, entry.UserAgent)
	}
}

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Error(`nullable("") should be nil`)
	}
	if v := nullable("x"); v == nil || *v != "x" {
		t.Errorf("nullable(x) = %v", v)
	}
}
