package visit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/pkg/ban"
)

func TestCreate_RejectsInvalidWindow(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, 2*time.Hour)
	start := time.Now().UTC()

	_, err := svc.Create(context.Background(), CreateInput{
		HostID:        uuid.New(),
		BuildingID:    uuid.New(),
		Purpose:       "dinner",
		ExpectedStart: start,
		ExpectedEnd:   start, // not after start
		Visitors:      []VisitorInput{{Name: "Bob", Phone: "+2348011112222"}},
	})
	if !errs.Is(err, "InvalidWindow") {
		t.Errorf("err = %v, want InvalidWindow", err)
	}
}

func TestCreate_RejectsEmptyVisitorList(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, 2*time.Hour)
	start := time.Now().UTC()

	_, err := svc.Create(context.Background(), CreateInput{
		HostID:        uuid.New(),
		BuildingID:    uuid.New(),
		Purpose:       "dinner",
		ExpectedStart: start,
		ExpectedEnd:   start.Add(4 * time.Hour),
	})
	if !errs.Is(err, "NoVisitors") {
		t.Errorf("err = %v, want NoVisitors", err)
	}
}

func TestCreate_RejectsBadVisitor(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, 2*time.Hour)
	start := time.Now().UTC()

	_, err := svc.Create(context.Background(), CreateInput{
		HostID:        uuid.New(),
		BuildingID:    uuid.New(),
		Purpose:       "dinner",
		ExpectedStart: start,
		ExpectedEnd:   start.Add(4 * time.Hour),
		Visitors:      []VisitorInput{{Name: "Bob", Phone: "0801-111-2222"}},
	})
	if !errs.Is(err, "InvalidPhone") {
		t.Errorf("err = %v, want InvalidPhone", err)
	}

	_, err = svc.Create(context.Background(), CreateInput{
		HostID:        uuid.New(),
		BuildingID:    uuid.New(),
		Purpose:       "dinner",
		ExpectedStart: start,
		ExpectedEnd:   start.Add(4 * time.Hour),
		Visitors:      []VisitorInput{{Phone: "+2348011112222"}},
	})
	if !errs.Is(err, "InvalidVisitor") {
		t.Errorf("err = %v, want InvalidVisitor", err)
	}
}

func TestScan_RejectsUnknownAction(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, 2*time.Hour)

	_, err := svc.Scan(context.Background(), ScanInput{
		Code:       "ABC123",
		Action:     "loiter",
		Scanner:    uuid.New(),
		BuildingID: uuid.New(),
	})
	if !errs.Is(err, "InvalidAction") {
		t.Errorf("err = %v, want InvalidAction", err)
	}
}

func TestUpdate_RejectsInvalidWindow(t *testing.T) {
	svc := NewService(nil, nil, nil, nil, 2*time.Hour)
	start := time.Now().UTC()

	_, err := svc.Update(context.Background(), uuid.New(), UpdateInput{
		Purpose:       "dinner",
		ExpectedStart: start,
		ExpectedEnd:   start.Add(-time.Hour),
	})
	if !errs.Is(err, "InvalidWindow") {
		t.Errorf("err = %v, want InvalidWindow", err)
	}
}

func TestBlocks(t *testing.T) {
	if blocks(nil) {
		t.Error("no ban should not block")
	}
	if blocks(&ban.Ban{Severity: ban.SeverityLow}) {
		t.Error("a low-severity ban only warns")
	}
	if !blocks(&ban.Ban{Severity: ban.SeverityMedium}) {
		t.Error("a medium-severity ban blocks")
	}
	if !blocks(&ban.Ban{Severity: ban.SeverityHigh}) {
		t.Error("a high-severity ban blocks")
	}
}
