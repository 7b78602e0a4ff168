package visit

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/eventbus"
	"github.com/wisbric/safeguard/internal/store"
	"github.com/wisbric/safeguard/internal/telemetry"
	"github.com/wisbric/safeguard/pkg/ban"
)

// Serialization failures are retried up to 3 times with 10-50ms of
// jitter before the error is surfaced.
const (
	maxSerializationRetries = 3
	jitterMinMillis         = 10
	jitterMaxMillis         = 50
)

// BanChecker is the narrow BanEngine surface VisitEngine.create consults.
// Declared here rather than imported as *ban.Service so tests can fake it;
// *ban.Service satisfies it directly.
type BanChecker interface {
	IsBannedByUser(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, phone string) (*ban.Ban, error)
	IsBannedInBuilding(ctx context.Context, tx pgx.Tx, buildingID uuid.UUID, phone string) ([]*ban.Ban, error)
}

// Service implements VisitEngine.
type Service struct {
	st    *store.Store
	repo  *Repo
	bans  BanChecker
	bus   *eventbus.Bus
	grace time.Duration
}

// NewService wires VisitEngine over its collaborators. grace is
// VISIT_EXPIRY_GRACE_SECONDS.
func NewService(st *store.Store, repo *Repo, bans BanChecker, bus *eventbus.Bus, grace time.Duration) *Service {
	return &Service{st: st, repo: repo, bans: bans, bus: bus, grace: grace}
}

// VisitorInput is one entry of CreateInput.Visitors.
type VisitorInput struct {
	Name  string
	Phone string
}

// CreateInput is the create() request shape.
type CreateInput struct {
	HostID        uuid.UUID
	BuildingID    uuid.UUID
	Purpose       string
	ExpectedStart time.Time
	ExpectedEnd   time.Time
	Visitors      []VisitorInput
}

// CreateResult carries the created Visit plus the plaintext QR, which is
// returned to the caller exactly once and never persisted in the clear.
type CreateResult struct {
	Visit    *Visit
	QRPlain  string
	Warnings []string
}

// Create builds a visit inside one Store transaction, retrying the whole
// transaction on a serialization failure or a short-code collision.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if !in.ExpectedEnd.After(in.ExpectedStart) {
		return nil, errs.New(errs.Validation, "InvalidWindow", "expected_end must be after expected_start")
	}
	if len(in.Visitors) == 0 {
		return nil, errs.New(errs.Validation, "NoVisitors", "at least one visitor is required")
	}

	normalized := make([]VisitorInput, len(in.Visitors))
	for i, v := range in.Visitors {
		phone, err := ban.NormalizePhone(v.Phone)
		if err != nil {
			return nil, err
		}
		if v.Name == "" {
			return nil, errs.New(errs.Validation, "InvalidVisitor", "visitor name is required")
		}
		normalized[i] = VisitorInput{Name: v.Name, Phone: phone}
	}

	var result *CreateResult
	var err error
	serializationRetries := 0
	for attempt := 0; attempt < maxShortCodeAttempts; attempt++ {
		result, err = s.attemptCreate(ctx, in, normalized)
		if err == nil {
			telemetry.VisitsCreatedTotal.WithLabelValues(in.BuildingID.String()).Inc()
			return result, nil
		}
		switch {
		case store.IsSerializationFailure(err):
			serializationRetries++
			if serializationRetries > maxSerializationRetries {
				return nil, err
			}
			jitter := time.Duration(jitterMinMillis+rand.Intn(jitterMaxMillis-jitterMinMillis)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}
		case errs.Is(err, "UniqueViolation"):
			// short-code or QR collision; retry with a freshly generated code.
		default:
			return nil, err
		}
	}
	return nil, err
}

func (s *Service) attemptCreate(ctx context.Context, in CreateInput, visitors []VisitorInput) (*CreateResult, error) {
	var result *CreateResult

	err := store.WithTx(ctx, s.st, func(tx pgx.Tx) error {
		var warnings []string
		for _, v := range visitors {
			userBan, err := s.bans.IsBannedByUser(ctx, tx, in.HostID, v.Phone)
			if err != nil {
				return err
			}
			buildingBans, err := s.bans.IsBannedInBuilding(ctx, tx, in.BuildingID, v.Phone)
			if err != nil {
				return err
			}
			if blocks(userBan) {
				return errs.New(errs.Conflict, "VisitorBanned", "visitor "+v.Phone+" is banned")
			}
			for _, b := range buildingBans {
				if blocks(b) {
					return errs.New(errs.Conflict, "VisitorBanned", "visitor "+v.Phone+" is banned in this building")
				}
				if b != nil && b.Severity == ban.SeverityLow {
					warnings = append(warnings, "visitor "+v.Phone+" has a low-severity ban on file")
				}
			}
			if userBan != nil && userBan.Severity == ban.SeverityLow {
				warnings = append(warnings, "visitor "+v.Phone+" has a low-severity ban on file")
			}
		}

		code, err := GenerateShortCode()
		if err != nil {
			return err
		}

		v := &Visit{
			HostID:        in.HostID,
			BuildingID:    in.BuildingID,
			Purpose:       in.Purpose,
			ExpectedStart: in.ExpectedStart,
			ExpectedEnd:   in.ExpectedEnd,
			ShortCode:     code,
			State:         StatePending,
		}
		for _, vi := range visitors {
			v.Visitors = append(v.Visitors, &Visitor{Name: vi.Name, Phone: vi.Phone, State: VisitorExpected})
		}

		created, err := s.repo.Insert(ctx, tx, v)
		if err != nil {
			return err
		}

		qr, err := GenerateQR(created.ID)
		if err != nil {
			return err
		}
		if err := s.repo.setQRHash(ctx, tx, created.ID, qr.Hash); err != nil {
			return err
		}
		created.QRHash = qr.Hash

		if err := s.bus.Publish(ctx, tx, eventbus.PublishInput{
			Topics: []eventbus.Topic{
				eventbus.UserTopic(in.HostID),
				eventbus.BuildingTopic(in.BuildingID),
				eventbus.RoleTopic("security", in.BuildingID),
			},
			Type:    eventbus.EventVisitCreated,
			Payload: created,
			Durable: true,
			Notification: eventbus.NotificationSpec{
				BuildingID: &in.BuildingID,
				Type:       string(eventbus.EventVisitCreated),
				Title:      "Visit created",
				Body:       "You created a visit pass for " + in.Purpose,
				Priority:   "low",
				Payload:    created,
			},
		}); err != nil {
			return err
		}

		result = &CreateResult{Visit: created, QRPlain: qr.Plaintext, Warnings: warnings}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// blocks reports whether a ban should reject visit creation: active and
// severity medium or high. Low severity only warns.
func blocks(b *ban.Ban) bool {
	return b != nil && b.Severity != ban.SeverityLow
}

// ScanAction distinguishes entry from exit scans.
type ScanAction string

const (
	ScanEntry ScanAction = "entry"
	ScanExit  ScanAction = "exit"
)

// ScanInput is the scan() request shape.
type ScanInput struct {
	Code     string // short code or QR plaintext
	IsQR     bool
	Action   ScanAction
	Scanner  uuid.UUID
	BuildingID uuid.UUID
}

// Scan processes an entry or exit scan: lookup, state validation, and a
// conditional update that wins the race for exactly one scanner.
func (s *Service) Scan(ctx context.Context, in ScanInput) (*Visit, error) {
	if in.Action != ScanEntry && in.Action != ScanExit {
		return nil, errs.New(errs.Validation, "InvalidAction", "action must be entry or exit")
	}

	var result *Visit
	err := withRetry(ctx, s.st, func(tx pgx.Tx) error {
		v, err := s.lookup(ctx, tx, in)
		if err != nil {
			return err
		}
		if v == nil {
			telemetry.VisitsScannedTotal.WithLabelValues(string(in.Action), "not_found").Inc()
			return errs.New(errs.NotFound, "ScanTargetUnknown", "no matching visit pass")
		}

		if in.Action == ScanEntry {
			if v.State != StatePending && v.State != StateConfirmed {
				telemetry.VisitsScannedTotal.WithLabelValues(string(in.Action), "invalid_transition").Inc()
				return errs.New(errs.Conflict, "InvalidTransition", "visit is not awaiting entry")
			}
			result, err = s.scanEntry(ctx, tx, v)
		} else {
			if v.State != StateActive {
				telemetry.VisitsScannedTotal.WithLabelValues(string(in.Action), "invalid_transition").Inc()
				return errs.New(errs.Conflict, "InvalidTransition", "visit is not active")
			}
			result, err = s.scanExit(ctx, tx, v)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	telemetry.VisitsScannedTotal.WithLabelValues(string(in.Action), "ok").Inc()
	return result, nil
}

func (s *Service) lookup(ctx context.Context, tx pgx.Tx, in ScanInput) (*Visit, error) {
	if in.IsQR {
		return s.repo.FindByQRHash(ctx, tx, in.BuildingID, HashQR(in.Code))
	}
	return s.repo.FindByShortCode(ctx, tx, in.BuildingID, in.Code)
}

func (s *Service) scanEntry(ctx context.Context, tx pgx.Tx, v *Visit) (*Visit, error) {
	visitor, err := s.repo.NextVisitorInState(ctx, tx, v.ID, VisitorExpected)
	if err != nil {
		return nil, err
	}
	if visitor == nil {
		return nil, errs.New(errs.Conflict, "AllVisitorsProcessed", "no visitor is awaiting entry")
	}

	won, err := s.repo.TransitionVisitor(ctx, tx, visitor.ID, VisitorExpected, VisitorEntered, "entry_at")
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, errs.New(errs.Conflict, "AllVisitorsProcessed", "visitor already processed by another scan")
	}

	if v.State != StateActive {
		if _, err := s.repo.TransitionState(ctx, tx, v.ID, v.State, StateActive); err != nil {
			return nil, err
		}
		v.State = StateActive
	}

	updated, err := s.repo.FindByID(ctx, tx, v.ID)
	if err != nil {
		return nil, err
	}

	if err := s.bus.Publish(ctx, tx, eventbus.PublishInput{
		Topics: []eventbus.Topic{
			eventbus.UserTopic(updated.HostID),
			eventbus.BuildingTopic(updated.BuildingID),
			eventbus.RoleTopic("security", updated.BuildingID),
		},
		Type:    eventbus.EventVisitorEntered,
		Payload: updated,
		Durable: true,
		Notification: eventbus.NotificationSpec{
			BuildingID: &updated.BuildingID,
			Type:       string(eventbus.EventVisitorEntered),
			Title:      "Visitor entered",
			Body:       visitor.Name + " has entered the building",
			Priority:   "medium",
			Payload:    updated,
		},
	}); err != nil {
		return nil, err
	}

	return updated, nil
}

func (s *Service) scanExit(ctx context.Context, tx pgx.Tx, v *Visit) (*Visit, error) {
	visitor, err := s.repo.NextVisitorInState(ctx, tx, v.ID, VisitorEntered)
	if err != nil {
		return nil, err
	}
	if visitor == nil {
		return nil, errs.New(errs.Conflict, "AllVisitorsProcessed", "no visitor is currently inside")
	}

	won, err := s.repo.TransitionVisitor(ctx, tx, visitor.ID, VisitorEntered, VisitorExited, "exit_at")
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, errs.New(errs.Conflict, "AllVisitorsProcessed", "visitor already processed by another scan")
	}

	remaining, err := s.repo.CountVisitorsInStates(ctx, tx, v.ID, VisitorEntered, VisitorExpected)
	if err != nil {
		return nil, err
	}

	eventType := eventbus.EventVisitorExited
	if remaining == 0 {
		if _, err := s.repo.TransitionState(ctx, tx, v.ID, v.State, StateCompleted); err != nil {
			return nil, err
		}
		if err := s.repo.RetireCodes(ctx, tx, v.ID); err != nil {
			return nil, err
		}
		v.State = StateCompleted
		eventType = eventbus.EventVisitCompleted
	}

	updated, err := s.repo.FindByID(ctx, tx, v.ID)
	if err != nil {
		return nil, err
	}

	if err := s.bus.Publish(ctx, tx, eventbus.PublishInput{
		Topics: []eventbus.Topic{
			eventbus.UserTopic(updated.HostID),
			eventbus.BuildingTopic(updated.BuildingID),
			eventbus.RoleTopic("security", updated.BuildingID),
		},
		Type:    eventType,
		Payload: updated,
		Durable: true,
		Notification: eventbus.NotificationSpec{
			BuildingID: &updated.BuildingID,
			Type:       string(eventType),
			Title:      "Visitor exited",
			Body:       visitor.Name + " has exited the building",
			Priority:   "low",
			Payload:    updated,
		},
	}); err != nil {
		return nil, err
	}

	return updated, nil
}

// Cancel transitions a visit to cancelled. Caller must be host or admin —
// enforced by the HTTP and realtime handlers before Cancel is ever reached.
func (s *Service) Cancel(ctx context.Context, visitID uuid.UUID) (*Visit, error) {
	var result *Visit
	err := withRetry(ctx, s.st, func(tx pgx.Tx) error {
		v, err := s.repo.FindByID(ctx, tx, visitID)
		if err != nil {
			return err
		}
		if v.State.IsTerminal() {
			return errs.New(errs.Conflict, "InvalidTransition", "visit is already terminal")
		}

		won, err := s.repo.TransitionState(ctx, tx, v.ID, v.State, StateCancelled)
		if err != nil {
			return err
		}
		if !won {
			return errs.New(errs.Conflict, "InvalidTransition", "visit state changed concurrently")
		}
		if err := s.repo.CancelAllNonTerminalVisitors(ctx, tx, v.ID); err != nil {
			return err
		}
		if err := s.repo.RetireCodes(ctx, tx, v.ID); err != nil {
			return err
		}

		updated, err := s.repo.FindByID(ctx, tx, v.ID)
		if err != nil {
			return err
		}

		if err := s.bus.Publish(ctx, tx, eventbus.PublishInput{
			Topics: []eventbus.Topic{
				eventbus.UserTopic(updated.HostID),
				eventbus.BuildingTopic(updated.BuildingID),
				eventbus.RoleTopic("security", updated.BuildingID),
			},
			Type:    eventbus.EventVisitCancelled,
			Payload: updated,
			Durable: true,
			Notification: eventbus.NotificationSpec{
				BuildingID: &updated.BuildingID,
				Type:       string(eventbus.EventVisitCancelled),
				Title:      "Visit cancelled",
				Body:       "Your visit pass was cancelled",
				Priority:   "low",
				Payload:    updated,
			},
		}); err != nil {
			return err
		}

		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateInput is the PATCH /api/visits/{id} request shape.
type UpdateInput struct {
	Purpose       string
	ExpectedStart time.Time
	ExpectedEnd   time.Time
}

// Update patches a non-terminal visit's editable fields.
func (s *Service) Update(ctx context.Context, visitID uuid.UUID, in UpdateInput) (*Visit, error) {
	if !in.ExpectedEnd.After(in.ExpectedStart) {
		return nil, errs.New(errs.Validation, "InvalidWindow", "expected_end must be after expected_start")
	}
	var result *Visit
	err := store.WithTx(ctx, s.st, func(tx pgx.Tx) error {
		if err := s.repo.UpdateEditable(ctx, tx, visitID, in.Purpose, in.ExpectedStart, in.ExpectedEnd); err != nil {
			return err
		}
		updated, err := s.repo.FindByID(ctx, tx, visitID)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get loads a single visit for the read path.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.FindByID(ctx, nil, id)
}

// ListForUser exposes the host's own visits, paginated.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, params store.PageParams) (store.Page[*Visit], error) {
	return s.repo.ListForUser(ctx, nil, userID, params)
}

// ListForBuilding exposes a building's visits, paginated.
func (s *Service) ListForBuilding(ctx context.Context, buildingID uuid.UUID, params store.PageParams) (store.Page[*Visit], error) {
	return s.repo.ListForBuilding(ctx, nil, buildingID, params)
}

// SweepExpired is the scheduled task body: select non-terminal visits past
// expected_end+grace and expire each in its own transaction, idempotently.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	candidates, err := s.repo.ListExpiryCandidates(ctx, nil, s.grace, 500)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, v := range candidates {
		err := store.WithTx(ctx, s.st, func(tx pgx.Tx) error {
			won, err := s.repo.TransitionState(ctx, tx, v.ID, v.State, StateExpired)
			if err != nil {
				return err
			}
			if !won {
				return nil // already transitioned by a concurrent sweep tick; idempotent no-op
			}
			if err := s.repo.RetireCodes(ctx, tx, v.ID); err != nil {
				return err
			}
			return s.bus.Publish(ctx, tx, eventbus.PublishInput{
				Topics: []eventbus.Topic{
					eventbus.UserTopic(v.HostID),
					eventbus.BuildingTopic(v.BuildingID),
				},
				Type:    eventbus.EventVisitExpired,
				Payload: v,
				Durable: true,
				Notification: eventbus.NotificationSpec{
					BuildingID: &v.BuildingID,
					Type:       string(eventbus.EventVisitExpired),
					Title:      "Visit expired",
					Body:       "Your visit pass expired",
					Priority:   "low",
					Payload:    v,
				},
			})
		})
		if err != nil {
			return expired, err
		}
		expired++
		telemetry.VisitsExpiredTotal.Inc()
	}
	return expired, nil
}

// withRetry runs fn inside a Store transaction, retrying up to
// maxSerializationRetries times with jittered backoff on a serialization
// failure.
func withRetry(ctx context.Context, st *store.Store, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt <= maxSerializationRetries; attempt++ {
		err = store.WithTx(ctx, st, fn)
		if err == nil || !store.IsSerializationFailure(err) {
			return err
		}
		if attempt < maxSerializationRetries {
			jitter := time.Duration(jitterMinMillis+rand.Intn(jitterMaxMillis-jitterMinMillis)) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter):
			}
		}
	}
	return err
}
