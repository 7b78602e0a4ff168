package ban

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/eventbus"
	"github.com/wisbric/safeguard/internal/store"
	"github.com/wisbric/safeguard/internal/telemetry"
)

// Service implements BanEngine's CRUD operations on top of the two
// read-only predicates the Repo exposes directly.
type Service struct {
	st   *store.Store
	repo *Repo
	bus  *eventbus.Bus
}

// NewService wires BanEngine over the shared store and event bus.
func NewService(st *store.Store, repo *Repo, bus *eventbus.Bus) *Service {
	return &Service{st: st, repo: repo, bus: bus}
}

// Input is the ban() request shape.
type Input struct {
	OwnerID   uuid.UUID
	Phone     string
	Name      string
	Reason    string
	Severity  Severity
	ExpiresAt *time.Time
}

// Ban validates and inserts a new Ban, then publishes visitor.banned to the
// owner and to security staff at the owner's building.
func (s *Service) Ban(ctx context.Context, ownerBuildingID *uuid.UUID, in Input) (*Ban, error) {
	phone, err := NormalizePhone(in.Phone)
	if err != nil {
		return nil, err
	}
	if in.Name == "" || in.Reason == "" {
		return nil, errs.New(errs.Validation, "InvalidBan", "name and reason are required")
	}
	if !validSeverity(in.Severity) {
		return nil, errs.New(errs.Validation, "InvalidSeverity", "severity must be one of low, medium, high")
	}

	var result *Ban
	err = store.WithTx(ctx, s.st, func(tx pgx.Tx) error {
		existing, err := s.repo.FindActiveByOwnerPhone(ctx, tx, in.OwnerID, phone)
		if err != nil {
			return err
		}
		if existing != nil {
			return errs.New(errs.Conflict, "BanAlreadyExists",
				"an active ban already exists for this phone; unban first to replace it")
		}

		b, err := s.repo.Insert(ctx, tx, &Ban{
			OwnerID:     in.OwnerID,
			TargetPhone: phone,
			TargetName:  in.Name,
			Reason:      in.Reason,
			Severity:    in.Severity,
			Type:        TypeManual,
			ExpiresAt:   in.ExpiresAt,
		})
		if err != nil {
			if e, ok := errs.As(err); ok && e.Reason == "UniqueViolation" {
				return errs.New(errs.Conflict, "BanAlreadyExists",
					"an active ban already exists for this phone; unban first to replace it")
			}
			return err
		}
		result = b

		topics := []eventbus.Topic{eventbus.UserTopic(in.OwnerID)}
		if ownerBuildingID != nil {
			topics = append(topics, eventbus.RoleTopic("security", *ownerBuildingID))
		}
		return s.bus.Publish(ctx, tx, eventbus.PublishInput{
			Topics:  topics,
			Type:    eventbus.EventVisitorBanned,
			Payload: b,
			Durable: true,
			Notification: eventbus.NotificationSpec{
				BuildingID: ownerBuildingID,
				Type:       string(eventbus.EventVisitorBanned),
				Title:      "Visitor banned",
				Body:       "You banned " + b.TargetName + " (" + b.TargetPhone + ")",
				Priority:   "low",
				Payload:    b,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	telemetry.BansActiveTotal.WithLabelValues(string(in.Severity)).Inc()
	return result, nil
}

// Unban deactivates a ban. isAdmin bypasses the ownership check (callerID
// is recorded as the actor by the HTTP handler's audit entry, not here;
// the realtime visitor.unban command writes no audit entry).
func (s *Service) Unban(ctx context.Context, callerID uuid.UUID, isAdmin bool, banID uuid.UUID, reason string) (*Ban, error) {
	var result *Ban
	err := store.WithTx(ctx, s.st, func(tx pgx.Tx) error {
		b, err := s.repo.FindByID(ctx, tx, banID)
		if err != nil {
			return err
		}
		if !isAdmin && b.OwnerID != callerID {
			return errs.New(errs.NotFound, "NotFound", "ban not found")
		}

		if isAdmin {
			err = s.repo.UnbanAny(ctx, tx, banID, reason)
		} else {
			err = s.repo.Unban(ctx, tx, banID, callerID, reason)
		}
		if err != nil {
			return err
		}

		b.Active = false
		b.UnbanReason = reason
		result = b

		return s.bus.Publish(ctx, tx, eventbus.PublishInput{
			Topics: []eventbus.Topic{eventbus.UserTopic(b.OwnerID)},
			Type:   eventbus.EventVisitorUnbanned,
			Payload: b,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CheckResult is the check() response shape.
type CheckResult struct {
	UserBan       *Ban
	BuildingBans  []*Ban
	Multiple      bool
}

// Check answers whether phone is banned by the caller and/or anywhere in
// the caller's building.
func (s *Service) Check(ctx context.Context, callerID uuid.UUID, callerBuildingID *uuid.UUID, rawPhone string) (CheckResult, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return CheckResult{}, err
	}

	userBan, err := s.repo.FindActiveByOwnerPhone(ctx, nil, callerID, phone)
	if err != nil {
		return CheckResult{}, err
	}

	var buildingBans []*Ban
	var multiple bool
	if callerBuildingID != nil {
		buildingBans, err = s.repo.FindActiveInBuilding(ctx, nil, *callerBuildingID, phone)
		if err != nil {
			return CheckResult{}, err
		}
		n, err := s.repo.CountDistinctOwnersInBuilding(ctx, nil, *callerBuildingID, phone)
		if err != nil {
			return CheckResult{}, err
		}
		multiple = n >= 2
	}

	return CheckResult{UserBan: userBan, BuildingBans: buildingBans, Multiple: multiple}, nil
}

// IsBannedByUser is the BanEngine predicate VisitEngine consults for "is
// phone P banned by user U".
func (s *Service) IsBannedByUser(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, phone string) (*Ban, error) {
	return s.repo.FindActiveByOwnerPhone(ctx, tx, ownerID, phone)
}

// IsBannedInBuilding is the BanEngine predicate for "is phone P banned
// inside building B". A building-scoped ban applies regardless of which
// resident raised it.
func (s *Service) IsBannedInBuilding(ctx context.Context, tx pgx.Tx, buildingID uuid.UUID, phone string) ([]*Ban, error) {
	return s.repo.FindActiveInBuilding(ctx, tx, buildingID, phone)
}

// ListForBuilding exposes "read building ban list".
func (s *Service) ListForBuilding(ctx context.Context, buildingID uuid.UUID, params store.PageParams) (store.Page[*Ban], error) {
	return s.repo.ListForBuilding(ctx, nil, buildingID, params)
}
