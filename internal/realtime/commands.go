package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/notification"
	"github.com/wisbric/safeguard/pkg/ban"
	"github.com/wisbric/safeguard/pkg/identity"
	"github.com/wisbric/safeguard/pkg/visit"
)

// command type strings accepted on a realtime connection.
const (
	cmdVisitCreate     = "visit.create"
	cmdVisitScan       = "visit.scan"
	cmdVisitCancel     = "visit.cancel"
	cmdVisitorBan      = "visitor.ban"
	cmdVisitorUnban    = "visitor.unban"
	cmdVisitorBanCheck = "visitor.ban_check"
	cmdNotificationRead = "notification.read"
)

// commandHandler processes one inbound frame's payload for an
// authenticated connection.
type commandHandler func(ctx context.Context, d *Dispatcher, p *identity.Principal, payload json.RawMessage) (any, error)

// Dispatcher wires inbound commands into the engines, the same fan-in
// HTTPSurface's handlers perform, minus the HTTP transport.
type Dispatcher struct {
	identity      *identity.Service
	visits        *visit.Service
	bans          *ban.Service
	notifications *notification.Repo
	handlers      map[string]commandHandler
}

// NewDispatcher builds the command table.
func NewDispatcher(idSvc *identity.Service, visits *visit.Service, bans *ban.Service, notifications *notification.Repo) *Dispatcher {
	d := &Dispatcher{identity: idSvc, visits: visits, bans: bans, notifications: notifications}
	d.handlers = map[string]commandHandler{
		cmdVisitCreate:      handleVisitCreate,
		cmdVisitScan:        handleVisitScan,
		cmdVisitCancel:      handleVisitCancel,
		cmdVisitorBan:       handleVisitorBan,
		cmdVisitorUnban:     handleVisitorUnban,
		cmdVisitorBanCheck:  handleVisitorBanCheck,
		cmdNotificationRead: handleNotificationRead,
	}
	return d
}

// Dispatch routes an inbound frame's command to its handler. An unknown
// type is a validation error, not a panic.
func (d *Dispatcher) Dispatch(ctx context.Context, p *identity.Principal, frame InboundFrame) (any, error) {
	h, ok := d.handlers[frame.Type]
	if !ok {
		return nil, errs.New(errs.Validation, "UnknownCommand", "unrecognized command type: "+frame.Type)
	}
	return h(ctx, d, p, frame.Payload)
}

func decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		var zero T
		return zero, errs.New(errs.Validation, "InvalidPayload", "payload does not match expected shape")
	}
	return v, nil
}

// parseOptionalUUID parses an optional UUID string from a payload.
func parseOptionalUUID(s *string) (*uuid.UUID, error) {
	if s == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, errs.New(errs.Validation, "InvalidID", "building_id must be a valid UUID")
	}
	return &id, nil
}

type visitCreatePayload struct {
	Visitors []struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"visitors"`
	Purpose       string    `json:"purpose"`
	ExpectedStart time.Time `json:"expected_start"`
	ExpectedEnd   time.Time `json:"expected_end"`
	BuildingID    *string   `json:"building_id"`
}

func handleVisitCreate(ctx context.Context, d *Dispatcher, p *identity.Principal, payload json.RawMessage) (any, error) {
	if err := identity.Authorize(p, identity.CapCreateVisit); err != nil {
		return nil, err
	}
	req, err := decode[visitCreatePayload](payload)
	if err != nil {
		return nil, err
	}
	requested, err := parseOptionalUUID(req.BuildingID)
	if err != nil {
		return nil, err
	}
	buildingID, err := identity.BuildingScope(p, requested)
	if err != nil {
		return nil, err
	}

	in := visit.CreateInput{
		HostID:        p.UserID,
		BuildingID:    buildingID,
		Purpose:       req.Purpose,
		ExpectedStart: req.ExpectedStart,
		ExpectedEnd:   req.ExpectedEnd,
	}
	for _, v := range req.Visitors {
		in.Visitors = append(in.Visitors, visit.VisitorInput{Name: v.Name, Phone: v.Phone})
	}
	return d.visits.Create(ctx, in)
}

type visitScanPayload struct {
	Code       string  `json:"code"`
	Action     string  `json:"action"`
	IsQR       bool    `json:"is_qr"`
	BuildingID *string `json:"building_id"`
}

func handleVisitScan(ctx context.Context, d *Dispatcher, p *identity.Principal, payload json.RawMessage) (any, error) {
	if err := identity.Authorize(p, identity.CapScanVisit); err != nil {
		return nil, err
	}
	req, err := decode[visitScanPayload](payload)
	if err != nil {
		return nil, err
	}
	requested, err := parseOptionalUUID(req.BuildingID)
	if err != nil {
		return nil, err
	}
	buildingID, err := identity.BuildingScope(p, requested)
	if err != nil {
		return nil, err
	}
	return d.visits.Scan(ctx, visit.ScanInput{
		Code:       req.Code,
		IsQR:       req.IsQR,
		Action:     visit.ScanAction(req.Action),
		Scanner:    p.UserID,
		BuildingID: buildingID,
	})
}

type visitCancelPayload struct {
	VisitID string `json:"visit_id"`
}

func handleVisitCancel(ctx context.Context, d *Dispatcher, p *identity.Principal, payload json.RawMessage) (any, error) {
	if err := identity.Authorize(p, identity.CapUpdateCancelVisit); err != nil {
		return nil, err
	}
	req, err := decode[visitCancelPayload](payload)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(req.VisitID)
	if err != nil {
		return nil, errs.New(errs.Validation, "InvalidID", "visit_id must be a valid UUID")
	}

	v, err := d.visits.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	isAdmin := p.Role == identity.RoleSuperAdmin ||
		(p.Role == identity.RoleBuildingAdmin && p.InBuilding(v.BuildingID))
	if v.HostID != p.UserID && !isAdmin {
		return nil, identity.Denied()
	}
	return d.visits.Cancel(ctx, id)
}

type visitorBanPayload struct {
	Phone     string     `json:"phone"`
	Name      string     `json:"name"`
	Reason    string     `json:"reason"`
	Severity  string     `json:"severity"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func handleVisitorBan(ctx context.Context, d *Dispatcher, p *identity.Principal, payload json.RawMessage) (any, error) {
	if err := identity.Authorize(p, identity.CapBanUnban); err != nil {
		return nil, err
	}
	req, err := decode[visitorBanPayload](payload)
	if err != nil {
		return nil, err
	}
	return d.bans.Ban(ctx, p.BuildingID, ban.Input{
		OwnerID:   p.UserID,
		Phone:     req.Phone,
		Name:      req.Name,
		Reason:    req.Reason,
		Severity:  ban.Severity(req.Severity),
		ExpiresAt: req.ExpiresAt,
	})
}

type visitorUnbanPayload struct {
	BanID  string `json:"ban_id"`
	Reason string `json:"reason"`
}

func handleVisitorUnban(ctx context.Context, d *Dispatcher, p *identity.Principal, payload json.RawMessage) (any, error) {
	if err := identity.Authorize(p, identity.CapBanUnban); err != nil {
		return nil, err
	}
	req, err := decode[visitorUnbanPayload](payload)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(req.BanID)
	if err != nil {
		return nil, errs.New(errs.Validation, "InvalidID", "ban_id must be a valid UUID")
	}
	isAdmin := p.Role == identity.RoleSuperAdmin || p.Role == identity.RoleBuildingAdmin
	return d.bans.Unban(ctx, p.UserID, isAdmin, id, req.Reason)
}

type visitorBanCheckPayload struct {
	Phone string `json:"phone"`
}

func handleVisitorBanCheck(ctx context.Context, d *Dispatcher, p *identity.Principal, payload json.RawMessage) (any, error) {
	if p == nil {
		return nil, errs.New(errs.Authn, "MissingToken", "authentication required")
	}
	req, err := decode[visitorBanCheckPayload](payload)
	if err != nil {
		return nil, err
	}
	return d.bans.Check(ctx, p.UserID, p.BuildingID, req.Phone)
}

type notificationReadPayload struct {
	NotificationID string `json:"notification_id"`
}

func handleNotificationRead(ctx context.Context, d *Dispatcher, p *identity.Principal, payload json.RawMessage) (any, error) {
	if p == nil {
		return nil, errs.New(errs.Authn, "MissingToken", "authentication required")
	}
	req, err := decode[notificationReadPayload](payload)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(req.NotificationID)
	if err != nil {
		return nil, errs.New(errs.Validation, "InvalidID", "notification_id must be a valid UUID")
	}
	if err := d.notifications.MarkRead(ctx, nil, id, p.UserID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}
