package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/pkg/identity"
)

func TestDispatch_UnknownCommand(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	p := &identity.Principal{UserID: uuid.New(), Role: identity.RoleResident}

	_, err := d.Dispatch(context.Background(), p, InboundFrame{Type: "visit.teleport"})
	if !errs.Is(err, "UnknownCommand") {
		t.Errorf("err = %v, want UnknownCommand", err)
	}
}

func TestDispatch_ScanRequiresScanRole(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	resident := &identity.Principal{UserID: uuid.New(), Role: identity.RoleResident}

	_, err := d.Dispatch(context.Background(), resident, InboundFrame{
		Type:    cmdVisitScan,
		Payload: json.RawMessage(`{"code":"ABC123","action":"entry"}`),
	})
	if errs.CodeOf(err) != errs.Authz {
		t.Errorf("resident scanning: err = %v, want AUTHORIZATION", err)
	}
}

func TestDispatch_CreateRequiresHostRole(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	guard := &identity.Principal{UserID: uuid.New(), Role: identity.RoleSecurity}

	_, err := d.Dispatch(context.Background(), guard, InboundFrame{
		Type:    cmdVisitCreate,
		Payload: json.RawMessage(`{}`),
	})
	if errs.CodeOf(err) != errs.Authz {
		t.Errorf("security creating a visit: err = %v, want AUTHORIZATION", err)
	}
}

func TestDispatch_MalformedPayload(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	buildingID := uuid.New()
	admin := &identity.Principal{UserID: uuid.New(), Role: identity.RoleBuildingAdmin, BuildingID: &buildingID}

	_, err := d.Dispatch(context.Background(), admin, InboundFrame{
		Type:    cmdVisitCancel,
		Payload: json.RawMessage(`{"visit_id": 42}`),
	})
	if !errs.Is(err, "InvalidPayload") {
		t.Errorf("err = %v, want InvalidPayload", err)
	}
}

func TestDispatch_BadIDs(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	buildingID := uuid.New()
	admin := &identity.Principal{UserID: uuid.New(), Role: identity.RoleBuildingAdmin, BuildingID: &buildingID}

	_, err := d.Dispatch(context.Background(), admin, InboundFrame{
		Type:    cmdVisitorUnban,
		Payload: json.RawMessage(`{"ban_id":"not-a-uuid"}`),
	})
	if !errs.Is(err, "InvalidID") {
		t.Errorf("unban: err = %v, want InvalidID", err)
	}

	_, err = d.Dispatch(context.Background(), admin, InboundFrame{
		Type:    cmdNotificationRead,
		Payload: json.RawMessage(`{"notification_id":"nope"}`),
	})
	if !errs.Is(err, "InvalidID") {
		t.Errorf("notification.read: err = %v, want InvalidID", err)
	}
}

func TestDispatch_SuperAdminMustNameBuilding(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	// A super_admin has no building of their own; building-scoped commands
	// must carry an explicit building_id.
	super := &identity.Principal{UserID: uuid.New(), Role: identity.RoleSuperAdmin}

	for _, frame := range []InboundFrame{
		{Type: cmdVisitCreate, Payload: json.RawMessage(`{}`)},
		{Type: cmdVisitScan, Payload: json.RawMessage(`{"code":"ABC123","action":"entry"}`)},
	} {
		_, err := d.Dispatch(context.Background(), super, frame)
		if !errs.Is(err, "BuildingRequired") {
			t.Errorf("%s: err = %v, want BuildingRequired", frame.Type, err)
		}
	}

	_, err := d.Dispatch(context.Background(), super, InboundFrame{
		Type:    cmdVisitScan,
		Payload: json.RawMessage(`{"code":"ABC123","action":"entry","building_id":"nope"}`),
	})
	if !errs.Is(err, "InvalidID") {
		t.Errorf("malformed building_id: err = %v, want InvalidID", err)
	}
}

func TestDispatch_ScopedRoleCannotNameAnotherBuilding(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	buildingID := uuid.New()
	guard := &identity.Principal{UserID: uuid.New(), Role: identity.RoleSecurity, BuildingID: &buildingID}

	_, err := d.Dispatch(context.Background(), guard, InboundFrame{
		Type:    cmdVisitScan,
		Payload: json.RawMessage(`{"code":"ABC123","action":"entry","building_id":"` + uuid.NewString() + `"}`),
	})
	if errs.CodeOf(err) != errs.Authz {
		t.Errorf("cross-building scan request: err = %v, want AUTHORIZATION", err)
	}
}
