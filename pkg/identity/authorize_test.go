package identity

import (
	"testing"

	"github.com/google/uuid"

	"github.com/wisbric/safeguard/internal/errs"
)

// matrix mirrors the capability table: for each capability, the roles that
// may hold it. Everything outside this table must be denied.
var matrix = map[Capability][]Role{
	CapCreateVisit:          {RoleSuperAdmin, RoleBuildingAdmin, RoleResident},
	CapUpdateCancelVisit:    {RoleSuperAdmin, RoleBuildingAdmin, RoleResident},
	CapScanVisit:            {RoleSuperAdmin, RoleBuildingAdmin, RoleSecurity},
	CapBanUnban:             {RoleSuperAdmin, RoleBuildingAdmin, RoleResident, RoleSecurity},
	CapReadBuildingBans:     {RoleSuperAdmin, RoleBuildingAdmin, RoleResident, RoleSecurity},
	CapApproveRegistrations: {RoleSuperAdmin, RoleBuildingAdmin},
	CapSystemWideDashboard:  {RoleSuperAdmin},
}

func TestAuthorize_MatrixClosure(t *testing.T) {
	for cap, allowed := range matrix {
		allowedSet := make(map[Role]bool, len(allowed))
		for _, r := range allowed {
			allowedSet[r] = true
		}

		for _, role := range ValidRoles {
			p := &Principal{UserID: uuid.New(), Role: role}
			err := Authorize(p, cap)

			if allowedSet[role] {
				if err != nil {
					t.Errorf("Authorize(%s, %s) = %v, want nil", role, cap, err)
				}
				continue
			}

			if err == nil {
				t.Errorf("Authorize(%s, %s) = nil, want AUTHORIZATION denial", role, cap)
				continue
			}
			if errs.CodeOf(err) != errs.Authz {
				t.Errorf("Authorize(%s, %s) code = %v, want %v", role, cap, errs.CodeOf(err), errs.Authz)
			}
		}
	}
}

func TestAuthorize_NilPrincipal(t *testing.T) {
	err := Authorize(nil, CapCreateVisit)
	if err == nil {
		t.Fatal("Authorize(nil principal) = nil, want error")
	}
	if errs.CodeOf(err) != errs.Authn {
		t.Errorf("code = %v, want %v", errs.CodeOf(err), errs.Authn)
	}
}

func TestSameBuilding(t *testing.T) {
	buildingID := uuid.New()
	otherID := uuid.New()

	super := &Principal{Role: RoleSuperAdmin}
	if !SameBuilding(super, buildingID) {
		t.Error("super_admin should pass the building scope for any building")
	}

	resident := &Principal{Role: RoleResident, BuildingID: &buildingID}
	if !SameBuilding(resident, buildingID) {
		t.Error("resident should pass the scope for their own building")
	}
	if SameBuilding(resident, otherID) {
		t.Error("resident should fail the scope for another building")
	}

	homeless := &Principal{Role: RoleSecurity}
	if SameBuilding(homeless, buildingID) {
		t.Error("a principal with no building should fail every scope check")
	}
}

func TestBuildingScope(t *testing.T) {
	buildingID := uuid.New()
	otherID := uuid.New()

	t.Run("scoped role uses own building", func(t *testing.T) {
		p := &Principal{Role: RoleResident, BuildingID: &buildingID}
		got, err := BuildingScope(p, nil)
		if err != nil || got != buildingID {
			t.Errorf("BuildingScope = %v, %v", got, err)
		}
	})

	t.Run("scoped role may restate own building", func(t *testing.T) {
		p := &Principal{Role: RoleSecurity, BuildingID: &buildingID}
		got, err := BuildingScope(p, &buildingID)
		if err != nil || got != buildingID {
			t.Errorf("BuildingScope = %v, %v", got, err)
		}
	})

	t.Run("scoped role denied another building", func(t *testing.T) {
		p := &Principal{Role: RoleBuildingAdmin, BuildingID: &buildingID}
		_, err := BuildingScope(p, &otherID)
		if errs.CodeOf(err) != errs.Authz {
			t.Errorf("err = %v, want AUTHORIZATION", err)
		}
	})

	t.Run("super_admin must name a building", func(t *testing.T) {
		p := &Principal{Role: RoleSuperAdmin}
		_, err := BuildingScope(p, nil)
		if !errs.Is(err, "BuildingRequired") {
			t.Errorf("err = %v, want BuildingRequired", err)
		}
	})

	t.Run("super_admin acts in the named building", func(t *testing.T) {
		p := &Principal{Role: RoleSuperAdmin}
		got, err := BuildingScope(p, &otherID)
		if err != nil || got != otherID {
			t.Errorf("BuildingScope = %v, %v", got, err)
		}
	})
}

func TestDenied_DoesNotLeakConstraint(t *testing.T) {
	scopeErr, _ := errs.As(Denied())
	roleErr, _ := errs.As(Authorize(&Principal{Role: RoleVisitor}, CapCreateVisit))

	if scopeErr.Reason != roleErr.Reason || scopeErr.Message != roleErr.Message {
		t.Error("scope denial and role denial should be indistinguishable")
	}
}
