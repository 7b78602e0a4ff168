package identity

import (
	"github.com/google/uuid"

	"github.com/wisbric/safeguard/internal/errs"
)

// Capability is one row of the authorization matrix.
type Capability string

const (
	CapCreateVisit           Capability = "create_visit"
	CapUpdateCancelVisit     Capability = "update_cancel_visit"
	CapScanVisit             Capability = "scan_visit"
	CapBanUnban              Capability = "ban_unban"
	CapReadBuildingBans      Capability = "read_building_bans"
	CapApproveRegistrations  Capability = "approve_registrations"
	CapSystemWideDashboard   Capability = "system_wide_dashboard"
)

// allowedRoles lists, per capability, every role that may hold it at all
// (the scope predicate is evaluated separately by the caller, since it is
// data-dependent — "own building", "own visit" — not a pure role check).
var allowedRoles = map[Capability]map[Role]bool{
	CapCreateVisit:          {RoleSuperAdmin: true, RoleBuildingAdmin: true, RoleResident: true},
	CapUpdateCancelVisit:    {RoleSuperAdmin: true, RoleBuildingAdmin: true, RoleResident: true},
	CapScanVisit:            {RoleSuperAdmin: true, RoleBuildingAdmin: true, RoleSecurity: true},
	CapBanUnban:             {RoleSuperAdmin: true, RoleBuildingAdmin: true, RoleResident: true, RoleSecurity: true},
	CapReadBuildingBans:     {RoleSuperAdmin: true, RoleBuildingAdmin: true, RoleResident: true, RoleSecurity: true},
	CapApproveRegistrations: {RoleSuperAdmin: true, RoleBuildingAdmin: true},
	CapSystemWideDashboard:  {RoleSuperAdmin: true},
}

// Authorize is the pure role-membership half of the matrix: it reports
// whether p's role is even permitted to hold capability cap, independent
// of any scope predicate. Callers that also need a scope check (own
// building, own visit, ban ownership) evaluate that separately and
// combine both results.
func Authorize(p *Principal, cap Capability) error {
	if p == nil {
		return errs.New(errs.Authn, "MissingPrincipal", "authentication required")
	}
	if allowedRoles[cap][p.Role] {
		return nil
	}
	return errs.New(errs.Authz, "AuthorizationDenied", "you do not have permission to perform this action")
}

// SameBuilding reports whether p may act within buildingID: either p is a
// super_admin (unscoped) or p's own building matches.
func SameBuilding(p *Principal, buildingID uuid.UUID) bool {
	return p.Role == RoleSuperAdmin || p.InBuilding(buildingID)
}

// Denied is a convenience constructor for scope-predicate failures, kept
// indistinguishable from a plain capability denial so callers cannot learn
// which constraint failed.
func Denied() error {
	return errs.New(errs.Authz, "AuthorizationDenied", "you do not have permission to perform this action")
}

// BuildingScope resolves the building a create/scan operation acts in.
// Building-scoped roles always act in their own building, and any
// explicitly requested building must match it. A super_admin holds no
// building and must name the target building explicitly on the request.
func BuildingScope(p *Principal, requested *uuid.UUID) (uuid.UUID, error) {
	if p.BuildingID != nil {
		if requested != nil && *requested != *p.BuildingID {
			return uuid.Nil, Denied()
		}
		return *p.BuildingID, nil
	}
	if p.Role == RoleSuperAdmin {
		if requested == nil {
			return uuid.Nil, errs.New(errs.Validation, "BuildingRequired", "building_id is required for this operation")
		}
		return *requested, nil
	}
	return uuid.Nil, errs.New(errs.Validation, "NoBuilding", "principal has no associated building")
}
