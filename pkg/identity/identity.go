// Package identity issues and verifies credentials, binds roles, produces
// session tokens, and gates privileged operations.
package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role is one of the five principals the access-control core recognizes.
type Role string

const (
	RoleSuperAdmin    Role = "super_admin"
	RoleBuildingAdmin Role = "building_admin"
	RoleResident      Role = "resident"
	RoleSecurity      Role = "security"
	RoleVisitor       Role = "visitor"
)

// ValidRoles enumerates every role register() accepts.
var ValidRoles = []Role{RoleSuperAdmin, RoleBuildingAdmin, RoleResident, RoleSecurity, RoleVisitor}

// IsValidRole reports whether r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if v == r {
			return true
		}
	}
	return false
}

// User is the human principal entity from the data model.
type User struct {
	ID                uuid.UUID
	Email             string // case-folded, unique among active users
	Phone             string // E.164, unique among active users
	PasswordHash      string
	Role              Role
	BuildingID        *uuid.UUID // nullable only for super_admin
	Apartment         string     // residents only
	Active            bool
	Verified          bool
	FailedLoginCount  int
	LastFailedLoginAt *time.Time
	LockoutUntil      *time.Time
	LastLoginAt       *time.Time
	LastLoginIP       string
	LastLoginAgent    string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Session is an issued (access, refresh) pair bound to a user and device.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	AccessTokenHash  string
	RefreshTokenHash string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	DeviceFingerprint string
	OriginIP         string
	Revoked          bool
}

// Principal is the verified identity attached to a request or connection
// context after Identity.Verify succeeds.
type Principal struct {
	UserID     uuid.UUID
	SessionID  uuid.UUID
	Email      string
	Role       Role
	BuildingID *uuid.UUID
}

// InBuilding reports whether the principal belongs to buildingID. A nil
// BuildingID (super_admin) is never "in" any specific building by this
// check — callers test role==RoleSuperAdmin separately for the bypass.
func (p *Principal) InBuilding(buildingID uuid.UUID) bool {
	return p.BuildingID != nil && *p.BuildingID == buildingID
}

type ctxKey string

const principalKey ctxKey = "identity_principal"

// NewContext attaches a verified principal to ctx.
func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the verified principal, or nil if the request is
// unauthenticated.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// Device describes the client presenting credentials, recorded on the
// Session row for audit and lockout bookkeeping.
type Device struct {
	Fingerprint string
	IP          string
	UserAgent   string
}
