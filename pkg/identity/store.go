package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/store"
)

// UserRepo is the typed repository for the users table.
type UserRepo struct {
	s *store.Store
}

// NewUserRepo builds a UserRepo over the shared store.
func NewUserRepo(s *store.Store) *UserRepo { return &UserRepo{s: s} }

type userRow struct {
	ID               pgtype.UUID
	Email            string
	Phone            string
	PasswordHash     string
	Role             string
	BuildingID       pgtype.UUID
	Apartment        pgtype.Text
	Active            bool
	Verified          bool
	FailedLoginCount  int32
	LastFailedLoginAt pgtype.Timestamptz
	LockoutUntil      pgtype.Timestamptz
	LastLoginAt      pgtype.Timestamptz
	LastLoginIP      pgtype.Text
	LastLoginAgent   pgtype.Text
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
}

func (r userRow) toUser() *User {
	u := &User{
		ID:               uuid.UUID(r.ID.Bytes),
		Email:            r.Email,
		Phone:            r.Phone,
		PasswordHash:     r.PasswordHash,
		Role:             Role(r.Role),
		Active:           r.Active,
		Verified:         r.Verified,
		FailedLoginCount: int(r.FailedLoginCount),
		CreatedAt:        r.CreatedAt.Time,
		UpdatedAt:        r.UpdatedAt.Time,
	}
	if r.BuildingID.Valid {
		b := uuid.UUID(r.BuildingID.Bytes)
		u.BuildingID = &b
	}
	if r.Apartment.Valid {
		u.Apartment = r.Apartment.String
	}
	if r.LastFailedLoginAt.Valid {
		t := r.LastFailedLoginAt.Time
		u.LastFailedLoginAt = &t
	}
	if r.LockoutUntil.Valid {
		t := r.LockoutUntil.Time
		u.LockoutUntil = &t
	}
	if r.LastLoginAt.Valid {
		t := r.LastLoginAt.Time
		u.LastLoginAt = &t
	}
	if r.LastLoginIP.Valid {
		u.LastLoginIP = r.LastLoginIP.String
	}
	if r.LastLoginAgent.Valid {
		u.LastLoginAgent = r.LastLoginAgent.String
	}
	return u
}

const userColumns = `id, email, phone, password_hash, role, building_id, apartment, active, verified,
	failed_login_count, last_failed_login_at, lockout_until, last_login_at, last_login_ip, last_login_agent,
	created_at, updated_at`

func scanUserRow(row pgx.Row) (*User, error) {
	var r userRow
	err := row.Scan(&r.ID, &r.Email, &r.Phone, &r.PasswordHash, &r.Role, &r.BuildingID, &r.Apartment,
		&r.Active, &r.Verified, &r.FailedLoginCount, &r.LastFailedLoginAt, &r.LockoutUntil, &r.LastLoginAt,
		&r.LastLoginIP, &r.LastLoginAgent, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, store.ClassifyError(err)
	}
	return r.toUser(), nil
}

// FindByID loads a user by primary key.
func (repo *UserRepo) FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(repo.s.DBTX(tx).QueryRow(ctx, q, id))
}

// FindByEmail looks up a user by case-folded email, cross-building.
func (repo *UserRepo) FindByEmail(ctx context.Context, tx pgx.Tx, email string) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1) AND active = true`
	return scanUserRow(repo.s.DBTX(tx).QueryRow(ctx, q, strings.ToLower(email)))
}

// CountActiveResidents returns the number of active residents in a building,
// used to enforce the license quota invariant.
func (repo *UserRepo) CountActiveResidents(ctx context.Context, tx pgx.Tx, buildingID uuid.UUID) (int, error) {
	q := `SELECT count(*) FROM users WHERE building_id = $1 AND role = 'resident' AND active = true`
	var n int
	err := repo.s.DBTX(tx).QueryRow(ctx, q, buildingID).Scan(&n)
	if err != nil {
		return 0, store.ClassifyError(err)
	}
	return n, nil
}

// Insert creates a new user row, hashed password already computed by the
// caller. Email/phone uniqueness is enforced by unique indexes; a
// violation surfaces as errs.Conflict via store.ClassifyError.
func (repo *UserRepo) Insert(ctx context.Context, tx pgx.Tx, u *User) (*User, error) {
	q := `INSERT INTO users (email, phone, password_hash, role, building_id, apartment, active, verified)
	      VALUES ($1, $2, $3, $4, $5, $6, true, false)
	      RETURNING ` + userColumns

	var buildingID pgtype.UUID
	if u.BuildingID != nil {
		buildingID = pgtype.UUID{Bytes: *u.BuildingID, Valid: true}
	}
	var apartment pgtype.Text
	if u.Apartment != "" {
		apartment = pgtype.Text{String: u.Apartment, Valid: true}
	}

	row := repo.s.DBTX(tx).QueryRow(ctx, q, strings.ToLower(u.Email), u.Phone, u.PasswordHash, string(u.Role), buildingID, apartment)
	return scanUserRow(row)
}

// RecordFailedLogin writes the failure count computed by the caller (which
// owns the rolling-window reset logic) and stamps the failure time; when
// the count has reached the threshold, lockout-until is set as well.
func (repo *UserRepo) RecordFailedLogin(ctx context.Context, tx pgx.Tx, id uuid.UUID, failedCount int, lockoutUntil time.Time, setLockout bool) error {
	var q string
	var args []any
	if setLockout {
		q = `UPDATE users SET failed_login_count = $2, last_failed_login_at = now(), lockout_until = $3 WHERE id = $1`
		args = []any{id, failedCount, lockoutUntil}
	} else {
		q = `UPDATE users SET failed_login_count = $2, last_failed_login_at = now() WHERE id = $1`
		args = []any{id, failedCount}
	}
	_, err := repo.s.DBTX(tx).Exec(ctx, q, args...)
	return store.ClassifyError(err)
}

// SetVerified marks a pending registration as approved.
func (repo *UserRepo) SetVerified(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := repo.s.DBTX(tx).Exec(ctx, `UPDATE users SET verified = true WHERE id = $1 AND active = true`, id)
	if err != nil {
		return store.ClassifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.NotFound, "NotFound", "user not found")
	}
	return nil
}

// RecordSuccessfulLogin clears the lockout state and stamps last-login
// metadata.
func (repo *UserRepo) RecordSuccessfulLogin(ctx context.Context, tx pgx.Tx, id uuid.UUID, ip, agent string) error {
	q := `UPDATE users SET failed_login_count = 0, last_failed_login_at = NULL, lockout_until = NULL,
	      last_login_at = now(), last_login_ip = $2, last_login_agent = $3 WHERE id = $1`
	_, err := repo.s.DBTX(tx).Exec(ctx, q, id, ip, agent)
	return store.ClassifyError(err)
}

// --- Sessions ---

// SessionRepo is the typed repository for the sessions table.
type SessionRepo struct {
	s *store.Store
}

// NewSessionRepo builds a SessionRepo over the shared store.
func NewSessionRepo(s *store.Store) *SessionRepo { return &SessionRepo{s: s} }

type sessionRow struct {
	ID                pgtype.UUID
	UserID            pgtype.UUID
	AccessTokenHash   string
	RefreshTokenHash  string
	IssuedAt          pgtype.Timestamptz
	ExpiresAt         pgtype.Timestamptz
	RefreshExpiresAt  pgtype.Timestamptz
	DeviceFingerprint pgtype.Text
	OriginIP          pgtype.Text
	Revoked           bool
}

func (r sessionRow) toSession() *Session {
	s := &Session{
		ID:               uuid.UUID(r.ID.Bytes),
		UserID:           uuid.UUID(r.UserID.Bytes),
		AccessTokenHash:  r.AccessTokenHash,
		RefreshTokenHash: r.RefreshTokenHash,
		IssuedAt:         r.IssuedAt.Time,
		ExpiresAt:        r.ExpiresAt.Time,
		RefreshExpiresAt: r.RefreshExpiresAt.Time,
		Revoked:          r.Revoked,
	}
	if r.DeviceFingerprint.Valid {
		s.DeviceFingerprint = r.DeviceFingerprint.String
	}
	if r.OriginIP.Valid {
		s.OriginIP = r.OriginIP.String
	}
	return s
}

const sessionColumns = `id, user_id, access_token_hash, refresh_token_hash, issued_at, expires_at,
	refresh_expires_at, device_fingerprint, origin_ip, revoked`

func scanSessionRow(row pgx.Row) (*Session, error) {
	var r sessionRow
	err := row.Scan(&r.ID, &r.UserID, &r.AccessTokenHash, &r.RefreshTokenHash, &r.IssuedAt, &r.ExpiresAt,
		&r.RefreshExpiresAt, &r.DeviceFingerprint, &r.OriginIP, &r.Revoked)
	if err != nil {
		return nil, store.ClassifyError(err)
	}
	return r.toSession(), nil
}

// Insert creates a new session row.
func (repo *SessionRepo) Insert(ctx context.Context, tx pgx.Tx, s *Session) (*Session, error) {
	q := `INSERT INTO sessions (user_id, access_token_hash, refresh_token_hash, issued_at, expires_at,
	      refresh_expires_at, device_fingerprint, origin_ip, revoked)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
	      RETURNING ` + sessionColumns

	row := repo.s.DBTX(tx).QueryRow(ctx, q, s.UserID, s.AccessTokenHash, s.RefreshTokenHash, s.IssuedAt,
		s.ExpiresAt, s.RefreshExpiresAt, s.DeviceFingerprint, s.OriginIP)
	return scanSessionRow(row)
}

// FindByAccessHash is the O(1) lookup Identity.verify uses.
func (repo *SessionRepo) FindByAccessHash(ctx context.Context, tx pgx.Tx, hash string) (*Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE access_token_hash = $1`
	return scanSessionRow(repo.s.DBTX(tx).QueryRow(ctx, q, hash))
}

// FindByRefreshHash looks a session up by its refresh token hash.
func (repo *SessionRepo) FindByRefreshHash(ctx context.Context, tx pgx.Tx, hash string) (*Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_hash = $1`
	return scanSessionRow(repo.s.DBTX(tx).QueryRow(ctx, q, hash))
}

// Revoke flips the revoked flag for one session.
func (repo *SessionRepo) Revoke(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := repo.s.DBTX(tx).Exec(ctx, `UPDATE sessions SET revoked = true WHERE id = $1`, id)
	return store.ClassifyError(err)
}

// RevokeAll revokes every session belonging to userID.
func (repo *SessionRepo) RevokeAll(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	_, err := repo.s.DBTX(tx).Exec(ctx, `UPDATE sessions SET revoked = true WHERE user_id = $1`, userID)
	return store.ClassifyError(err)
}
