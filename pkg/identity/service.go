package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/store"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
	upperRe = regexp.MustCompile(`[A-Z]`)
	lowerRe = regexp.MustCompile(`[a-z]`)
	digitRe = regexp.MustCompile(`\d`)
	symbolRe = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// Config holds the tunables Identity reads from the environment.
type Config struct {
	PasswordHashCost          int
	AccessTTL                 time.Duration
	RefreshTTL                time.Duration
	LoginLockoutThreshold     int
	LoginLockoutWindow        time.Duration
	LoginLockoutDuration      time.Duration
}

// BuildingGate is the narrow building lookup Register consults for the
// resident license-quota check. *building.Repo satisfies it; declared here
// so identity does not depend on the building package.
type BuildingGate interface {
	LicenseQuota(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error)
}

// Service implements register/login/issueSession/verify/refresh/revoke and
// the authorization predicate.
type Service struct {
	st       *store.Store
	users    *UserRepo
	sessions *SessionRepo
	buildings BuildingGate
	cfg      Config
}

// NewService wires Identity over the shared store.
func NewService(st *store.Store, buildings BuildingGate, cfg Config) *Service {
	return &Service{
		st:        st,
		users:     NewUserRepo(st),
		sessions:  NewSessionRepo(st),
		buildings: buildings,
		cfg:       cfg,
	}
}

// RegisterInput is the register() request shape.
type RegisterInput struct {
	Email      string
	Phone      string
	Password   string
	Role       Role
	BuildingID *uuid.UUID
	Apartment  string
}

// AuthResult is returned by operations that mint a fresh session.
type AuthResult struct {
	User         *User
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Register validates and creates a new User, then issues a session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if err := validateRegisterInput(in); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.PasswordHashCost)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "HashFailure", "failed to hash password", err)
	}

	var result *AuthResult
	err = store.WithTx(ctx, s.st, func(tx pgx.Tx) error {
		if in.Role == RoleResident && in.BuildingID != nil {
			quota, err := s.buildings.LicenseQuota(ctx, tx, *in.BuildingID)
			if err != nil {
				return err
			}
			count, err := s.users.CountActiveResidents(ctx, tx, *in.BuildingID)
			if err != nil {
				return err
			}
			if count >= quota {
				return errs.New(errs.License, "BuildingLicenseExhausted", "this building has reached its resident license quota")
			}
		}

		existing, err := s.users.FindByEmail(ctx, tx, in.Email)
		if existing != nil {
			return errs.New(errs.Conflict, "DuplicateEmail", "an account with this email already exists")
		}
		if err != nil {
			if e, ok := errs.As(err); !ok || e.Code != errs.NotFound {
				return err
			}
		}

		u, err := s.users.Insert(ctx, tx, &User{
			Email:        in.Email,
			Phone:        in.Phone,
			PasswordHash: string(hash),
			Role:         in.Role,
			BuildingID:   in.BuildingID,
			Apartment:    in.Apartment,
		})
		if err != nil {
			if e, ok := errs.As(err); ok && e.Reason == "UniqueViolation" {
				if strings.Contains(e.Error(), "phone") {
					return errs.New(errs.Conflict, "DuplicatePhone", "an account with this phone number already exists")
				}
				return errs.New(errs.Conflict, "DuplicateEmail", "an account with this email already exists")
			}
			return err
		}

		sess, access, refresh, err := s.issueSessionTx(ctx, tx, u, Device{})
		if err != nil {
			return err
		}
		result = &AuthResult{User: u, AccessToken: access, RefreshToken: refresh, ExpiresAt: sess.ExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func validateRegisterInput(in RegisterInput) error {
	details := map[string]any{}
	if !emailRe.MatchString(in.Email) {
		details["email"] = "must be a valid email address"
	}
	if !phoneRe.MatchString(in.Phone) {
		details["phone"] = "must be E.164 format, e.g. +2348011112222"
	}
	if !IsValidRole(in.Role) {
		return errs.New(errs.Validation, "InvalidRole", "role is not recognized")
	}
	if len(in.Password) < 8 || !upperRe.MatchString(in.Password) || !lowerRe.MatchString(in.Password) ||
		!digitRe.MatchString(in.Password) || !symbolRe.MatchString(in.Password) {
		return errs.New(errs.Validation, "WeakPassword",
			"password must be at least 8 characters with upper, lower, digit, and symbol")
	}
	if in.Role != RoleSuperAdmin && in.BuildingID == nil {
		details["building_id"] = "required for this role"
	}
	if in.Role == RoleResident && in.Apartment == "" {
		details["apartment"] = "required for residents"
	}
	if len(details) > 0 {
		return errs.New(errs.Validation, "InvalidRegistration", "one or more fields are invalid").WithDetails(details)
	}
	return nil
}

// Login verifies credentials and, on success, issues a session. device
// carries the caller's IP/user-agent/fingerprint for lockout and session
// bookkeeping.
func (s *Service) Login(ctx context.Context, email, password string, device Device) (*AuthResult, error) {
	var result *AuthResult
	err := store.WithTx(ctx, s.st, func(tx pgx.Tx) error {
		u, err := s.users.FindByEmail(ctx, tx, email)
		if err != nil {
			if e, ok := errs.As(err); ok && e.Code == errs.NotFound {
				return errs.New(errs.Authn, "InvalidCredentials", "email or password is incorrect")
			}
			return err
		}

		now := time.Now().UTC()
		if u.LockoutUntil != nil && u.LockoutUntil.After(now) {
			return errs.New(errs.Authn, "AccountLocked", "account is temporarily locked, try again later")
		}

		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			// Failures age out of the rolling lockout window: a failure
			// older than the window restarts the count at zero.
			count := u.FailedLoginCount
			if u.LastFailedLoginAt != nil && now.Sub(*u.LastFailedLoginAt) > s.cfg.LoginLockoutWindow {
				count = 0
			}
			newCount := count + 1
			setLockout := newCount >= s.cfg.LoginLockoutThreshold
			lockoutUntil := now.Add(s.cfg.LoginLockoutDuration)
			if err := s.users.RecordFailedLogin(ctx, tx, u.ID, newCount, lockoutUntil, setLockout); err != nil {
				return err
			}
			return errs.New(errs.Authn, "InvalidCredentials", "email or password is incorrect")
		}

		if err := s.users.RecordSuccessfulLogin(ctx, tx, u.ID, device.IP, device.UserAgent); err != nil {
			return err
		}

		sess, access, refresh, err := s.issueSessionTx(ctx, tx, u, device)
		if err != nil {
			return err
		}
		result = &AuthResult{User: u, AccessToken: access, RefreshToken: refresh, ExpiresAt: sess.ExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// issueSessionTx generates and stores a fresh token pair inside an open
// transaction, returning the raw tokens exactly once.
func (s *Service) issueSessionTx(ctx context.Context, tx pgx.Tx, u *User, device Device) (*Session, string, string, error) {
	access, accessHash, err := newToken()
	if err != nil {
		return nil, "", "", errs.Wrap(errs.Internal, "TokenGeneration", "failed to generate access token", err)
	}
	refresh, refreshHash, err := newToken()
	if err != nil {
		return nil, "", "", errs.Wrap(errs.Internal, "TokenGeneration", "failed to generate refresh token", err)
	}

	now := time.Now().UTC()
	sess, err := s.sessions.Insert(ctx, tx, &Session{
		UserID:            u.ID,
		AccessTokenHash:   accessHash,
		RefreshTokenHash:  refreshHash,
		IssuedAt:          now,
		ExpiresAt:         now.Add(s.cfg.AccessTTL),
		RefreshExpiresAt:  now.Add(s.cfg.RefreshTTL),
		DeviceFingerprint: device.Fingerprint,
		OriginIP:          device.IP,
	})
	if err != nil {
		return nil, "", "", err
	}
	return sess, access, refresh, nil
}

// IssueSession issues a standalone session outside of register/login, e.g.
// for administrative impersonation flows.
func (s *Service) IssueSession(ctx context.Context, u *User, device Device) (*AuthResult, error) {
	var result *AuthResult
	err := store.WithTx(ctx, s.st, func(tx pgx.Tx) error {
		sess, access, refresh, err := s.issueSessionTx(ctx, tx, u, device)
		if err != nil {
			return err
		}
		result = &AuthResult{User: u, AccessToken: access, RefreshToken: refresh, ExpiresAt: sess.ExpiresAt}
		return nil
	})
	return result, err
}

// Verify resolves an access token to its Principal. O(1) lookup by hash.
func (s *Service) Verify(ctx context.Context, accessToken string) (*Principal, error) {
	if accessToken == "" {
		return nil, errs.New(errs.Authn, "MissingToken", "access token is required")
	}
	hash := hashToken(accessToken)

	sess, err := s.sessions.FindByAccessHash(ctx, nil, hash)
	if err != nil {
		if e, ok := errs.As(err); ok && e.Code == errs.NotFound {
			return nil, errs.New(errs.Authn, "InvalidToken", "access token is invalid")
		}
		return nil, err
	}
	if sess.Revoked {
		return nil, errs.New(errs.Authn, "SessionRevoked", "session has been revoked")
	}
	if time.Now().UTC().After(sess.ExpiresAt) {
		return nil, errs.New(errs.Authn, "TokenExpired", "access token has expired")
	}

	u, err := s.users.FindByID(ctx, nil, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, errs.New(errs.Authn, "InvalidToken", "account is no longer active")
	}

	return &Principal{
		UserID:     u.ID,
		SessionID:  sess.ID,
		Email:      u.Email,
		Role:       u.Role,
		BuildingID: u.BuildingID,
	}, nil
}

// Refresh verifies a refresh token, revokes the old session, and issues a
// new token pair. The refresh token rotates: reuse fails AUTHENTICATION.
func (s *Service) Refresh(ctx context.Context, refreshToken string, device Device) (*AuthResult, error) {
	hash := hashToken(refreshToken)

	var result *AuthResult
	err := store.WithTx(ctx, s.st, func(tx pgx.Tx) error {
		sess, err := s.sessions.FindByRefreshHash(ctx, tx, hash)
		if err != nil {
			if e, ok := errs.As(err); ok && e.Code == errs.NotFound {
				return errs.New(errs.Authn, "InvalidToken", "refresh token is invalid")
			}
			return err
		}
		if sess.Revoked {
			return errs.New(errs.Authn, "SessionRevoked", "session has been revoked")
		}
		if time.Now().UTC().After(sess.RefreshExpiresAt) {
			return errs.New(errs.Authn, "TokenExpired", "refresh token has expired")
		}

		if err := s.sessions.Revoke(ctx, tx, sess.ID); err != nil {
			return err
		}

		u, err := s.users.FindByID(ctx, tx, sess.UserID)
		if err != nil {
			return err
		}

		newSess, access, refresh, err := s.issueSessionTx(ctx, tx, u, device)
		if err != nil {
			return err
		}
		result = &AuthResult{User: u, AccessToken: access, RefreshToken: refresh, ExpiresAt: newSess.ExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Approve flips a pending registration's verified flag. The caller must
// hold the approve capability and share the target's building; a target
// outside the caller's scope reads as not-found.
func (s *Service) Approve(ctx context.Context, p *Principal, userID uuid.UUID) (*User, error) {
	if err := Authorize(p, CapApproveRegistrations); err != nil {
		return nil, err
	}

	var approved *User
	err := store.WithTx(ctx, s.st, func(tx pgx.Tx) error {
		u, err := s.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if u.BuildingID == nil {
			if p.Role != RoleSuperAdmin {
				return errs.New(errs.NotFound, "NotFound", "user not found")
			}
		} else if !SameBuilding(p, *u.BuildingID) {
			return errs.New(errs.NotFound, "NotFound", "user not found")
		}
		if u.Verified {
			return errs.New(errs.Conflict, "AlreadyVerified", "registration is already approved")
		}

		if err := s.users.SetVerified(ctx, tx, u.ID); err != nil {
			return err
		}
		u.Verified = true
		approved = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// Revoke invalidates a single session.
func (s *Service) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	return store.WithTx(ctx, s.st, func(tx pgx.Tx) error {
		return s.sessions.Revoke(ctx, tx, sessionID)
	})
}

// RevokeAll invalidates every session for a user (logout of all devices).
func (s *Service) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	return store.WithTx(ctx, s.st, func(tx pgx.Tx) error {
		return s.sessions.RevokeAll(ctx, tx, userID)
	})
}

// newToken generates a random 32-byte token and returns both its
// URL-safe base64 plaintext (returned to the caller exactly once) and its
// sha256 hash (the value persisted and looked up against).
func newToken() (plaintext, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	plaintext = base64.RawURLEncoding.EncodeToString(buf)
	return plaintext, hashToken(plaintext), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
