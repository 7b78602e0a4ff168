package ban

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/store"
)

// Repo is the typed repository for the bans table.
type Repo struct {
	s *store.Store
}

// NewRepo builds a Repo over the shared store.
func NewRepo(s *store.Store) *Repo { return &Repo{s: s} }

type banRow struct {
	ID          pgtype.UUID
	OwnerID     pgtype.UUID
	TargetPhone string
	TargetName  string
	Reason      string
	Severity    string
	BanType     string
	CreatedAt   pgtype.Timestamptz
	ExpiresAt   pgtype.Timestamptz
	Active      bool
	UnbanReason pgtype.Text
	UnbannedAt  pgtype.Timestamptz
}

func (r banRow) toBan() *Ban {
	b := &Ban{
		ID:          uuid.UUID(r.ID.Bytes),
		OwnerID:     uuid.UUID(r.OwnerID.Bytes),
		TargetPhone: r.TargetPhone,
		TargetName:  r.TargetName,
		Reason:      r.Reason,
		Severity:    Severity(r.Severity),
		Type:        Type(r.BanType),
		CreatedAt:   r.CreatedAt.Time,
		Active:      r.Active,
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		b.ExpiresAt = &t
	}
	if r.UnbanReason.Valid {
		b.UnbanReason = r.UnbanReason.String
	}
	if r.UnbannedAt.Valid {
		t := r.UnbannedAt.Time
		b.UnbannedAt = &t
	}
	return b
}

const banColumns = `id, owner_id, target_phone, target_name, reason, severity, ban_type,
	created_at, expires_at, active, unban_reason, unbanned_at`

func scanBan(row pgx.Row) (*Ban, error) {
	var r banRow
	err := row.Scan(&r.ID, &r.OwnerID, &r.TargetPhone, &r.TargetName, &r.Reason, &r.Severity, &r.BanType,
		&r.CreatedAt, &r.ExpiresAt, &r.Active, &r.UnbanReason, &r.UnbannedAt)
	if err != nil {
		return nil, store.ClassifyError(err)
	}
	return r.toBan(), nil
}

// Insert creates a Ban row. The unique partial index on
// (owner_id, target_phone) WHERE active enforces "one active ban per
// (owner, phone)"; a violation surfaces as errs.Conflict via
// store.ClassifyError, which the service maps to BanAlreadyExists.
func (r *Repo) Insert(ctx context.Context, tx pgx.Tx, b *Ban) (*Ban, error) {
	q := `INSERT INTO bans (owner_id, target_phone, target_name, reason, severity, ban_type, expires_at, active)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, true)
	      RETURNING ` + banColumns

	var expiresAt pgtype.Timestamptz
	if b.ExpiresAt != nil {
		expiresAt = pgtype.Timestamptz{Time: *b.ExpiresAt, Valid: true}
	}

	row := r.s.DBTX(tx).QueryRow(ctx, q, b.OwnerID, b.TargetPhone, b.TargetName, b.Reason,
		string(b.Severity), string(b.Type), expiresAt)
	return scanBan(row)
}

// FindByID loads a ban by primary key.
func (r *Repo) FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Ban, error) {
	q := `SELECT ` + banColumns + ` FROM bans WHERE id = $1`
	return scanBan(r.s.DBTX(tx).QueryRow(ctx, q, id))
}

// activeFilter is the idempotent "is this ban currently in force" predicate:
// active=true and (no expiry, or expiry still in the future).
const activeFilter = `active = true AND (expires_at IS NULL OR expires_at > now())`

// FindActiveByOwnerPhone answers "is phone P banned by user U?".
func (r *Repo) FindActiveByOwnerPhone(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, phone string) (*Ban, error) {
	q := `SELECT ` + banColumns + ` FROM bans WHERE owner_id = $1 AND target_phone = $2 AND ` + activeFilter
	b, err := scanBan(r.s.DBTX(tx).QueryRow(ctx, q, ownerID, phone))
	if err != nil {
		if e, ok := errs.As(err); ok && e.Code == errs.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

// FindActiveInBuilding answers "is phone P banned inside building B?",
// returning every active ban whose owner belongs to B.
func (r *Repo) FindActiveInBuilding(ctx context.Context, tx pgx.Tx, buildingID uuid.UUID, phone string) ([]*Ban, error) {
	q := `SELECT b.id, b.owner_id, b.target_phone, b.target_name, b.reason, b.severity, b.ban_type,
	      b.created_at, b.expires_at, b.active, b.unban_reason, b.unbanned_at
	      FROM bans b
	      JOIN users u ON u.id = b.owner_id
	      WHERE u.building_id = $1 AND b.target_phone = $2 AND b.` + activeFilter

	rows, err := r.s.DBTX(tx).Query(ctx, q, buildingID, phone)
	if err != nil {
		return nil, store.ClassifyError(err)
	}
	defer rows.Close()

	var out []*Ban
	for rows.Next() {
		var row banRow
		if err := rows.Scan(&row.ID, &row.OwnerID, &row.TargetPhone, &row.TargetName, &row.Reason, &row.Severity,
			&row.BanType, &row.CreatedAt, &row.ExpiresAt, &row.Active, &row.UnbanReason, &row.UnbannedAt); err != nil {
			return nil, store.ClassifyError(err)
		}
		out = append(out, row.toBan())
	}
	return out, rows.Err()
}

// Unban flips active off and stamps the unban reason/time. tx must be
// scoped so the WHERE clause enforces ownership (owner_id = $2) unless the
// caller is an admin, in which case the service passes a nil ownerID check
// by calling UnbanAny instead.
func (r *Repo) Unban(ctx context.Context, tx pgx.Tx, id, ownerID uuid.UUID, reason string) error {
	q := `UPDATE bans SET active = false, unbanned_at = now(), unban_reason = $3
	      WHERE id = $1 AND owner_id = $2 AND active = true`
	tag, err := r.s.DBTX(tx).Exec(ctx, q, id, ownerID, reason)
	if err != nil {
		return store.ClassifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.NotFound, "NotFound", "ban not found")
	}
	return nil
}

// UnbanAny is Unban without the ownership predicate, for admin callers.
func (r *Repo) UnbanAny(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error {
	q := `UPDATE bans SET active = false, unbanned_at = now(), unban_reason = $2
	      WHERE id = $1 AND active = true`
	tag, err := r.s.DBTX(tx).Exec(ctx, q, id, reason)
	if err != nil {
		return store.ClassifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.NotFound, "NotFound", "ban not found")
	}
	return nil
}

// ListForBuilding returns every active ban owned by a user of buildingID,
// for "read building ban list".
func (r *Repo) ListForBuilding(ctx context.Context, tx pgx.Tx, buildingID uuid.UUID, params store.PageParams) (store.Page[*Ban], error) {
	q := `SELECT b.id, b.owner_id, b.target_phone, b.target_name, b.reason, b.severity, b.ban_type,
	      b.created_at, b.expires_at, b.active, b.unban_reason, b.unbanned_at
	      FROM bans b
	      JOIN users u ON u.id = b.owner_id
	      WHERE u.building_id = $1 AND b.` + activeFilter + `
	      ORDER BY b.created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.s.DBTX(tx).Query(ctx, q, buildingID, params.Limit, params.Offset())
	if err != nil {
		return store.Page[*Ban]{}, store.ClassifyError(err)
	}
	defer rows.Close()

	var out []*Ban
	for rows.Next() {
		var row banRow
		if err := rows.Scan(&row.ID, &row.OwnerID, &row.TargetPhone, &row.TargetName, &row.Reason, &row.Severity,
			&row.BanType, &row.CreatedAt, &row.ExpiresAt, &row.Active, &row.UnbanReason, &row.UnbannedAt); err != nil {
			return store.Page[*Ban]{}, store.ClassifyError(err)
		}
		out = append(out, row.toBan())
	}
	if err := rows.Err(); err != nil {
		return store.Page[*Ban]{}, store.ClassifyError(err)
	}

	var total int
	countQ := `SELECT count(*) FROM bans b JOIN users u ON u.id = b.owner_id WHERE u.building_id = $1 AND b.` + activeFilter
	if err := r.s.DBTX(tx).QueryRow(ctx, countQ, buildingID).Scan(&total); err != nil {
		return store.Page[*Ban]{}, store.ClassifyError(err)
	}

	return store.NewPage(out, params, total), nil
}

// CountDistinctOwnersInBuilding counts how many distinct residents within
// buildingID currently hold an active ban on phone, used for check()'s
// "multiple" flag.
func (r *Repo) CountDistinctOwnersInBuilding(ctx context.Context, tx pgx.Tx, buildingID uuid.UUID, phone string) (int, error) {
	q := `SELECT count(DISTINCT b.owner_id) FROM bans b
	      JOIN users u ON u.id = b.owner_id
	      WHERE u.building_id = $1 AND u.role = 'resident' AND b.target_phone = $2 AND b.` + activeFilter
	var n int
	if err := r.s.DBTX(tx).QueryRow(ctx, q, buildingID, phone).Scan(&n); err != nil {
		return 0, store.ClassifyError(err)
	}
	return n, nil
}
