package visit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/store"
)

// Repo is the typed repository for the visits and visit_visitors tables.
type Repo struct {
	s *store.Store
}

// NewRepo builds a Repo over the shared store.
func NewRepo(s *store.Store) *Repo { return &Repo{s: s} }

type visitRow struct {
	ID               pgtype.UUID
	HostID           pgtype.UUID
	BuildingID       pgtype.UUID
	Purpose          string
	ExpectedStart    pgtype.Timestamptz
	ExpectedEnd      pgtype.Timestamptz
	ShortCode        pgtype.Text
	QRHash           pgtype.Text
	State            string
	CreatedAt        pgtype.Timestamptz
	LastTransitionAt pgtype.Timestamptz
}

func (r visitRow) toVisit() *Visit {
	return &Visit{
		ID:               uuid.UUID(r.ID.Bytes),
		HostID:           uuid.UUID(r.HostID.Bytes),
		BuildingID:       uuid.UUID(r.BuildingID.Bytes),
		Purpose:          r.Purpose,
		ExpectedStart:    r.ExpectedStart.Time,
		ExpectedEnd:      r.ExpectedEnd.Time,
		ShortCode:        r.ShortCode.String,
		QRHash:           r.QRHash.String,
		State:            State(r.State),
		CreatedAt:        r.CreatedAt.Time,
		LastTransitionAt: r.LastTransitionAt.Time,
	}
}

const visitColumns = `id, host_id, building_id, purpose, expected_start, expected_end,
	short_code, qr_hash, state, created_at, last_transition_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var r visitRow
	err := row.Scan(&r.ID, &r.HostID, &r.BuildingID, &r.Purpose, &r.ExpectedStart, &r.ExpectedEnd,
		&r.ShortCode, &r.QRHash, &r.State, &r.CreatedAt, &r.LastTransitionAt)
	if err != nil {
		return nil, store.ClassifyError(err)
	}
	return r.toVisit(), nil
}

type visitorRow struct {
	ID        pgtype.UUID
	VisitID   pgtype.UUID
	Name      string
	Phone     string
	State     string
	EntryAt   pgtype.Timestamptz
	ExitAt    pgtype.Timestamptz
	CreatedAt pgtype.Timestamptz
}

func (r visitorRow) toVisitor() *Visitor {
	v := &Visitor{
		ID:        uuid.UUID(r.ID.Bytes),
		VisitID:   uuid.UUID(r.VisitID.Bytes),
		Name:      r.Name,
		Phone:     r.Phone,
		State:     VisitorState(r.State),
		CreatedAt: r.CreatedAt.Time,
	}
	if r.EntryAt.Valid {
		t := r.EntryAt.Time
		v.EntryAt = &t
	}
	if r.ExitAt.Valid {
		t := r.ExitAt.Time
		v.ExitAt = &t
	}
	return v
}

const visitorColumns = `id, visit_id, name, phone, state, entry_at, exit_at, created_at`

// Insert creates a Visit row plus one Visitor row per entry in v.Visitors,
// all inside tx. Callers retry the whole call on a short-code unique
// violation; a QR-hash collision is treated the same
// way even though it is astronomically unlikely given a 24-byte payload.
func (r *Repo) Insert(ctx context.Context, tx pgx.Tx, v *Visit) (*Visit, error) {
	q := `INSERT INTO visits (host_id, building_id, purpose, expected_start, expected_end,
	      short_code, qr_hash, state, created_at, last_transition_at)
	      VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, now(), now())
	      RETURNING ` + visitColumns

	row := r.s.DBTX(tx).QueryRow(ctx, q, v.HostID, v.BuildingID, v.Purpose, v.ExpectedStart, v.ExpectedEnd,
		v.ShortCode, v.QRHash, string(v.State))
	created, err := scanVisit(row)
	if err != nil {
		return nil, err
	}

	for _, visitor := range v.Visitors {
		vq := `INSERT INTO visit_visitors (visit_id, name, phone, state, created_at)
		       VALUES ($1, $2, $3, $4, now()) RETURNING ` + visitorColumns
		vrow := r.s.DBTX(tx).QueryRow(ctx, vq, created.ID, visitor.Name, visitor.Phone, string(visitor.State))
		var vr visitorRow
		if err := vrow.Scan(&vr.ID, &vr.VisitID, &vr.Name, &vr.Phone, &vr.State, &vr.EntryAt, &vr.ExitAt, &vr.CreatedAt); err != nil {
			return nil, store.ClassifyError(err)
		}
		created.Visitors = append(created.Visitors, vr.toVisitor())
	}

	return created, nil
}

// setQRHash stamps the QR hash onto a just-inserted visit row. Split from
// Insert because the QR payload is bound to the visit id generated by the
// insert itself (GenerateQR(created.ID)).
func (r *Repo) setQRHash(ctx context.Context, tx pgx.Tx, id uuid.UUID, hash string) error {
	_, err := r.s.DBTX(tx).Exec(ctx, `UPDATE visits SET qr_hash = $2 WHERE id = $1`, id, hash)
	return store.ClassifyError(err)
}

// FindByID loads a Visit and its Visitors by primary key.
func (r *Repo) FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.s.DBTX(tx).QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	visitors, err := r.visitorsForVisit(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	v.Visitors = visitors
	return v, nil
}

func (r *Repo) visitorsForVisit(ctx context.Context, tx pgx.Tx, visitID uuid.UUID) ([]*Visitor, error) {
	q := `SELECT ` + visitorColumns + ` FROM visit_visitors WHERE visit_id = $1 ORDER BY created_at ASC`
	rows, err := r.s.DBTX(tx).Query(ctx, q, visitID)
	if err != nil {
		return nil, store.ClassifyError(err)
	}
	defer rows.Close()

	var out []*Visitor
	for rows.Next() {
		var vr visitorRow
		if err := rows.Scan(&vr.ID, &vr.VisitID, &vr.Name, &vr.Phone, &vr.State, &vr.EntryAt, &vr.ExitAt, &vr.CreatedAt); err != nil {
			return nil, store.ClassifyError(err)
		}
		out = append(out, vr.toVisitor())
	}
	return out, rows.Err()
}

// FindByQRHash looks up a non-terminal visit by its QR hash, scoped to the
// scanner's building so a pass can never be redeemed at another building's
// gate.
func (r *Repo) FindByQRHash(ctx context.Context, tx pgx.Tx, buildingID uuid.UUID, hash string) (*Visit, error) {
	q := `SELECT ` + visitColumns + ` FROM visits
	      WHERE building_id = $1 AND qr_hash = $2 AND state NOT IN ('completed','cancelled','expired')`
	v, err := scanVisit(r.s.DBTX(tx).QueryRow(ctx, q, buildingID, hash))
	if err != nil {
		if e, ok := errs.As(err); ok && e.Code == errs.NotFound {
			return nil, nil
		}
		return nil, err
	}
	visitors, err := r.visitorsForVisit(ctx, tx, v.ID)
	if err != nil {
		return nil, err
	}
	v.Visitors = visitors
	return v, nil
}

// FindByShortCode looks up a non-terminal visit by (building, short_code).
func (r *Repo) FindByShortCode(ctx context.Context, tx pgx.Tx, buildingID uuid.UUID, code string) (*Visit, error) {
	q := `SELECT ` + visitColumns + ` FROM visits
	      WHERE building_id = $1 AND short_code = $2 AND state NOT IN ('completed','cancelled','expired')`
	v, err := scanVisit(r.s.DBTX(tx).QueryRow(ctx, q, buildingID, code))
	if err != nil {
		if e, ok := errs.As(err); ok && e.Code == errs.NotFound {
			return nil, nil
		}
		return nil, err
	}
	visitors, err := r.visitorsForVisit(ctx, tx, v.ID)
	if err != nil {
		return nil, err
	}
	v.Visitors = visitors
	return v, nil
}

// TransitionState performs a conditional UPDATE visits SET state=to WHERE
// id=id AND state=from, reporting whether it matched. This is the
// single-row compare-and-swap the state machine relies on instead of an
// application-level lock.
func (r *Repo) TransitionState(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to State) (bool, error) {
	q := `UPDATE visits SET state = $3, last_transition_at = now() WHERE id = $1 AND state = $2`
	tag, err := r.s.DBTX(tx).Exec(ctx, q, id, string(from), string(to))
	if err != nil {
		return false, store.ClassifyError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateEditable patches the fields a host/admin may still change on a
// non-terminal visit: purpose and the expected time window.
func (r *Repo) UpdateEditable(ctx context.Context, tx pgx.Tx, id uuid.UUID, purpose string, start, end time.Time) error {
	q := `UPDATE visits SET purpose = $2, expected_start = $3, expected_end = $4
	      WHERE id = $1 AND state NOT IN ('completed','cancelled','expired')`
	tag, err := r.s.DBTX(tx).Exec(ctx, q, id, purpose, start, end)
	if err != nil {
		return store.ClassifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.Conflict, "InvalidTransition", "visit is terminal and can no longer be edited")
	}
	return nil
}

// RetireCodes clears the short code and QR hash so the unique partial
// indexes free the values for reuse by future visits.
func (r *Repo) RetireCodes(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	q := `UPDATE visits SET short_code = NULL, qr_hash = NULL WHERE id = $1`
	_, err := r.s.DBTX(tx).Exec(ctx, q, id)
	return store.ClassifyError(err)
}

// NextVisitorInState returns the earliest-inserted visitor of visitID
// currently in state, or nil if none. This is the
// "tie-break: insertion order" pick.
func (r *Repo) NextVisitorInState(ctx context.Context, tx pgx.Tx, visitID uuid.UUID, state VisitorState) (*Visitor, error) {
	q := `SELECT ` + visitorColumns + ` FROM visit_visitors
	      WHERE visit_id = $1 AND state = $2 ORDER BY created_at ASC LIMIT 1`
	row := r.s.DBTX(tx).QueryRow(ctx, q, visitID, string(state))
	var vr visitorRow
	err := row.Scan(&vr.ID, &vr.VisitID, &vr.Name, &vr.Phone, &vr.State, &vr.EntryAt, &vr.ExitAt, &vr.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, store.ClassifyError(err)
	}
	return vr.toVisitor(), nil
}

// TransitionVisitor performs the conditional UPDATE that gives scan its
// at-most-once-per-phase guarantee: only the caller whose WHERE clause
// still matches the visitor's current state wins the row.
func (r *Repo) TransitionVisitor(ctx context.Context, tx pgx.Tx, visitorID uuid.UUID, from, to VisitorState, stampColumn string) (bool, error) {
	q := `UPDATE visit_visitors SET state = $3, ` + stampColumn + ` = now() WHERE id = $1 AND state = $2`
	tag, err := r.s.DBTX(tx).Exec(ctx, q, visitorID, string(from), string(to))
	if err != nil {
		return false, store.ClassifyError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountVisitorsInStates counts visitors of visitID whose state is one of
// states, used to decide whether a visit is ready to complete.
func (r *Repo) CountVisitorsInStates(ctx context.Context, tx pgx.Tx, visitID uuid.UUID, states ...VisitorState) (int, error) {
	strs := make([]string, len(states))
	for i, s := range states {
		strs[i] = string(s)
	}
	q := `SELECT count(*) FROM visit_visitors WHERE visit_id = $1 AND state = ANY($2)`
	var n int
	err := r.s.DBTX(tx).QueryRow(ctx, q, visitID, strs).Scan(&n)
	if err != nil {
		return 0, store.ClassifyError(err)
	}
	return n, nil
}

// CancelAllNonTerminalVisitors cancels every visitor of visitID not already
// in a terminal per-visitor state (exited or cancelled).
func (r *Repo) CancelAllNonTerminalVisitors(ctx context.Context, tx pgx.Tx, visitID uuid.UUID) error {
	q := `UPDATE visit_visitors SET state = 'cancelled' WHERE visit_id = $1 AND state NOT IN ('exited','cancelled')`
	_, err := r.s.DBTX(tx).Exec(ctx, q, visitID)
	return store.ClassifyError(err)
}

// ListExpiryCandidates returns non-terminal visits whose expected_end plus
// grace has already passed, for the sweeper.
func (r *Repo) ListExpiryCandidates(ctx context.Context, tx pgx.Tx, grace time.Duration, limit int) ([]*Visit, error) {
	q := `SELECT ` + visitColumns + ` FROM visits
	      WHERE state NOT IN ('completed','cancelled','expired')
	        AND expected_end + make_interval(secs => $2) < now()
	      ORDER BY expected_end ASC LIMIT $1`
	rows, err := r.s.DBTX(tx).Query(ctx, q, limit, int(grace.Seconds()))
	if err != nil {
		return nil, store.ClassifyError(err)
	}
	defer rows.Close()

	var out []*Visit
	for rows.Next() {
		var vr visitRow
		if err := rows.Scan(&vr.ID, &vr.HostID, &vr.BuildingID, &vr.Purpose, &vr.ExpectedStart, &vr.ExpectedEnd,
			&vr.ShortCode, &vr.QRHash, &vr.State, &vr.CreatedAt, &vr.LastTransitionAt); err != nil {
			return nil, store.ClassifyError(err)
		}
		out = append(out, vr.toVisit())
	}
	return out, rows.Err()
}

// ListForUser returns visits hosted by userID, most recent first.
func (r *Repo) ListForUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID, params store.PageParams) (store.Page[*Visit], error) {
	q := `SELECT ` + visitColumns + ` FROM visits WHERE host_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.listPage(ctx, tx, q, []any{userID, params.Limit, params.Offset()}, `SELECT count(*) FROM visits WHERE host_id = $1`, []any{userID}, params)
}

// ListForBuilding returns visits within buildingID, most recent first, for
// the super_admin/building_admin/security building-scoped read.
func (r *Repo) ListForBuilding(ctx context.Context, tx pgx.Tx, buildingID uuid.UUID, params store.PageParams) (store.Page[*Visit], error) {
	q := `SELECT ` + visitColumns + ` FROM visits WHERE building_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.listPage(ctx, tx, q, []any{buildingID, params.Limit, params.Offset()}, `SELECT count(*) FROM visits WHERE building_id = $1`, []any{buildingID}, params)
}

func (r *Repo) listPage(ctx context.Context, tx pgx.Tx, q string, args []any, countQ string, countArgs []any, params store.PageParams) (store.Page[*Visit], error) {
	rows, err := r.s.DBTX(tx).Query(ctx, q, args...)
	if err != nil {
		return store.Page[*Visit]{}, store.ClassifyError(err)
	}
	defer rows.Close()

	var out []*Visit
	for rows.Next() {
		var vr visitRow
		if err := rows.Scan(&vr.ID, &vr.HostID, &vr.BuildingID, &vr.Purpose, &vr.ExpectedStart, &vr.ExpectedEnd,
			&vr.ShortCode, &vr.QRHash, &vr.State, &vr.CreatedAt, &vr.LastTransitionAt); err != nil {
			return store.Page[*Visit]{}, store.ClassifyError(err)
		}
		out = append(out, vr.toVisit())
	}
	if err := rows.Err(); err != nil {
		return store.Page[*Visit]{}, store.ClassifyError(err)
	}

	var total int
	if err := r.s.DBTX(tx).QueryRow(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return store.Page[*Visit]{}, store.ClassifyError(err)
	}

	return store.NewPage(out, params, total), nil
}
