// Package building implements the Building entity: the tenant boundary
// access control is scoped to.
package building

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wisbric/safeguard/internal/store"
)

// Building is the tenant boundary entity.
type Building struct {
	ID           uuid.UUID
	Name         string
	LicenseQuota int
	Active       bool
	CreatedAt    time.Time
}

// Repo is the typed repository for the buildings table.
type Repo struct {
	s *store.Store
}

// NewRepo builds a Repo over the shared store.
func NewRepo(s *store.Store) *Repo { return &Repo{s: s} }

type buildingRow struct {
	ID           pgtype.UUID
	Name         string
	LicenseQuota int32
	Active       bool
	CreatedAt    pgtype.Timestamptz
}

func scanBuilding(row pgx.Row) (*Building, error) {
	var r buildingRow
	if err := row.Scan(&r.ID, &r.Name, &r.LicenseQuota, &r.Active, &r.CreatedAt); err != nil {
		return nil, store.ClassifyError(err)
	}
	return &Building{
		ID:           uuid.UUID(r.ID.Bytes),
		Name:         r.Name,
		LicenseQuota: int(r.LicenseQuota),
		Active:       r.Active,
		CreatedAt:    r.CreatedAt.Time,
	}, nil
}

const buildingColumns = `id, name, license_quota, active, created_at`

// FindByID loads a building by primary key.
func (repo *Repo) FindByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Building, error) {
	q := `SELECT ` + buildingColumns + ` FROM buildings WHERE id = $1`
	return scanBuilding(repo.s.DBTX(tx).QueryRow(ctx, q, id))
}

// LicenseQuota returns the resident license quota of a building.
func (repo *Repo) LicenseQuota(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error) {
	b, err := repo.FindByID(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	return b.LicenseQuota, nil
}

// Insert creates a building. Only a super_admin capability reaches this.
func (repo *Repo) Insert(ctx context.Context, tx pgx.Tx, name string, quota int) (*Building, error) {
	q := `INSERT INTO buildings (name, license_quota, active) VALUES ($1, $2, true) RETURNING ` + buildingColumns
	return scanBuilding(repo.s.DBTX(tx).QueryRow(ctx, q, name, quota))
}

// List returns every building, for the super_admin system-wide dashboard.
func (repo *Repo) List(ctx context.Context, tx pgx.Tx) ([]*Building, error) {
	q := `SELECT ` + buildingColumns + ` FROM buildings ORDER BY created_at DESC`
	rows, err := repo.s.DBTX(tx).Query(ctx, q)
	if err != nil {
		return nil, store.ClassifyError(err)
	}
	defer rows.Close()

	var out []*Building
	for rows.Next() {
		var r buildingRow
		if err := rows.Scan(&r.ID, &r.Name, &r.LicenseQuota, &r.Active, &r.CreatedAt); err != nil {
			return nil, store.ClassifyError(err)
		}
		out = append(out, &Building{ID: uuid.UUID(r.ID.Bytes), Name: r.Name, LicenseQuota: int(r.LicenseQuota), Active: r.Active, CreatedAt: r.CreatedAt.Time})
	}
	return out, rows.Err()
}
