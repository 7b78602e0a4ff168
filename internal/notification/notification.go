// Package notification owns the durable Notification row: the record
// written whenever EventBus publishes a durable, user-targeted event, and
// the periodic sweep that retires old ones.
package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/eventbus"
	"github.com/wisbric/safeguard/internal/store"
)

// Priority mirrors the enum on the Notification entity.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Notification is a durable record of a delivered event.
type Notification struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	BuildingID *uuid.UUID
	Type       string
	Title      string
	Body       string
	Payload    json.RawMessage
	Priority   Priority
	Read       bool
	CreatedAt  time.Time
	ExpiresAt  *time.Time
}

// Repo is the typed repository for the notifications table. It also
// implements eventbus.NotificationWriter so the bus can insert a row inside
// the publisher's open transaction.
type Repo struct {
	s *store.Store
}

// NewRepo builds a Repo over the shared store.
func NewRepo(s *store.Store) *Repo { return &Repo{s: s} }

var _ eventbus.NotificationWriter = (*Repo)(nil)

// InsertTx inserts a Notification row inside tx, satisfying
// eventbus.NotificationWriter. tx must be non-nil: durable notifications are
// always written in the same transaction as the state change that produced
// them.
func (r *Repo) InsertTx(ctx context.Context, tx pgx.Tx, recipientUserID uuid.UUID, spec eventbus.NotificationSpec) error {
	payload, err := json.Marshal(spec.Payload)
	if err != nil {
		return err
	}

	var buildingID pgtype.UUID
	if spec.BuildingID != nil {
		buildingID = pgtype.UUID{Bytes: *spec.BuildingID, Valid: true}
	}

	priority := spec.Priority
	if priority == "" {
		priority = string(PriorityMedium)
	}

	q := `INSERT INTO notifications (user_id, building_id, type, title, body, payload, priority, read, created_at)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, false, now())`
	_, err = r.s.DBTX(tx).Exec(ctx, q, recipientUserID, buildingID, spec.Type, spec.Title, spec.Body, payload, priority)
	return store.ClassifyError(err)
}

type notificationRow struct {
	ID         pgtype.UUID
	UserID     pgtype.UUID
	BuildingID pgtype.UUID
	Type       string
	Title      string
	Body       string
	Payload    []byte
	Priority   string
	Read       bool
	CreatedAt  pgtype.Timestamptz
	ExpiresAt  pgtype.Timestamptz
}

func (r notificationRow) toNotification() *Notification {
	n := &Notification{
		ID:        uuid.UUID(r.ID.Bytes),
		UserID:    uuid.UUID(r.UserID.Bytes),
		Type:      r.Type,
		Title:     r.Title,
		Body:      r.Body,
		Payload:   r.Payload,
		Priority:  Priority(r.Priority),
		Read:      r.Read,
		CreatedAt: r.CreatedAt.Time,
	}
	if r.BuildingID.Valid {
		b := uuid.UUID(r.BuildingID.Bytes)
		n.BuildingID = &b
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		n.ExpiresAt = &t
	}
	return n
}

const notificationColumns = `id, user_id, building_id, type, title, body, payload, priority, read, created_at, expires_at`

// ListForUser returns a user's notifications, most recent first, per the
// composite index on (user_id, read, created_at DESC).
func (r *Repo) ListForUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID, params store.PageParams) (store.Page[*Notification], error) {
	q := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1
	      ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.s.DBTX(tx).Query(ctx, q, userID, params.Limit, params.Offset())
	if err != nil {
		return store.Page[*Notification]{}, store.ClassifyError(err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var row notificationRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.BuildingID, &row.Type, &row.Title, &row.Body,
			&row.Payload, &row.Priority, &row.Read, &row.CreatedAt, &row.ExpiresAt); err != nil {
			return store.Page[*Notification]{}, store.ClassifyError(err)
		}
		out = append(out, row.toNotification())
	}
	if err := rows.Err(); err != nil {
		return store.Page[*Notification]{}, store.ClassifyError(err)
	}

	var total int
	if err := r.s.DBTX(tx).QueryRow(ctx, `SELECT count(*) FROM notifications WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return store.Page[*Notification]{}, store.ClassifyError(err)
	}

	return store.NewPage(out, params, total), nil
}

// MarkRead flips the read flag for one notification, scoped to its owner.
func (r *Repo) MarkRead(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID) error {
	tag, err := r.s.DBTX(tx).Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return store.ClassifyError(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.NotFound, "NotFound", "notification not found")
	}
	return nil
}

// SweepExpired deletes notifications older than retentionDays, or read and
// older than 7 days. It returns the number
// of rows deleted.
func (r *Repo) SweepExpired(ctx context.Context, retentionDays int) (int64, error) {
	q := `DELETE FROM notifications
	      WHERE created_at + make_interval(days => $1) < now()
	         OR (read AND created_at + interval '7 days' < now())`
	tag, err := r.s.DBTX(nil).Exec(ctx, q, retentionDays)
	if err != nil {
		return 0, store.ClassifyError(err)
	}
	return tag.RowsAffected(), nil
}
