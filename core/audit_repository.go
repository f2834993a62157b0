package core

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS auth_events (
  id          BIGSERIAL PRIMARY KEY,
  kind        TEXT NOT NULL,
  username    TEXT NOT NULL DEFAULT '',
  role        TEXT NOT NULL DEFAULT '',
  detail      TEXT NOT NULL DEFAULT '',
  occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PgAuditRepository stores auth events in PostgreSQL and mirrors them to the log.
type PgAuditRepository struct {
	db *pgxpool.Pool
}

func NewPgAuditRepository(db *pgxpool.Pool) *PgAuditRepository {
	return &PgAuditRepository{db: db}
}

// EnsureSchema creates the auth_events table when missing.
func (r *PgAuditRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, auditSchema)
	return err
}

func (r *PgAuditRepository) Record(ctx context.Context, ev AuditEvent) {
	LogAuditRecorder{}.Record(ctx, ev)
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	const q = `INSERT INTO auth_events (kind, username, role, detail, occurred_at) VALUES ($1,$2,$3,$4,$5)`
	if _, err := r.db.Exec(ctx, q, ev.Kind, ev.Username, ev.Role, ev.Detail, ev.OccurredAt); err != nil {
		log.Printf("audit insert failed: %v", err)
	}
}

// List returns newest events first.
func (r *PgAuditRepository) List(ctx context.Context, page, perPage int) ([]AuditEvent, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM auth_events`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `
SELECT id, kind, username, role, detail, occurred_at
FROM auth_events
ORDER BY occurred_at DESC, id DESC
LIMIT $1 OFFSET $2
`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := make([]AuditEvent, 0, perPage)
	for rows.Next() {
		var ev AuditEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Username, &ev.Role, &ev.Detail, &ev.OccurredAt); err != nil {
			return nil, 0, err
		}
		items = append(items, ev)
	}
	return items, total, rows.Err()
}
