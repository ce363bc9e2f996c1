// Package postgres persists completed announcements to PostgreSQL so the
// admin dashboard can list past broadcasts beyond the bounded in-memory
// history.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hallcall/hallcall/internal/announce"
)

// Compile-time interface check.
var _ announce.Archiver = (*Archive)(nil)

// schema creates the archive table on first use. Announcements are
// append-only; the dashboard reads them ordered by completion time.
const schema = `
CREATE TABLE IF NOT EXISTS completed_announcements (
	instance_id     TEXT PRIMARY KEY,
	notification_id TEXT NOT NULL,
	title           TEXT NOT NULL,
	content         TEXT NOT NULL,
	hall_id         TEXT NOT NULL DEFAULT '',
	hall_name       TEXT NOT NULL DEFAULT '',
	session_id      TEXT NOT NULL DEFAULT '',
	scope           TEXT NOT NULL DEFAULT '',
	priority        INT NOT NULL,
	repeat_count    INT NOT NULL,
	is_automatic    BOOLEAN NOT NULL DEFAULT FALSE,
	broadcast_at    TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS completed_announcements_completed_at_idx
	ON completed_announcements (completed_at DESC);
`

// Archive is a PostgreSQL-backed [announce.Archiver]. All operations are
// safe for concurrent use.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive connects to the database at dsn and ensures the archive table
// exists.
func NewArchive(ctx context.Context, dsn string) (*Archive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("announce archive: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("announce archive: migrate: %w", err)
	}
	return &Archive{pool: pool}, nil
}

// Archive inserts one completed announcement. Replays of the same instance
// (e.g. after a crash between archive and history update) are ignored.
func (a *Archive) Archive(ctx context.Context, c announce.Completed) error {
	const q = `
INSERT INTO completed_announcements (
	instance_id, notification_id, title, content, hall_id, hall_name,
	session_id, scope, priority, repeat_count, is_automatic,
	broadcast_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (instance_id) DO NOTHING`

	var broadcastAt any
	if !c.BroadcastAt.IsZero() {
		broadcastAt = c.BroadcastAt
	}

	_, err := a.pool.Exec(ctx, q,
		c.InstanceID, c.ID, c.Title, c.Content, c.HallID, c.HallName,
		c.SessionID, c.Scope, c.Priority, c.RepeatCount, c.IsAutomatic,
		broadcastAt, c.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("announce archive: insert %s: %w", c.InstanceID, err)
	}
	return nil
}

// Recent returns the n most recently completed announcements, newest first.
func (a *Archive) Recent(ctx context.Context, n int) ([]announce.Completed, error) {
	const q = `
SELECT instance_id, notification_id, title, content, hall_id, hall_name,
	session_id, scope, priority, repeat_count, is_automatic,
	broadcast_at, completed_at
FROM completed_announcements
ORDER BY completed_at DESC
LIMIT $1`

	rows, err := a.pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("announce archive: query recent: %w", err)
	}
	defer rows.Close()

	var out []announce.Completed
	for rows.Next() {
		var c announce.Completed
		var broadcastAt *time.Time
		if err := rows.Scan(
			&c.InstanceID, &c.ID, &c.Title, &c.Content, &c.HallID, &c.HallName,
			&c.SessionID, &c.Scope, &c.Priority, &c.RepeatCount, &c.IsAutomatic,
			&broadcastAt, &c.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("announce archive: scan: %w", err)
		}
		if broadcastAt != nil {
			c.BroadcastAt = *broadcastAt
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Ping verifies database connectivity, for readiness checks.
func (a *Archive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Close releases the connection pool.
func (a *Archive) Close() {
	a.pool.Close()
}
