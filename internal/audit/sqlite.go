package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteTrail persists the activity trail to SQLite for standalone mode.
type SQLiteTrail struct {
	db *sql.DB
}

const sqliteAuditSchema = `
CREATE TABLE IF NOT EXISTS node_audit_trail (
  id         TEXT PRIMARY KEY,
  node_id    TEXT NOT NULL,
  action     TEXT NOT NULL,
  detail     TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS node_audit_trail_node_idx ON node_audit_trail(node_id, created_at);
`

// NewSQLiteTrail ensures the audit schema and returns a trail.
func NewSQLiteTrail(db *sql.DB) (*SQLiteTrail, error) {
	if _, err := db.Exec(sqliteAuditSchema); err != nil {
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	return &SQLiteTrail{db: db}, nil
}

// Record implements Trail.
func (t *SQLiteTrail) Record(ctx context.Context, nodeID uuid.UUID, action, detail string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO node_audit_trail (id, node_id, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), nodeID.String(), action, detail,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

// LatestForNode implements Trail.
func (t *SQLiteTrail) LatestForNode(ctx context.Context, nodeID uuid.UUID) (*Record, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT id, node_id, action, detail, created_at FROM node_audit_trail
		WHERE node_id = ? ORDER BY created_at DESC LIMIT 1`, nodeID.String())
	r, err := scanSQLiteRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListForNode implements Trail.
func (t *SQLiteTrail) ListForNode(ctx context.Context, nodeID uuid.UUID, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, node_id, action, detail, created_at FROM node_audit_trail
		WHERE node_id = ? ORDER BY created_at DESC LIMIT ?`, nodeID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit rows: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanSQLiteRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanSQLiteRecord(scan func(...any) error) (*Record, error) {
	r := &Record{}
	var id, nodeID, created string
	if err := scan(&id, &nodeID, &r.Action, &r.Detail, &created); err != nil {
		return nil, err
	}
	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse audit id: %w", err)
	}
	if r.NodeID, err = uuid.Parse(nodeID); err != nil {
		return nil, fmt.Errorf("parse audit node id: %w", err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse audit timestamp: %w", err)
	}
	return r, nil
}
