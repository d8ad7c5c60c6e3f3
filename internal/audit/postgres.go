package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTrail persists the activity trail to PostgreSQL.
type PostgresTrail struct {
	db *pgxpool.Pool
}

// NewPostgresTrail creates a PostgresTrail backed by the given pool.
func NewPostgresTrail(db *pgxpool.Pool) *PostgresTrail {
	return &PostgresTrail{db: db}
}

// Record implements Trail.
func (t *PostgresTrail) Record(ctx context.Context, nodeID uuid.UUID, action, detail string) error {
	_, err := t.db.Exec(ctx, `
		INSERT INTO node_audit_trail (id, node_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), nodeID, action, detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

// LatestForNode implements Trail.
func (t *PostgresTrail) LatestForNode(ctx context.Context, nodeID uuid.UUID) (*Record, error) {
	r := &Record{}
	err := t.db.QueryRow(ctx, `
		SELECT id, node_id, action, detail, created_at FROM node_audit_trail
		WHERE node_id = $1 ORDER BY created_at DESC LIMIT 1`, nodeID,
	).Scan(&r.ID, &r.NodeID, &r.Action, &r.Detail, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest audit row: %w", err)
	}
	return r, nil
}

// ListForNode implements Trail.
func (t *PostgresTrail) ListForNode(ctx context.Context, nodeID uuid.UUID, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.Query(ctx, `
		SELECT id, node_id, action, detail, created_at FROM node_audit_trail
		WHERE node_id = $1 ORDER BY created_at DESC LIMIT $2`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit rows: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(&r.ID, &r.NodeID, &r.Action, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
