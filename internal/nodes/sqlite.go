package nodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteRepository provides node persistence against SQLite for standalone
// deployments.
type SQLiteRepository struct {
	db *sql.DB
}

const sqliteNodeSchema = `
CREATE TABLE IF NOT EXISTS nodes (
  id             TEXT PRIMARY KEY,
  org_name       TEXT NOT NULL,
  country        TEXT NOT NULL,
  org_type       TEXT NOT NULL,
  jurisdiction   TEXT NOT NULL,
  contact_email  TEXT NOT NULL,
  public_key     TEXT NOT NULL,
  api_endpoint   TEXT NOT NULL DEFAULT '',
  api_key        TEXT NOT NULL UNIQUE,
  status         TEXT NOT NULL,
  last_active_at TEXT,
  created_at     TEXT NOT NULL,
  updated_at     TEXT NOT NULL
);
`

// NewSQLiteRepository ensures the node schema and returns a repository.
func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	if _, err := db.Exec(sqliteNodeSchema); err != nil {
		return nil, fmt.Errorf("ensure node schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Create implements Repository. Sets ID, CreatedAt, UpdatedAt on the node.
func (r *SQLiteRepository) Create(ctx context.Context, n *Node) error {
	n.ID = uuid.New()
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.OrgName, n.Country, n.OrgType, n.Jurisdiction,
		n.ContactEmail, n.PublicKey, n.APIEndpoint, n.APIKey,
		string(n.Status), nil,
		n.CreatedAt.Format(time.RFC3339Nano), n.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	return nil
}

// GetByID implements Repository.
func (r *SQLiteRepository) GetByID(ctx context.Context, id uuid.UUID) (*Node, error) {
	return r.scanOne(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id.String())
}

// GetByAPIKey implements Repository.
func (r *SQLiteRepository) GetByAPIKey(ctx context.Context, apiKey string) (*Node, error) {
	return r.scanOne(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE api_key = ?`, apiKey)
}

// List implements Repository.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Node, error) {
	return r.list(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY created_at DESC`)
}

// ListByStatus implements Repository.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status) ([]*Node, error) {
	return r.list(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE status = ? ORDER BY created_at DESC`, string(status))
}

// UpdateStatus implements Repository.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), id.String())
	if err != nil {
		return fmt.Errorf("update node status: %w", err)
	}
	return requireRow(res)
}

// UpdateLastActive implements Repository.
func (r *SQLiteRepository) UpdateLastActive(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET last_active_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano), id.String())
	if err != nil {
		return fmt.Errorf("update node last_active_at: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) scanOne(ctx context.Context, query string, args ...any) (*Node, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	n, err := scanSQLiteNode(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]*Node, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		n, err := scanSQLiteNode(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanSQLiteNode(scan func(...any) error) (*Node, error) {
	n := &Node{}
	var id, status, created, updated string
	var lastActive sql.NullString
	err := scan(&id, &n.OrgName, &n.Country, &n.OrgType, &n.Jurisdiction,
		&n.ContactEmail, &n.PublicKey, &n.APIEndpoint, &n.APIKey,
		&status, &lastActive, &created, &updated)
	if err != nil {
		return nil, err
	}
	if n.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse node id: %w", err)
	}
	n.Status = Status(status)
	if lastActive.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastActive.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_active_at: %w", err)
		}
		n.LastActiveAt = &t
	}
	if n.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if n.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return n, nil
}
