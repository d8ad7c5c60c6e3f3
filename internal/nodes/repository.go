package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence interface for nodes. PostgresRepository,
// SQLiteRepository and MemoryRepository implement it.
type Repository interface {
	Create(ctx context.Context, n *Node) error
	GetByID(ctx context.Context, id uuid.UUID) (*Node, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*Node, error)
	List(ctx context.Context) ([]*Node, error)
	ListByStatus(ctx context.Context, status Status) ([]*Node, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	UpdateLastActive(ctx context.Context, id uuid.UUID, at time.Time) error
}

// PostgresRepository provides node persistence against PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const nodeColumns = `id, org_name, country, org_type, jurisdiction, contact_email, public_key, api_endpoint, api_key, status, last_active_at, created_at, updated_at`

// Create implements Repository. Sets ID, CreatedAt, UpdatedAt on the node.
func (r *PostgresRepository) Create(ctx context.Context, n *Node) error {
	n.ID = uuid.New()
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO nodes (`+nodeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		n.ID, n.OrgName, n.Country, n.OrgType, n.Jurisdiction,
		n.ContactEmail, n.PublicKey, n.APIEndpoint, n.APIKey,
		n.Status, n.LastActiveAt, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	return nil
}

// GetByID implements Repository.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Node, error) {
	return r.scanOne(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id)
}

// GetByAPIKey implements Repository.
func (r *PostgresRepository) GetByAPIKey(ctx context.Context, apiKey string) (*Node, error) {
	return r.scanOne(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE api_key = $1`, apiKey)
}

// List implements Repository.
func (r *PostgresRepository) List(ctx context.Context) ([]*Node, error) {
	return r.list(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY created_at DESC`)
}

// ListByStatus implements Repository.
func (r *PostgresRepository) ListByStatus(ctx context.Context, status Status) ([]*Node, error) {
	return r.list(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE status = $1 ORDER BY created_at DESC`, status)
}

// UpdateStatus implements Repository.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE nodes SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update node status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastActive implements Repository.
func (r *PostgresRepository) UpdateLastActive(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE nodes SET last_active_at = $2, updated_at = $3 WHERE id = $1`,
		id, at, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update node last_active_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) scanOne(ctx context.Context, query string, args ...any) (*Node, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query node: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanNode(rows)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*Node, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNode(rows pgx.Rows) (*Node, error) {
	n := &Node{}
	err := rows.Scan(
		&n.ID, &n.OrgName, &n.Country, &n.OrgType, &n.Jurisdiction,
		&n.ContactEmail, &n.PublicKey, &n.APIEndpoint, &n.APIKey,
		&n.Status, &n.LastActiveAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan node: %w", err)
	}
	return n, nil
}
