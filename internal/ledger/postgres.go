package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the chain to PostgreSQL. The payload column is TEXT
// rather than jsonb: the canonical bytes must survive storage byte-for-byte
// or historical hash verification breaks.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, entry_type, node_id, payload, signature, previous_hash, hash, block_number, timestamp, verified`

// Insert implements Store. The UNIQUE constraint on block_number is the
// serialization point: a concurrent writer that read the same tip fails
// here with ErrBlockConflict and the append is retried from scratch.
func (s *PostgresStore) Insert(ctx context.Context, e *Entry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.EntryType, e.NodeID, e.Payload, e.Signature,
		e.PreviousHash, e.Hash, e.BlockNumber, e.Timestamp, e.Verified,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrBlockConflict
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// Tip implements Store.
func (s *PostgresStore) Tip(ctx context.Context) (*Entry, error) {
	e, err := s.scanOne(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		ORDER BY block_number DESC LIMIT 1`)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// GetByID implements Store.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.scanOne(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
}

// GetByBlock implements Store.
func (s *PostgresStore) GetByBlock(ctx context.Context, block int64) (*Entry, error) {
	return s.scanOne(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE block_number = $1`, block)
}

// HasHash implements Store.
func (s *PostgresStore) HasHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE hash = $1)`, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check entry hash: %w", err)
	}
	return exists, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// All implements Store.
func (s *PostgresStore) All(ctx context.Context) ([]*Entry, error) {
	return s.list(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		ORDER BY block_number ASC`)
}

// ListVerified implements Store.
func (s *PostgresStore) ListVerified(ctx context.Context) ([]*Entry, error) {
	return s.list(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE verified = true
		ORDER BY block_number ASC`)
}

// InsertCheckpoint implements Store.
func (s *PostgresStore) InsertCheckpoint(ctx context.Context, cp *Checkpoint) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ledger_checkpoints (id, root_hash, block_count, computed_at)
		VALUES ($1, $2, $3, $4)`,
		cp.ID, cp.RootHash, cp.BlockCount, cp.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint implements Store.
func (s *PostgresStore) LatestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	cp := &Checkpoint{}
	err := s.db.QueryRow(ctx, `
		SELECT id, root_hash, block_count, computed_at FROM ledger_checkpoints
		ORDER BY computed_at DESC LIMIT 1`,
	).Scan(&cp.ID, &cp.RootHash, &cp.BlockCount, &cp.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints implements Store.
func (s *PostgresStore) ListCheckpoints(ctx context.Context) ([]*Checkpoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, root_hash, block_count, computed_at FROM ledger_checkpoints
		ORDER BY computed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp := &Checkpoint{}
		if err := rows.Scan(&cp.ID, &cp.RootHash, &cp.BlockCount, &cp.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*Entry, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanEntry(rows)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(rows pgx.Rows) (*Entry, error) {
	e := &Entry{}
	var ts time.Time
	err := rows.Scan(
		&e.ID, &e.EntryType, &e.NodeID, &e.Payload, &e.Signature,
		&e.PreviousHash, &e.Hash, &e.BlockNumber, &ts, &e.Verified,
	)
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	e.Timestamp = ts.UTC()
	return e, nil
}
