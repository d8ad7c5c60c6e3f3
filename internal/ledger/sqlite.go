package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore persists the chain to SQLite for standalone single-process
// deployments. Timestamps are stored as RFC3339Nano text so the bytes that
// went into the digest are reproduced exactly on read.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteLedgerSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
  id            TEXT    PRIMARY KEY,
  entry_type    TEXT    NOT NULL,
  node_id       TEXT,
  payload       TEXT    NOT NULL,
  signature     TEXT    NOT NULL DEFAULT '',
  previous_hash TEXT    NOT NULL,
  hash          TEXT    NOT NULL UNIQUE,
  block_number  INTEGER NOT NULL UNIQUE,
  timestamp     TEXT    NOT NULL,
  verified      INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS ledger_checkpoints (
  id          TEXT PRIMARY KEY,
  root_hash   TEXT NOT NULL,
  block_count INTEGER NOT NULL,
  computed_at TEXT NOT NULL
);
`

// NewSQLiteStore ensures the ledger schema on the given database and returns
// a store. The *sql.DB should come from sqlitedb.Open so the PRAGMAs are set.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteLedgerSchema); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Insert implements Store. The whole read-check-insert runs in a
// serializable transaction; a non-contiguous block number means another
// writer appended first and the caller must retry.
func (s *SQLiteStore) Insert(ctx context.Context, e *Entry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(block_number), -1) + 1 FROM ledger_entries`,
	).Scan(&next); err != nil {
		return fmt.Errorf("read next block number: %w", err)
	}
	if e.BlockNumber != next {
		return ErrBlockConflict
	}

	var nodeID any
	if e.NodeID != nil {
		nodeID = e.NodeID.String()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		  (id, entry_type, node_id, payload, signature, previous_hash, hash, block_number, timestamp, verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.EntryType, nodeID, e.Payload, e.Signature,
		e.PreviousHash, e.Hash, e.BlockNumber,
		e.Timestamp.UTC().Format(time.RFC3339Nano), boolToInt(e.Verified),
	); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	return tx.Commit()
}

// Tip implements Store.
func (s *SQLiteStore) Tip(ctx context.Context) (*Entry, error) {
	e, err := s.scanOne(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		ORDER BY block_number DESC LIMIT 1`)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// GetByID implements Store.
func (s *SQLiteStore) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.scanOne(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, id.String())
}

// GetByBlock implements Store.
func (s *SQLiteStore) GetByBlock(ctx context.Context, block int64) (*Entry, error) {
	return s.scanOne(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE block_number = ?`, block)
}

// HasHash implements Store.
func (s *SQLiteStore) HasHash(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check entry hash: %w", err)
	}
	return n > 0, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// All implements Store.
func (s *SQLiteStore) All(ctx context.Context) ([]*Entry, error) {
	return s.list(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		ORDER BY block_number ASC`)
}

// ListVerified implements Store.
func (s *SQLiteStore) ListVerified(ctx context.Context) ([]*Entry, error) {
	return s.list(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE verified = 1
		ORDER BY block_number ASC`)
}

// InsertCheckpoint implements Store.
func (s *SQLiteStore) InsertCheckpoint(ctx context.Context, cp *Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_checkpoints (id, root_hash, block_count, computed_at)
		VALUES (?, ?, ?, ?)`,
		cp.ID.String(), cp.RootHash, cp.BlockCount,
		cp.ComputedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint implements Store.
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, root_hash, block_count, computed_at FROM ledger_checkpoints
		ORDER BY computed_at DESC LIMIT 1`)
	cp, err := scanSQLiteCheckpoint(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cp, err
}

// ListCheckpoints implements Store.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]*Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, root_hash, block_count, computed_at FROM ledger_checkpoints
		ORDER BY computed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanSQLiteCheckpoint(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) scanOne(ctx context.Context, query string, args ...any) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	e, err := scanSQLiteEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanSQLiteEntry(scan func(...any) error) (*Entry, error) {
	e := &Entry{}
	var id, ts string
	var nodeID sql.NullString
	var verified int
	err := scan(&id, &e.EntryType, &nodeID, &e.Payload, &e.Signature,
		&e.PreviousHash, &e.Hash, &e.BlockNumber, &ts, &verified)
	if err != nil {
		return nil, err
	}
	e.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse entry id: %w", err)
	}
	if nodeID.Valid {
		nid, err := uuid.Parse(nodeID.String)
		if err != nil {
			return nil, fmt.Errorf("parse node id: %w", err)
		}
		e.NodeID = &nid
	}
	e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse entry timestamp: %w", err)
	}
	e.Verified = verified != 0
	return e, nil
}

func scanSQLiteCheckpoint(scan func(...any) error) (*Checkpoint, error) {
	cp := &Checkpoint{}
	var id, ts string
	if err := scan(&id, &cp.RootHash, &cp.BlockCount, &ts); err != nil {
		return nil, err
	}
	var err error
	cp.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint id: %w", err)
	}
	cp.ComputedAt, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint timestamp: %w", err)
	}
	return cp, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
