package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence interface for ledger entries and checkpoints.
// PostgresStore, SQLiteStore and MemoryStore implement it.
//
// Insert must enforce uniqueness of BlockNumber and return ErrBlockConflict
// when a concurrent writer got there first; that constraint is what keeps
// the chain fork-free under concurrent appends.
type Store interface {
	// Insert persists a fully constructed entry. Either the whole entry is
	// committed or none of it is.
	Insert(ctx context.Context, e *Entry) error

	// Tip returns the entry with the highest block number, or nil when the
	// ledger is empty.
	Tip(ctx context.Context) (*Entry, error)

	// GetByID returns the entry with the given id, or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)

	// GetByBlock returns the entry at the given block number, or ErrNotFound.
	GetByBlock(ctx context.Context, block int64) (*Entry, error)

	// HasHash reports whether any entry with the given hash exists.
	HasHash(ctx context.Context, hash string) (bool, error)

	// Count returns the total number of entries.
	Count(ctx context.Context) (int64, error)

	// All returns every entry ordered by block number ascending.
	All(ctx context.Context) ([]*Entry, error)

	// ListVerified returns all verified entries ordered by block number
	// ascending. This is the authoritative set folded into checkpoints.
	ListVerified(ctx context.Context) ([]*Entry, error)

	// InsertCheckpoint appends a new root-hash checkpoint.
	InsertCheckpoint(ctx context.Context, cp *Checkpoint) error

	// LatestCheckpoint returns the most recent checkpoint, or nil when no
	// anchor run has completed yet.
	LatestCheckpoint(ctx context.Context) (*Checkpoint, error)

	// ListCheckpoints returns the full checkpoint history, newest first.
	ListCheckpoints(ctx context.Context) ([]*Checkpoint, error)
}
