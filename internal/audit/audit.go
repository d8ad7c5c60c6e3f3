// Package audit keeps the per-node activity trail: an append-only stream of
// what each external node did and when. Unlike the ledger it is not
// integrity-chained; its job is liveness detection and operator review, not
// tamper evidence.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is one activity row for a node.
type Record struct {
	ID        uuid.UUID `json:"id"`
	NodeID    uuid.UUID `json:"node_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Trail is the append-only activity store. PostgresTrail, SQLiteTrail and
// MemoryTrail implement it.
type Trail interface {
	// Record appends an activity row for the node.
	Record(ctx context.Context, nodeID uuid.UUID, action, detail string) error

	// LatestForNode returns the node's most recent activity row, or nil
	// when the node has never been active.
	LatestForNode(ctx context.Context, nodeID uuid.UUID) (*Record, error)

	// ListForNode returns the node's most recent rows, newest first.
	ListForNode(ctx context.Context, nodeID uuid.UUID, limit int) ([]*Record, error)
}
