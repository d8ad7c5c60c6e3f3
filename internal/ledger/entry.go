// Package ledger implements the append-only, hash-chained accountability
// ledger: entry persistence, the append discipline, root-hash checkpoints,
// and entry/chain verification.
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/attestia/attestia/internal/hashchain"
)

// Entry type tags. The set is open; these are the tags the system itself
// writes or that external nodes commonly submit.
const (
	TypeCompliance       = "compliance_event"
	TypeNodeLifecycle    = "node_lifecycle"
	TypeGovernance       = "governance_action"
	TypeNodeVerification = "node_verification"
)

// ErrNotFound is returned when an entry or checkpoint lookup finds no match.
var ErrNotFound = errors.New("ledger entry not found")

// ErrBlockConflict is returned by a Store when an insert loses the race for
// a block number. Append treats it as a signal to re-read the tip and retry.
var ErrBlockConflict = errors.New("block number already taken")

// ErrNothingToAnchor is returned by AnchorRoot when there are no verified
// entries to fold into a checkpoint.
var ErrNothingToAnchor = errors.New("no verified entries to anchor")

// ErrInvalidSignature is returned when a node-submitted signature does not
// verify against the node's registered public key.
var ErrInvalidSignature = errors.New("signature does not verify against registered public key")

// ErrValidation is returned when a submission is missing required fields.
var ErrValidation = errors.New("entry_type and payload are required")

// Entry is one immutable fact record in the chain. Hash, PreviousHash and
// BlockNumber are assigned exclusively by the append path; nothing mutates
// an entry after it is persisted.
type Entry struct {
	ID           uuid.UUID  `json:"id"`
	EntryType    string     `json:"entry_type"`
	NodeID       *uuid.UUID `json:"node_id,omitempty"`
	Payload      string     `json:"payload"` // canonical JSON, hashed verbatim
	Signature    string     `json:"signature,omitempty"`
	PreviousHash string     `json:"previous_hash"`
	Hash         string     `json:"hash"`
	BlockNumber  int64      `json:"block_number"`
	Timestamp    time.Time  `json:"timestamp"`
	Verified     bool       `json:"verified"`
}

// ComputeHash recomputes the entry's digest from its stored fields. The
// result must equal e.Hash for an untampered entry.
func (e *Entry) ComputeHash() string {
	return hashchain.Digest(e.EntryType, e.Payload, e.PreviousHash, e.Timestamp)
}

// Checkpoint is an immutable root-hash anchor: the digest over the
// concatenated hashes of all verified entries at computation time. Each
// anchor run appends a new row; checkpoints are never updated or deleted.
type Checkpoint struct {
	ID         uuid.UUID `json:"id"`
	RootHash   string    `json:"root_hash"`
	BlockCount int64     `json:"block_count"`
	ComputedAt time.Time `json:"computed_at"`
}

// VerificationResult reports an entry's integrity. Both hashes are always
// included so a caller can audit a discrepancy without trusting the booleans.
type VerificationResult struct {
	BlockNumber  int64  `json:"block_number"`
	StoredHash   string `json:"stored_hash"`
	ComputedHash string `json:"computed_hash"`
	HashValid    bool   `json:"hash_valid"`
	ChainValid   bool   `json:"chain_valid"`
	OverallValid bool   `json:"overall_valid"`
}
