package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attestia/attestia/internal/hashchain"
)

// maxAppendAttempts bounds the retry loop when concurrent writers race for
// the same block number. A retry only happens when another writer committed,
// so the loop advances the chain every round; the bound exists to fail loudly
// under pathological contention rather than spin forever.
const maxAppendAttempts = 64

// KeyResolver returns the registered Ed25519 public key of a verified node.
// *nodes.Service satisfies this interface.
type KeyResolver interface {
	PublicKey(ctx context.Context, nodeID uuid.UUID) (ed25519.PublicKey, error)
}

// ActivityRecorder records a node activity row. *audit.Trail satisfies this.
type ActivityRecorder interface {
	Record(ctx context.Context, nodeID uuid.UUID, action, detail string) error
}

// AppendRequest carries a submission into Append. Internal marks entries
// originating from an authenticated operator or the system itself; those
// arrive over a trusted channel and are marked verified without a signature.
type AppendRequest struct {
	EntryType string
	Payload   json.RawMessage
	Signature string     // base64 Ed25519 signature over the canonical payload
	NodeID    *uuid.UUID // set for node-originated submissions
	Internal  bool
}

// Service owns the append path. It is the only writer of Hash, PreviousHash
// and BlockNumber.
type Service struct {
	store  Store
	keys   KeyResolver      // nil = node signatures cannot be verified (standalone mode without nodes)
	trail  ActivityRecorder // nil = no activity recording
	logger *zap.Logger
}

// NewService creates a ledger Service. keys and trail may be nil.
func NewService(store Store, keys KeyResolver, trail ActivityRecorder, logger *zap.Logger) *Service {
	return &Service{store: store, keys: keys, trail: trail, logger: logger}
}

// Store exposes the underlying store for read-side collaborators
// (Verifier, Anchor, Exporter).
func (s *Service) Store() Store { return s.store }

// Append validates a submission, chains it to the current tip and persists
// it. On a block-number conflict the whole operation is retried against the
// then-current tip; the previously computed hash is never reused.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	if req.EntryType == "" || len(req.Payload) == 0 {
		return nil, ErrValidation
	}

	payload, err := hashchain.CanonicalPayload(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	verified, err := s.resolveVerified(ctx, req, payload)
	if err != nil {
		return nil, err
	}

	var entry *Entry
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		tip, err := s.store.Tip(ctx)
		if err != nil {
			return nil, fmt.Errorf("read chain tip: %w", err)
		}

		prevHash := hashchain.GenesisPrev
		var block int64
		if tip != nil {
			prevHash = tip.Hash
			block = tip.BlockNumber + 1
		}

		// Microsecond precision: timestamptz cannot hold nanoseconds, and the
		// stored timestamp must reproduce the digested bytes exactly.
		ts := time.Now().UTC().Truncate(time.Microsecond)
		entry = &Entry{
			ID:           uuid.New(),
			EntryType:    req.EntryType,
			NodeID:       req.NodeID,
			Payload:      payload,
			Signature:    req.Signature,
			PreviousHash: prevHash,
			BlockNumber:  block,
			Timestamp:    ts,
			Verified:     verified,
		}
		entry.Hash = hashchain.Digest(entry.EntryType, entry.Payload, entry.PreviousHash, entry.Timestamp)

		err = s.store.Insert(ctx, entry)
		if errors.Is(err, ErrBlockConflict) {
			s.logger.Debug("append lost block race, retrying",
				zap.Int64("block", block),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("persist ledger entry: %w", err)
		}

		if req.NodeID != nil && s.trail != nil {
			if terr := s.trail.Record(ctx, *req.NodeID, "entry_submitted", entry.Hash); terr != nil {
				s.logger.Warn("record node activity", zap.Error(terr))
			}
		}

		s.logger.Debug("ledger entry appended",
			zap.Int64("block", entry.BlockNumber),
			zap.String("entry_type", entry.EntryType),
			zap.Bool("verified", entry.Verified),
		)
		return entry, nil
	}

	return nil, fmt.Errorf("append contended for %d attempts: %w", maxAppendAttempts, ErrBlockConflict)
}

// resolveVerified decides the entry's verified flag. A node submission with
// a signature must carry a valid Ed25519 signature over the canonical
// payload by the node's registered key; a bad signature rejects the whole
// submission rather than silently downgrading it.
func (s *Service) resolveVerified(ctx context.Context, req AppendRequest, payload string) (bool, error) {
	if req.NodeID != nil && req.Signature != "" {
		if s.keys == nil {
			return false, fmt.Errorf("%w: no key resolver configured", ErrInvalidSignature)
		}
		key, err := s.keys.PublicKey(ctx, *req.NodeID)
		if err != nil {
			return false, fmt.Errorf("resolve node public key: %w", err)
		}
		sig, err := base64.StdEncoding.DecodeString(req.Signature)
		if err != nil {
			return false, fmt.Errorf("%w: signature is not valid base64", ErrInvalidSignature)
		}
		if !ed25519.Verify(key, []byte(payload), sig) {
			return false, ErrInvalidSignature
		}
		return true, nil
	}
	return req.Internal, nil
}
