package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/attestia/attestia/internal/hashchain"
)

// Verifier re-checks entry integrity. It never writes: detecting tampering
// is a normal successful outcome of verification, reported as data.
type Verifier struct {
	store Store
}

// NewVerifier creates a Verifier over the given store.
func NewVerifier(store Store) *Verifier {
	return &Verifier{store: store}
}

// Verify recomputes the entry's digest from its stored fields and checks
// that its previous-hash link resolves to some entry in the store.
//
// The chain check is a local spot-check: it asserts the link target exists,
// not that the whole prefix back to genesis is internally valid. Full-chain
// replay is Audit.
func (v *Verifier) Verify(ctx context.Context, id uuid.UUID) (*VerificationResult, error) {
	e, err := v.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.check(ctx, e)
}

// VerifyBlock is Verify addressed by block number instead of entry id.
func (v *Verifier) VerifyBlock(ctx context.Context, block int64) (*VerificationResult, error) {
	e, err := v.store.GetByBlock(ctx, block)
	if err != nil {
		return nil, err
	}
	return v.check(ctx, e)
}

func (v *Verifier) check(ctx context.Context, e *Entry) (*VerificationResult, error) {
	res := &VerificationResult{
		BlockNumber: e.BlockNumber,
		StoredHash:  e.Hash,
	}

	res.ComputedHash = e.ComputeHash()
	res.HashValid = res.ComputedHash == res.StoredHash

	if e.PreviousHash == hashchain.GenesisPrev {
		res.ChainValid = e.BlockNumber == 0
	} else {
		exists, err := v.store.HasHash(ctx, e.PreviousHash)
		if err != nil {
			return nil, fmt.Errorf("resolve previous hash: %w", err)
		}
		res.ChainValid = exists
	}

	res.OverallValid = res.HashValid && res.ChainValid
	return res, nil
}

// Audit replays the whole chain from genesis: block numbers must be
// contiguous from 0, every previous_hash must equal the predecessor's hash,
// and every stored hash must match its recomputation. Returns nil when the
// chain is intact. O(n) in chain length.
func (v *Verifier) Audit(ctx context.Context) error {
	entries, err := v.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load chain: %w", err)
	}

	var prev *Entry
	for i, curr := range entries {
		if curr.BlockNumber != int64(i) {
			return fmt.Errorf("block numbers not contiguous: position %d holds block %d", i, curr.BlockNumber)
		}
		if prev == nil {
			if curr.PreviousHash != hashchain.GenesisPrev {
				return fmt.Errorf("block 0 previous_hash is %q, want %q", curr.PreviousHash, hashchain.GenesisPrev)
			}
		} else if curr.PreviousHash != prev.Hash {
			return fmt.Errorf("hash chain broken at block %d", curr.BlockNumber)
		}
		if curr.ComputeHash() != curr.Hash {
			return fmt.Errorf("block %d has invalid hash", curr.BlockNumber)
		}
		prev = curr
	}
	return nil
}
