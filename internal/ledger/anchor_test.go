package ledger_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attestia/attestia/internal/ledger"
)

func TestAnchorRoot_emptyChainIsNoOp(t *testing.T) {
	store := ledger.NewMemoryStore()
	anchor := ledger.NewAnchor(store, zap.NewNop())

	_, err := anchor.AnchorRoot(ctx)
	if !errors.Is(err, ledger.ErrNothingToAnchor) {
		t.Fatalf("got %v, want ErrNothingToAnchor", err)
	}

	cps, err := store.ListCheckpoints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 0 {
		t.Errorf("no checkpoint should be written on an empty chain, got %d", len(cps))
	}
}

func TestAnchorRoot_skipsUnverifiedEntries(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := ledger.NewService(store, nil, nil, zap.NewNop())

	// Unverified node submission only: nothing to anchor.
	node := uuid.New()
	if _, err := svc.Append(ctx, ledger.AppendRequest{
		EntryType: ledger.TypeCompliance, Payload: []byte(`{"x":1}`), NodeID: &node,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := ledger.NewAnchor(store, zap.NewNop()).AnchorRoot(ctx); !errors.Is(err, ledger.ErrNothingToAnchor) {
		t.Fatalf("got %v, want ErrNothingToAnchor", err)
	}

	// One verified entry joins: it alone is folded.
	if _, err := svc.Append(ctx, ledger.AppendRequest{
		EntryType: ledger.TypeGovernance, Payload: []byte(`{"vote":"yes"}`), Internal: true,
	}); err != nil {
		t.Fatal(err)
	}

	cp, err := ledger.NewAnchor(store, zap.NewNop()).AnchorRoot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cp.BlockCount != 1 {
		t.Errorf("block_count = %d, want 1 (only the verified entry)", cp.BlockCount)
	}
}

func TestAnchorRoot_stableWithoutIntermediateAppends(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := ledger.NewService(store, nil, nil, zap.NewNop())
	for _, p := range []string{`{"x":1}`, `{"x":2}`, `{"x":3}`} {
		if _, err := svc.Append(ctx, ledger.AppendRequest{
			EntryType: ledger.TypeCompliance, Payload: []byte(p), Internal: true,
		}); err != nil {
			t.Fatal(err)
		}
	}

	anchor := ledger.NewAnchor(store, zap.NewNop())
	cp1, err := anchor.AnchorRoot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cp2, err := anchor.AnchorRoot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if cp1.RootHash != cp2.RootHash {
		t.Errorf("root hashes differ without intervening appends: %q vs %q", cp1.RootHash, cp2.RootHash)
	}
	if cp1.BlockCount != cp2.BlockCount {
		t.Errorf("block counts differ: %d vs %d", cp1.BlockCount, cp2.BlockCount)
	}

	// Each run appends its own checkpoint: history, not overwrite.
	cps, err := store.ListCheckpoints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 2 {
		t.Errorf("expected 2 checkpoints in history, got %d", len(cps))
	}
}
