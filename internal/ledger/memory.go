package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for testing and for throwaway single-process runs that
// do not need durable persistence.
type MemoryStore struct {
	mu          sync.RWMutex
	entries     []*Entry // index == block number
	byID        map[uuid.UUID]*Entry
	byHash      map[string]*Entry
	checkpoints []*Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[uuid.UUID]*Entry),
		byHash: make(map[string]*Entry),
	}
}

// Insert implements Store. The block number must be exactly the next slot;
// anything else lost the race and gets ErrBlockConflict.
func (s *MemoryStore) Insert(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.BlockNumber != int64(len(s.entries)) {
		return ErrBlockConflict
	}
	cp := *e
	s.entries = append(s.entries, &cp)
	s.byID[cp.ID] = &cp
	s.byHash[cp.Hash] = &cp
	return nil
}

// Tip implements Store.
func (s *MemoryStore) Tip(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	e := *s.entries[len(s.entries)-1]
	return &e, nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// GetByBlock implements Store.
func (s *MemoryStore) GetByBlock(_ context.Context, block int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if block < 0 || block >= int64(len(s.entries)) {
		return nil, ErrNotFound
	}
	e := *s.entries[block]
	return &e, nil
}

// HasHash implements Store.
func (s *MemoryStore) HasHash(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byHash[hash]
	return ok, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// All implements Store.
func (s *MemoryStore) All(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// ListVerified implements Store.
func (s *MemoryStore) ListVerified(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for _, e := range s.entries {
		if e.Verified {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// InsertCheckpoint implements Store.
func (s *MemoryStore) InsertCheckpoint(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cp
	s.checkpoints = append(s.checkpoints, &c)
	return nil
}

// LatestCheckpoint implements Store.
func (s *MemoryStore) LatestCheckpoint(_ context.Context) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.checkpoints) == 0 {
		return nil, nil
	}
	c := *s.checkpoints[len(s.checkpoints)-1]
	return &c, nil
}

// ListCheckpoints implements Store.
func (s *MemoryStore) ListCheckpoints(_ context.Context) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Checkpoint, 0, len(s.checkpoints))
	for i := len(s.checkpoints) - 1; i >= 0; i-- {
		c := *s.checkpoints[i]
		out = append(out, &c)
	}
	return out, nil
}

// tamper overwrites the stored payload of the entry at the given block
// without recomputing its hash. Test hook for integrity-failure scenarios.
func (s *MemoryStore) tamper(block int64, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[block].Payload = payload
}
