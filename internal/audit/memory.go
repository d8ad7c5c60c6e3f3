package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTrail is an in-memory Trail for tests and throwaway runs.
type MemoryTrail struct {
	mu      sync.RWMutex
	records map[uuid.UUID][]*Record // per node, oldest first
}

// NewMemoryTrail creates an empty MemoryTrail.
func NewMemoryTrail() *MemoryTrail {
	return &MemoryTrail{records: make(map[uuid.UUID][]*Record)}
}

// Record implements Trail.
func (t *MemoryTrail) Record(_ context.Context, nodeID uuid.UUID, action, detail string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[nodeID] = append(t.records[nodeID], &Record{
		ID:        uuid.New(),
		NodeID:    nodeID,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// LatestForNode implements Trail.
func (t *MemoryTrail) LatestForNode(_ context.Context, nodeID uuid.UUID) (*Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rs := t.records[nodeID]
	if len(rs) == 0 {
		return nil, nil
	}
	r := *rs[len(rs)-1]
	return &r, nil
}

// ListForNode implements Trail.
func (t *MemoryTrail) ListForNode(_ context.Context, nodeID uuid.UUID, limit int) ([]*Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	rs := t.records[nodeID]
	var out []*Record
	for i := len(rs) - 1; i >= 0 && len(out) < limit; i-- {
		r := *rs[i]
		out = append(out, &r)
	}
	return out, nil
}

// Backdate shifts the node's latest record into the past. Test hook for
// liveness sweep scenarios.
func (t *MemoryTrail) Backdate(nodeID uuid.UUID, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs := t.records[nodeID]
	if len(rs) > 0 {
		rs[len(rs)-1].CreatedAt = rs[len(rs)-1].CreatedAt.Add(-d)
	}
}
