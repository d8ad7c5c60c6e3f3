package nodes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository for tests and throwaway runs.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*Node
	byKey map[string]uuid.UUID
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:  make(map[uuid.UUID]*Node),
		byKey: make(map[string]uuid.UUID),
	}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, n *Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n.ID = uuid.New()
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now

	cp := *n
	r.byID[cp.ID] = &cp
	r.byKey[cp.APIKey] = cp.ID
	return nil
}

// GetByID implements Repository.
func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// GetByAPIKey implements Repository.
func (r *MemoryRepository) GetByAPIKey(_ context.Context, apiKey string) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[apiKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

// List implements Repository.
func (r *MemoryRepository) List(_ context.Context) ([]*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(*Node) bool { return true }), nil
}

// ListByStatus implements Repository.
func (r *MemoryRepository) ListByStatus(_ context.Context, status Status) ([]*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(func(n *Node) bool { return n.Status == status }), nil
}

// UpdateStatus implements Repository.
func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	n.Status = status
	n.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateLastActive implements Repository.
func (r *MemoryRepository) UpdateLastActive(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	n.LastActiveAt = &t
	n.UpdatedAt = time.Now().UTC()
	return nil
}

// collect must be called with the lock held.
func (r *MemoryRepository) collect(keep func(*Node) bool) []*Node {
	var out []*Node
	for _, n := range r.byID {
		if keep(n) {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Backdate shifts a node's registration time into the past. Test hook for
// liveness sweep scenarios on nodes with no activity yet.
func (r *MemoryRepository) Backdate(id uuid.UUID, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.byID[id]; ok {
		n.CreatedAt = n.CreatedAt.Add(-d)
	}
}
