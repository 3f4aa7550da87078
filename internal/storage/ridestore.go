package storage

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// RideStore is the durability collaborator behind the ride registry.
// The registry commits in memory first; store writes are write-through
// and best-effort, so implementations should not be load-bearing for
// correctness, only for history across restarts.
type RideStore interface {
	Save(ctx context.Context, r *models.Ride) error
	Update(ctx context.Context, r *models.Ride) error
	LoadAll(ctx context.Context) ([]*models.Ride, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) Save(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Update(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) LoadAll(_ context.Context) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		out = append(out, r.Clone())
	}
	return out, nil
}
