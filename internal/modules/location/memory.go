// README: In-memory location history for tests and single-node runs.
package location

import (
	"context"
	"sync"

	"courierdispatch/internal/types"
)

type MemoryStore struct {
	mu      sync.Mutex
	samples map[types.ID][]Sample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{samples: make(map[types.ID][]Sample)}
}

func (m *MemoryStore) Append(_ context.Context, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[s.CourierID] = append(m.samples[s.CourierID], s)
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, courierID types.ID, limit int) ([]Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.samples[courierID]
	out := make([]Sample, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
