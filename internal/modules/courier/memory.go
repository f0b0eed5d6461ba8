// README: In-memory courier directory for tests and single-node runs.
package courier

import (
	"context"
	"slices"
	"sync"
	"time"

	"courierdispatch/internal/types"
)

type MemoryStore struct {
	mu       sync.Mutex
	couriers map[types.ID]*Courier
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{couriers: make(map[types.ID]*Courier)}
}

func (m *MemoryStore) Upsert(_ context.Context, c *Courier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := c.clone()
	if existing, ok := m.couriers[c.ID]; ok {
		cp.ActiveJobs = existing.ActiveJobs
		cp.TimeoutStrikes = existing.TimeoutStrikes
	}
	cp.UpdatedAt = time.Now()
	m.couriers[c.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Courier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.couriers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := c.clone()
	return &cp, nil
}

func (m *MemoryStore) ListAvailable(_ context.Context) ([]Courier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Courier, 0, len(m.couriers))
	for _, c := range m.couriers {
		if c.Available() {
			out = append(out, c.clone())
		}
	}
	slices.SortFunc(out, func(a, b Courier) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *MemoryStore) SetOnline(_ context.Context, id types.ID, online bool) error {
	return m.mutate(id, func(c *Courier) error {
		c.Online = online
		return nil
	})
}

func (m *MemoryStore) UpdateLocation(_ context.Context, id types.ID, loc Location) error {
	return m.mutate(id, func(c *Courier) error {
		l := loc
		c.Location = &l
		return nil
	})
}

func (m *MemoryStore) IncrementActive(_ context.Context, id types.ID) error {
	return m.mutate(id, func(c *Courier) error {
		if c.ActiveJobs >= c.MaxJobs {
			return ErrCapacityExceeded
		}
		c.ActiveJobs++
		return nil
	})
}

func (m *MemoryStore) DecrementActive(_ context.Context, id types.ID) error {
	return m.mutate(id, func(c *Courier) error {
		if c.ActiveJobs > 0 {
			c.ActiveJobs--
		}
		return nil
	})
}

func (m *MemoryStore) AddTimeoutStrike(_ context.Context, id types.ID) error {
	return m.mutate(id, func(c *Courier) error {
		c.TimeoutStrikes++
		return nil
	})
}

func (m *MemoryStore) mutate(id types.ID, fn func(*Courier) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.couriers[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now()
	return nil
}
