// README: In-memory assignment store for tests and --memory mode.
package dispatch

import (
	"context"
	"slices"
	"sync"
	"time"

	"courierdispatch/internal/types"
)

type MemoryStore struct {
	mu    sync.RWMutex
	items map[types.ID]*Assignment
	byJob map[types.ID][]types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[types.ID]*Assignment),
		byJob: make(map[types.ID][]types.ID),
	}
}

func (m *MemoryStore) Create(_ context.Context, a *Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.ID]; ok {
		return ErrConflict
	}
	if live := m.liveLocked(a.Job.ID); live != nil && !a.Status.Terminal() {
		return errDuplicateLive
	}
	m.items[a.ID] = a.clone()
	m.byJob[a.Job.ID] = append(m.byJob[a.Job.ID], a.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (m *MemoryStore) GetByJob(_ context.Context, jobID types.ID) (*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byJob[jobID]
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return m.items[ids[len(ids)-1]].clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, a *Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != a.Version {
		return ErrConflict
	}
	a.Version++
	m.items[a.ID] = a.clone()
	return nil
}

func (m *MemoryStore) ListUnmatched(_ context.Context) ([]*Assignment, error) {
	out := m.filter(func(a *Assignment) bool {
		return a.Status == StatusPending && a.CourierID == nil
	})
	slices.SortStableFunc(out, func(a, b *Assignment) int {
		if a.Job.Priority != b.Job.Priority {
			return b.Job.Priority - a.Job.Priority
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) ListExpired(_ context.Context, now time.Time) ([]*Assignment, error) {
	out := m.filter(func(a *Assignment) bool {
		return (a.Status == StatusPending || a.Status == StatusAssigned) && !a.Deadline.After(now)
	})
	slices.SortStableFunc(out, func(a, b *Assignment) int { return a.Deadline.Compare(b.Deadline) })
	return out, nil
}

func (m *MemoryStore) ListAssignedToCourier(_ context.Context, courierID types.ID) ([]*Assignment, error) {
	out := m.filter(func(a *Assignment) bool {
		return a.Status == StatusAssigned && a.BoundTo(courierID)
	})
	sortForCourier(out)
	return out, nil
}

func (m *MemoryStore) ListActiveByCourier(_ context.Context, courierID types.ID) ([]*Assignment, error) {
	out := m.filter(func(a *Assignment) bool {
		if !a.BoundTo(courierID) {
			return false
		}
		return a.Status == StatusAssigned || (a.Status == StatusAccepted && a.CompletedAt == nil)
	})
	sortForCourier(out)
	return out, nil
}

func (m *MemoryStore) liveLocked(jobID types.ID) *Assignment {
	for _, id := range m.byJob[jobID] {
		if a := m.items[id]; !a.Status.Terminal() {
			return a
		}
	}
	return nil
}

func (m *MemoryStore) filter(keep func(*Assignment) bool) []*Assignment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Assignment
	for _, a := range m.items {
		if keep(a) {
			out = append(out, a.clone())
		}
	}
	return out
}

// sortForCourier orders by priority desc, then assigned-at asc, then id.
func sortForCourier(as []*Assignment) {
	slices.SortStableFunc(as, func(a, b *Assignment) int {
		if a.Job.Priority != b.Job.Priority {
			return b.Job.Priority - a.Job.Priority
		}
		var ta, tb time.Time
		if a.AssignedAt != nil {
			ta = *a.AssignedAt
		}
		if b.AssignedAt != nil {
			tb = *b.AssignedAt
		}
		if c := ta.Compare(tb); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
