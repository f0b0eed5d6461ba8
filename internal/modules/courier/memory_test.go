// README: In-memory courier directory tests (capacity, availability).
package courier

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courierdispatch/internal/types"
)

func seed(t *testing.T, m *MemoryStore, c Courier) {
	t.Helper()
	require.NoError(t, m.Upsert(context.Background(), &c))
}

func TestListAvailable_Filters(t *testing.T) {
	m := NewMemoryStore()
	loc := &Location{Point: types.Point{Lat: 13.75, Lng: 121.05}}
	seed(t, m, Courier{ID: "ok", Online: true, Verified: true, Location: loc, MaxJobs: 2})
	seed(t, m, Courier{ID: "offline", Verified: true, Location: loc, MaxJobs: 2})
	seed(t, m, Courier{ID: "unverified", Online: true, Location: loc, MaxJobs: 2})
	seed(t, m, Courier{ID: "nolocation", Online: true, Verified: true, MaxJobs: 2})
	seed(t, m, Courier{ID: "nocapacity", Online: true, Verified: true, Location: loc, MaxJobs: 0})

	got, err := m.ListAvailable(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.ID("ok"), got[0].ID)
}

func TestIncrementActive_NeverExceedsMax(t *testing.T) {
	m := NewMemoryStore()
	seed(t, m, Courier{ID: "c1", Online: true, Verified: true, MaxJobs: 3})

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.IncrementActive(context.Background(), "c1"); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrCapacityExceeded)
			}
		}()
	}
	wg.Wait()

	c, err := m.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, 3, c.ActiveJobs)
}

func TestDecrementActive_FloorsAtZero(t *testing.T) {
	m := NewMemoryStore()
	seed(t, m, Courier{ID: "c1", MaxJobs: 1})
	require.NoError(t, m.DecrementActive(context.Background(), "c1"))
	c, _ := m.Get(context.Background(), "c1")
	assert.Equal(t, 0, c.ActiveJobs)
}

func TestUnknownCourier(t *testing.T) {
	m := NewMemoryStore()
	assert.ErrorIs(t, m.IncrementActive(context.Background(), "ghost"), ErrNotFound)
	_, err := m.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
