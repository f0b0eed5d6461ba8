// README: Order service tests (flow + invalid requests + races).
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courierdispatch/internal/types"
)

// TestCanTransition verifies the state machine transition table without a database.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusAwaitingCourier, StatusCourierAssigned, true},
		{StatusCourierAssigned, StatusPickedUp, true},
		{StatusPickedUp, StatusDelivered, true},
		{StatusCourierAssigned, StatusDelivered, true},
		{StatusAwaitingCourier, StatusCancelled, true},
		{StatusPickedUp, StatusCancelled, true},
		// terminal states have no outgoing transitions
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusAwaitingCourier, false},
		// skipping states
		{StatusAwaitingCourier, StatusDelivered, false},
		{StatusAwaitingCourier, StatusPickedUp, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(store), store
}

func mustCreate(t *testing.T, svc *Service, id string) *Order {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateCommand{
		ID:         types.ID(id),
		CustomerID: "cust1",
		VendorID:   "vendor1",
		Pickup:     types.Point{Lat: 13.76, Lng: 121.06},
		Dropoff:    types.Point{Lat: 13.78, Lng: 121.07},
	})
	require.NoError(t, err)
	return o
}

func TestOrderFlowHappyPath(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, "o1")

	o, err := svc.BindCourier(ctx, "o1", "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusCourierAssigned, o.Status)
	require.NotNil(t, o.CourierID)
	assert.Equal(t, types.ID("c1"), *o.CourierID)
	assert.NotNil(t, o.AssignedAt)

	o, err = svc.MarkPickedUp(ctx, "o1", "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusPickedUp, o.Status)

	o, err = svc.MarkDelivered(ctx, "o1", "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, o.Status)
	assert.Len(t, store.Events(), 4)
}

func TestCreate_BadRequest(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), CreateCommand{ID: "o1", CustomerID: "c"})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.Create(context.Background(), CreateCommand{
		ID: "o2", CustomerID: "c", VendorID: "v",
		Pickup: types.Point{Lat: 91, Lng: 0},
	})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestBindCourier_Twice(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc, "o1")
	_, err := svc.BindCourier(context.Background(), "o1", "c1")
	require.NoError(t, err)
	_, err = svc.BindCourier(context.Background(), "o1", "c2")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentBindSameOrder(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc, "o_race")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(cid types.ID) {
			defer wg.Done()
			_, err := svc.BindCourier(context.Background(), "o_race", cid)
			errs <- err
		}(types.ID(fmt.Sprintf("c%d", i)))
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)
}
