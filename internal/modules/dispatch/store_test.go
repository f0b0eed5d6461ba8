// README: Postgres assignment store tests; require DISPATCH_TEST_DSN.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courierdispatch/internal/infra"
	"courierdispatch/internal/types"
)

// pgStore connects to DISPATCH_TEST_DSN and applies migrations; skipped when unset.
func pgStore(t *testing.T) (*PGStore, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("DISPATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("DISPATCH_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := infra.NewDB(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, infra.Migrate(ctx, pool))
	return NewPGStore(pool), pool
}

func pgRecord(suffix string, status Status, now time.Time) *Assignment {
	id := types.ID(fmt.Sprintf("t%d-%s", now.UnixNano(), suffix))
	return &Assignment{
		ID: id,
		Job: Job{
			ID:             id + "-job",
			OrderID:        id + "-job",
			Pickup:         types.Point{Lat: 13.76, Lng: 121.06},
			Dropoff:        types.Point{Lat: 13.77, Lng: 121.07},
			Priority:       3,
			EstimatedValue: types.Money{Amount: 1500, Currency: "PHP"},
			MaxDistanceKm:  10,
		},
		Status:    status,
		Deadline:  now.Add(time.Minute),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPGStore_RoundTripAndOptimisticUpdate(t *testing.T) {
	s, _ := pgStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	a := pgRecord("rt", StatusPending, now)
	require.NoError(t, s.Create(ctx, a))

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Job, got.Job)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.CourierID)

	c := types.ID("C1")
	got.Status = StatusAssigned
	got.CourierID = &c
	got.Attempts = 1
	got.AssignedAt = &now
	got.Rejections = []Rejection{{CourierID: "C0", Reason: "busy", At: now}}
	require.NoError(t, s.Update(ctx, got))
	assert.Equal(t, 1, got.Version)

	stale := *got
	stale.Version = 0
	assert.ErrorIs(t, s.Update(ctx, &stale), ErrConflict)

	again, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, again.CourierID)
	assert.Equal(t, c, *again.CourierID)
	assert.True(t, again.HasRejected("C0"))

	list, err := s.ListAssignedToCourier(ctx, c)
	require.NoError(t, err)
	found := false
	for _, r := range list {
		found = found || r.ID == a.ID
	}
	assert.True(t, found)
}

func TestPGStore_OneLiveRecordPerJob(t *testing.T) {
	s, _ := pgStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := pgRecord("live", StatusPending, now)
	require.NoError(t, s.Create(ctx, a))
	dup := *a
	dup.ID = a.ID + "-dup"
	assert.ErrorIs(t, s.Create(ctx, &dup), errDuplicateLive)

	a.Status = StatusTimeout
	require.NoError(t, s.Update(ctx, a))
	require.NoError(t, s.Create(ctx, &dup))

	latest, err := s.GetByJob(ctx, a.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, dup.ID, latest.ID)
}

func TestPGStore_ListExpired(t *testing.T) {
	s, _ := pgStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := pgRecord("exp", StatusPending, now)
	a.Deadline = now.Add(-time.Second)
	require.NoError(t, s.Create(ctx, a))

	expired, err := s.ListExpired(ctx, now)
	require.NoError(t, err)
	ids := map[types.ID]bool{}
	for _, r := range expired {
		ids[r.ID] = true
	}
	assert.True(t, ids[a.ID])

	_, err = s.Get(ctx, "missing-"+a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
