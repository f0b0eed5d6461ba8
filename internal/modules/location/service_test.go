// README: Location ingestion tests (fan-out, pending retries, per-courier ordering, geo index).
package location

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courierdispatch/internal/config"
	"courierdispatch/internal/modules/courier"
	"courierdispatch/internal/modules/dispatch"
	"courierdispatch/internal/modules/order"
	"courierdispatch/internal/realtime"
	"courierdispatch/internal/types"
)

type recordingHub struct {
	mu    sync.Mutex
	kinds []realtime.Kind
}

func (h *recordingHub) PublishJob(kind realtime.Kind, _ types.ID, _ any) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kinds = append(h.kinds, kind)
	return 1
}

func (h *recordingHub) PublishUser(types.ID, realtime.Kind, types.ID, any) int { return 0 }

func (h *recordingHub) count(kind realtime.Kind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, k := range h.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

type fakeGeo struct {
	mu      sync.Mutex
	points  map[types.ID]types.Point
	failSet bool
}

func (g *fakeGeo) SetCourier(_ context.Context, id types.ID, p types.Point) error {
	if g.failSet {
		return errors.New("redis unavailable")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[id] = p
	return nil
}

func (g *fakeGeo) RemoveCourier(_ context.Context, id types.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.points, id)
	return nil
}

type fixture struct {
	svc      *Service
	dispatch *dispatch.Service
	couriers *courier.MemoryStore
	orders   *order.Service
	history  *MemoryStore
	hub      *recordingHub
	geo      *fakeGeo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		couriers: courier.NewMemoryStore(),
		orders:   order.NewService(order.NewMemoryStore()),
		history:  NewMemoryStore(),
		hub:      &recordingHub{},
		geo:      &fakeGeo{points: map[types.ID]types.Point{}},
	}
	f.dispatch = dispatch.NewService(dispatch.Deps{
		Store:    dispatch.NewMemoryStore(),
		Couriers: f.couriers,
		Orders:   f.orders,
		Hub:      f.hub,
	}, config.DispatchConfig{AcceptWindow: 2 * time.Minute, PendingWindow: 5 * time.Minute, MaxDistanceKm: 10})
	f.svc = NewService(Deps{
		Directory:  f.couriers,
		History:    f.history,
		Dispatcher: f.dispatch,
		Geo:        f.geo,
		Hub:        f.hub,
	})
	return f
}

func (f *fixture) addCourier(t *testing.T, id types.ID) {
	t.Helper()
	require.NoError(t, f.couriers.Upsert(context.Background(), &courier.Courier{
		ID: id, Online: true, Verified: true, MaxJobs: 2, PerformanceScore: 70, Rating: 4.5, OnTimeRate: 85,
	}))
}

func (f *fixture) addOrder(t *testing.T, id types.ID, pickup, dropoff types.Point) {
	t.Helper()
	_, err := f.orders.Create(context.Background(), order.CreateCommand{
		ID: id, CustomerID: "cust-" + id, VendorID: "vendor-1", Pickup: pickup, Dropoff: dropoff,
	})
	require.NoError(t, err)
}

func ptr(v float64) *float64 { return &v }

func TestIngest_UnblocksPendingJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pickup := types.Point{Lat: 14.2000, Lng: 121.5000}
	f.addOrder(t, "J2", pickup, types.Point{Lat: 14.21, Lng: 121.51})
	a, err := f.dispatch.CreateAssignment(ctx, dispatch.Job{
		ID: "J2", Pickup: pickup, Dropoff: types.Point{Lat: 14.21, Lng: 121.51}, MaxDistanceKm: 10,
	})
	require.NoError(t, err)
	require.Equal(t, dispatch.StatusPending, a.Status)

	// C3 comes online without a position, so it is not yet a candidate
	f.addCourier(t, "C3")
	res, err := f.svc.Ingest(ctx, Sample{CourierID: "C3", Point: types.Point{Lat: 14.2090, Lng: 121.5000}, AccuracyM: ptr(5)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)

	got, err := f.dispatch.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusAssigned, got.Status)
	require.NotNil(t, got.CourierID)
	assert.Equal(t, types.ID("C3"), *got.CourierID)

	c3, err := f.couriers.Get(ctx, "C3")
	require.NoError(t, err)
	require.NotNil(t, c3.Location)
	assert.Equal(t, 14.2090, c3.Location.Point.Lat)
	assert.Contains(t, f.geo.points, types.ID("C3"))

	hist, err := f.svc.History(ctx, "C3", 10)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestIngest_PublishesLocationAndETAForActiveJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCourier(t, "C1")
	_, err := f.svc.Ingest(ctx, Sample{CourierID: "C1", Point: types.Point{Lat: 13.7565, Lng: 121.0583}})
	require.NoError(t, err)

	f.addOrder(t, "J1", types.Point{Lat: 13.76, Lng: 121.06}, types.Point{Lat: 13.77, Lng: 121.07})
	_, err = f.dispatch.CreateAssignment(ctx, dispatch.Job{
		ID: "J1", Pickup: types.Point{Lat: 13.76, Lng: 121.06}, Dropoff: types.Point{Lat: 13.77, Lng: 121.07}, MaxDistanceKm: 10,
	})
	require.NoError(t, err)

	res, err := f.svc.Ingest(ctx, Sample{CourierID: "C1", Point: types.Point{Lat: 13.7580, Lng: 121.0590}, SpeedMps: ptr(6), HeadingDeg: ptr(45)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, 1, f.hub.count(realtime.KindRiderLocationUpdate))
	assert.Equal(t, 1, f.hub.count(realtime.KindETAUpdate))
}

func TestIngest_InvalidSampleChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCourier(t, "C1")

	bad := []Sample{
		{Point: types.Point{Lat: 1, Lng: 1}},
		{CourierID: "C1", Point: types.Point{Lat: 95, Lng: 1}},
		{CourierID: "C1", Point: types.Point{Lat: math.NaN(), Lng: 1}},
		{CourierID: "C1", Point: types.Point{Lat: 1, Lng: 1}, AccuracyM: ptr(-1)},
		{CourierID: "C1", Point: types.Point{Lat: 1, Lng: 1}, HeadingDeg: ptr(400)},
	}
	for _, smp := range bad {
		_, err := f.svc.Ingest(ctx, smp)
		assert.ErrorIs(t, err, ErrInvalidSample)
	}
	c1, err := f.couriers.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Nil(t, c1.Location)
	hist, err := f.svc.History(ctx, "C1", 10)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestIngest_UnknownCourier(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ingest(context.Background(), Sample{CourierID: "ghost", Point: types.Point{Lat: 1, Lng: 1}})
	assert.ErrorIs(t, err, courier.ErrNotFound)
}

func TestIngest_GeoFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.geo.failSet = true
	f.addCourier(t, "C1")
	_, err := f.svc.Ingest(context.Background(), Sample{CourierID: "C1", Point: types.Point{Lat: 1, Lng: 1}})
	require.NoError(t, err)
}

func TestIngest_KeepsArrivalOrderPerCourier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCourier(t, "C1")
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := f.svc.Ingest(ctx, Sample{CourierID: "C1", Point: types.Point{Lat: float64(i), Lng: 1}, RecordedAt: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}
	hist, err := f.svc.History(ctx, "C1", 3)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, 4.0, hist[0].Point.Lat)
	assert.Equal(t, 2.0, hist[2].Point.Lat)
}

func TestSetOnline_OfflineLeavesGeoIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCourier(t, "C1")
	_, err := f.svc.Ingest(ctx, Sample{CourierID: "C1", Point: types.Point{Lat: 1, Lng: 1}})
	require.NoError(t, err)
	require.Contains(t, f.geo.points, types.ID("C1"))

	require.NoError(t, f.svc.SetOnline(ctx, "C1", false))
	assert.NotContains(t, f.geo.points, types.ID("C1"))
	c1, err := f.couriers.Get(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, c1.Online)

	assert.ErrorIs(t, f.svc.SetOnline(ctx, "ghost", true), courier.ErrNotFound)
}
