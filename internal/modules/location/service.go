// README: Location service ingests courier samples and fans them out to dispatch and observers.
package location

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"courierdispatch/internal/keylock"
	"courierdispatch/internal/metrics"
	"courierdispatch/internal/modules/courier"
	"courierdispatch/internal/modules/dispatch"
	"courierdispatch/internal/modules/eta"
	"courierdispatch/internal/realtime"
	"courierdispatch/internal/types"
)

type Directory interface {
	UpdateLocation(ctx context.Context, id types.ID, loc courier.Location) error
	SetOnline(ctx context.Context, id types.ID, online bool) error
}

type GeoIndex interface {
	SetCourier(ctx context.Context, id types.ID, p types.Point) error
	RemoveCourier(ctx context.Context, id types.ID) error
}

type Dispatcher interface {
	OnCourierLocation(ctx context.Context, courierID types.ID, p types.Point) (int, error)
	ActiveForCourier(ctx context.Context, courierID types.ID) ([]*dispatch.Assignment, error)
}

type Deps struct {
	Directory  Directory
	History    History
	Dispatcher Dispatcher
	ETA        *eta.Estimator
	// Geo and Hub are optional.
	Geo     GeoIndex
	Hub     dispatch.Broadcaster
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	Now     func() time.Time
}

type Service struct {
	dir      Directory
	history  History
	dispatch Dispatcher
	eta      *eta.Estimator
	geo      GeoIndex
	hub      dispatch.Broadcaster
	metrics  *metrics.Metrics
	log      zerolog.Logger
	locks    *keylock.Map
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		dir:      d.Directory,
		history:  d.History,
		dispatch: d.Dispatcher,
		eta:      d.ETA,
		geo:      d.Geo,
		hub:      d.Hub,
		metrics:  d.Metrics,
		log:      d.Log.With().Str("component", "location").Logger(),
		locks:    keylock.New(),
		now:      d.Now,
	}
	if s.eta == nil {
		s.eta = eta.NewEstimator(0, nil)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type Result struct {
	// Matched counts pending jobs this sample got a courier for.
	Matched   int `json:"matched"`
	Published int `json:"published"`
}

// Ingest records one sample. Samples of the same courier are processed one at a time in arrival order.
func (s *Service) Ingest(ctx context.Context, smp Sample) (Result, error) {
	var res Result
	if err := smp.Validate(); err != nil {
		return res, err
	}
	if smp.RecordedAt.IsZero() {
		smp.RecordedAt = s.now()
	}

	unlock := s.locks.Lock(string(smp.CourierID))
	defer unlock()

	loc := courier.Location{Point: smp.Point, AccuracyM: smp.AccuracyM, RecordedAt: smp.RecordedAt}
	if err := s.dir.UpdateLocation(ctx, smp.CourierID, loc); err != nil {
		return res, err
	}
	if err := s.history.Append(ctx, smp); err != nil {
		return res, err
	}
	if s.geo != nil {
		if err := s.geo.SetCourier(ctx, smp.CourierID, smp.Point); err != nil {
			s.log.Warn().Err(err).Str("courier", string(smp.CourierID)).Msg("geo index update failed")
		}
	}
	s.metrics.LocationSample()

	res.Published = s.broadcast(ctx, smp)

	matched, err := s.dispatch.OnCourierLocation(ctx, smp.CourierID, smp.Point)
	if err != nil {
		return res, err
	}
	res.Matched = matched
	return res, nil
}

// broadcast pushes the position and a fresh ETA to observers of every job the courier holds.
func (s *Service) broadcast(ctx context.Context, smp Sample) int {
	if s.hub == nil {
		return 0
	}
	jobs, err := s.dispatch.ActiveForCourier(ctx, smp.CourierID)
	if err != nil {
		s.log.Warn().Err(err).Str("courier", string(smp.CourierID)).Msg("list active jobs for broadcast")
		return 0
	}
	sent := 0
	for _, a := range jobs {
		sent += s.hub.PublishJob(realtime.KindRiderLocationUpdate, a.Job.ID, realtime.RiderLocation{
			CourierID:  smp.CourierID,
			Lat:        smp.Point.Lat,
			Lng:        smp.Point.Lng,
			AccuracyM:  smp.AccuracyM,
			SpeedMps:   smp.SpeedMps,
			HeadingDeg: smp.HeadingDeg,
			RecordedAt: smp.RecordedAt,
		})

		target, dest := "pickup", a.Job.Pickup
		if a.PickedUpAt != nil {
			target, dest = "dropoff", a.Job.Dropoff
		}
		est := s.eta.Estimate(smp.Point, dest, smp.RecordedAt)
		sent += s.hub.PublishJob(realtime.KindETAUpdate, a.Job.ID, realtime.ETAUpdate{
			CourierID:  smp.CourierID,
			Target:     target,
			DistanceKm: est.DistanceKm,
			Seconds:    int64(est.Duration / time.Second),
		})
	}
	return sent
}

// SetOnline toggles availability. Offline couriers leave the geo index.
func (s *Service) SetOnline(ctx context.Context, courierID types.ID, online bool) error {
	unlock := s.locks.Lock(string(courierID))
	defer unlock()

	if err := s.dir.SetOnline(ctx, courierID, online); err != nil {
		return err
	}
	if s.geo != nil && !online {
		if err := s.geo.RemoveCourier(ctx, courierID); err != nil {
			s.log.Warn().Err(err).Str("courier", string(courierID)).Msg("geo index remove failed")
		}
	}
	s.log.Info().Str("courier", string(courierID)).Bool("online", online).Msg("courier availability changed")
	return nil
}

func (s *Service) History(ctx context.Context, courierID types.ID, limit int) ([]Sample, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.history.Recent(ctx, courierID, limit)
}
