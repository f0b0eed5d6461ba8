// README: Dispatcher; creates, offers, reassigns and settles assignment records.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"courierdispatch/internal/config"
	"courierdispatch/internal/keylock"
	"courierdispatch/internal/metrics"
	"courierdispatch/internal/modules/courier"
	"courierdispatch/internal/modules/matching"
	"courierdispatch/internal/modules/order"
	"courierdispatch/internal/notify"
	"courierdispatch/internal/realtime"
	"courierdispatch/internal/types"
)

// Directory is the courier directory as the dispatcher uses it.
type Directory interface {
	ListAvailable(ctx context.Context) ([]courier.Courier, error)
	IncrementActive(ctx context.Context, id types.ID) error
	DecrementActive(ctx context.Context, id types.ID) error
	AddTimeoutStrike(ctx context.Context, id types.ID) error
}

// Orders is the order store boundary; *order.Service satisfies it.
type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	BindCourier(ctx context.Context, id, courierID types.ID) (*order.Order, error)
	MarkPickedUp(ctx context.Context, id, courierID types.ID) (*order.Order, error)
	MarkDelivered(ctx context.Context, id, courierID types.ID) (*order.Order, error)
}

// GeoIndex narrows the candidate pool to couriers near a pickup.
type GeoIndex interface {
	NearbyCouriers(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
}

type Broadcaster interface {
	PublishJob(kind realtime.Kind, jobID types.ID, payload any) int
	// PublishUser reaches a user's sessions whether or not they subscribed to the job.
	PublishUser(user types.ID, kind realtime.Kind, jobID types.ID, payload any) int
}

type Deps struct {
	Store    Store
	Couriers Directory
	Orders   Orders
	// Geo, Hub and Notifier are optional.
	Geo      GeoIndex
	Hub      Broadcaster
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	Now      func() time.Time
}

type Service struct {
	store    Store
	couriers Directory
	orders   Orders
	geo      GeoIndex
	hub      Broadcaster
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger
	cfg      config.DispatchConfig
	locks    *keylock.Map
	now      func() time.Time
}

func NewService(d Deps, cfg config.DispatchConfig) *Service {
	s := &Service{
		store:    d.Store,
		couriers: d.Couriers,
		orders:   d.Orders,
		hub:      d.Hub,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		log:      d.Log.With().Str("component", "dispatch").Logger(),
		cfg:      cfg,
		locks:    keylock.New(),
		now:      d.Now,
	}
	if cfg.UseGeoIndex {
		s.geo = d.Geo
	}
	if s.hub == nil {
		s.hub = nopBroadcaster{}
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type nopBroadcaster struct{}

func (nopBroadcaster) PublishJob(realtime.Kind, types.ID, any) int { return 0 }

func (nopBroadcaster) PublishUser(types.ID, realtime.Kind, types.ID, any) int { return 0 }

// CreateAssignment returns the job's live record if one exists, otherwise offers the job to
// the best eligible courier, or parks it as pending when nobody qualifies.
func (s *Service) CreateAssignment(ctx context.Context, job Job) (*Assignment, error) {
	if err := s.NormalizeJob(&job); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(string(job.ID))
	defer unlock()

	if live, err := s.liveByJob(ctx, job.ID); err != nil || live != nil {
		return live, err
	}
	if err := s.checkOrder(ctx, job.OrderID); err != nil {
		return nil, err
	}

	now := s.now()
	a := &Assignment{
		ID:        types.ID(uuid.NewString()),
		Job:       job,
		Status:    StatusPending,
		Deadline:  now.Add(s.cfg.PendingWindow),
		CreatedAt: now,
		UpdatedAt: now,
	}
	cands, err := s.candidates(ctx, a)
	if err != nil {
		return nil, err
	}
	if len(cands) > 0 {
		if err := s.offer(a, cands[0].CourierID, now); err != nil {
			return nil, err
		}
	}
	if err := s.store.Create(ctx, a); err != nil {
		if errors.Is(err, errDuplicateLive) {
			// another replica created it between our read and write
			live, err := s.liveByJob(ctx, job.ID)
			if err == nil && live == nil {
				err = ErrConflict
			}
			return live, err
		}
		return nil, fmt.Errorf("create assignment for job %s: %w", job.ID, err)
	}

	s.metrics.Assignment(string(a.Status))
	ev := s.log.Info().Str("assignment", string(a.ID)).Str("job", string(job.ID)).Str("status", string(a.Status)).Int("candidates", len(cands))
	if a.CourierID != nil {
		ev = ev.Str("courier", string(*a.CourierID))
	}
	ev.Msg("assignment created")
	s.track(a, "created", "")
	s.offerToCourier(a)
	return a, nil
}

// checkOrder requires the job's order to exist and still be waiting for a courier.
// NormalizeJob fills the default search radius and validates job in place.
func (s *Service) NormalizeJob(job *Job) error {
	if job.MaxDistanceKm == 0 {
		job.MaxDistanceKm = s.cfg.MaxDistanceKm
	}
	return job.Validate()
}

func (s *Service) checkOrder(ctx context.Context, orderID types.ID) error {
	o, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if o.Status != order.StatusAwaitingCourier {
		return fmt.Errorf("order %s is %s: %w", orderID, o.Status, ErrInvalidState)
	}
	return nil
}

// HandleRejection records an explicit rejection by the bound courier and moves the job on.
func (s *Service) HandleRejection(ctx context.Context, id, courierID types.ID, reason string) (*Assignment, error) {
	a, unlock, err := s.lockRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !a.BoundTo(courierID) {
		return nil, ErrForbidden
	}
	if a.Status != StatusAssigned {
		return nil, ErrInvalidState
	}

	now := s.now()
	a.Rejections = append(a.Rejections, Rejection{CourierID: courierID, Reason: reason, At: now})
	if err := s.advance(ctx, a, now); err != nil {
		return nil, err
	}
	s.metrics.Rejection(false)
	s.log.Info().Str("assignment", string(id)).Str("courier", string(courierID)).Str("reason", reason).Str("status", string(a.Status)).Msg("assignment rejected")
	s.track(a, "rejected", reason)
	s.afterAdvance(ctx, a, now)
	return a, nil
}

// AcceptAssignment settles the record on courierID, consumes one unit of capacity and binds
// the order. Vendors are notified only after all of that succeeded.
func (s *Service) AcceptAssignment(ctx context.Context, id, courierID types.ID) (*order.Order, error) {
	a, unlock, err := s.lockRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !a.BoundTo(courierID) {
		return nil, ErrForbidden
	}
	if a.Status != StatusAssigned {
		return nil, ErrInvalidState
	}

	if err := s.couriers.IncrementActive(ctx, courierID); err != nil {
		switch {
		case errors.Is(err, courier.ErrCapacityExceeded):
			s.log.Error().Str("assignment", string(id)).Str("courier", string(courierID)).Msg("capacity exceeded on accept: offered courier was already full")
			return nil, ErrCapacityExceeded
		case errors.Is(err, courier.ErrNotFound):
			return nil, fmt.Errorf("courier %s: %w", courierID, ErrNotFound)
		}
		return nil, err
	}

	prev := a.clone()
	now := s.now()
	a.Status = StatusAccepted
	a.AcceptedAt = &now
	a.UpdatedAt = now
	if err := s.store.Update(ctx, a); err != nil {
		s.releaseCapacity(ctx, courierID)
		return nil, err
	}

	o, err := s.orders.BindCourier(ctx, a.Job.OrderID, courierID)
	if err != nil {
		s.releaseCapacity(ctx, courierID)
		// rollback, not a state-machine transition
		prev.Version = a.Version
		if rerr := s.store.Update(ctx, prev); rerr != nil {
			s.log.Error().Err(rerr).Str("assignment", string(id)).Msg("restore assignment after failed order bind")
		}
		return nil, fmt.Errorf("bind order %s: %w", a.Job.OrderID, err)
	}

	s.metrics.Assignment(string(StatusAccepted))
	s.log.Info().Str("assignment", string(id)).Str("courier", string(courierID)).Str("order", string(o.ID)).Msg("assignment accepted")
	s.notify(ctx, notify.EventCourierAccepted, a, o, courierID)
	s.publishOrder(a.Job.ID, o)
	s.track(a, "accepted", "")
	return o, nil
}

// GetPendingAssignments lists offers awaiting courierID's answer, most urgent first.
func (s *Service) GetPendingAssignments(ctx context.Context, courierID types.ID) ([]*Assignment, error) {
	return s.store.ListAssignedToCourier(ctx, courierID)
}

func (s *Service) GetAssignment(ctx context.Context, id types.ID) (*Assignment, error) {
	return s.store.Get(ctx, id)
}

// ActiveForCourier lists offered and in-progress jobs of courierID.
func (s *Service) ActiveForCourier(ctx context.Context, courierID types.ID) ([]*Assignment, error) {
	return s.store.ListActiveByCourier(ctx, courierID)
}

func (s *Service) MarkPickedUp(ctx context.Context, id, courierID types.ID) (*order.Order, error) {
	a, unlock, err := s.lockRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !a.BoundTo(courierID) {
		return nil, ErrForbidden
	}
	if a.Status != StatusAccepted || a.PickedUpAt != nil || a.CompletedAt != nil {
		return nil, ErrInvalidState
	}
	o, err := s.orders.MarkPickedUp(ctx, a.Job.OrderID, courierID)
	if err != nil {
		return nil, fmt.Errorf("pick up order %s: %w", a.Job.OrderID, err)
	}
	now := s.now()
	a.PickedUpAt = &now
	a.UpdatedAt = now
	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	s.publishOrder(a.Job.ID, o)
	s.track(a, "picked_up", "")
	return o, nil
}

// CompleteDelivery finishes an accepted job and frees the courier's capacity.
func (s *Service) CompleteDelivery(ctx context.Context, id, courierID types.ID) (*order.Order, error) {
	a, unlock, err := s.lockRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !a.BoundTo(courierID) {
		return nil, ErrForbidden
	}
	if a.Status != StatusAccepted || a.CompletedAt != nil {
		return nil, ErrInvalidState
	}
	o, err := s.orders.MarkDelivered(ctx, a.Job.OrderID, courierID)
	if err != nil {
		return nil, fmt.Errorf("deliver order %s: %w", a.Job.OrderID, err)
	}
	now := s.now()
	a.CompletedAt = &now
	a.UpdatedAt = now
	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	s.releaseCapacity(ctx, courierID)

	s.metrics.Assignment("completed")
	s.log.Info().Str("assignment", string(id)).Str("courier", string(courierID)).Msg("delivery completed")
	s.notify(ctx, notify.EventDelivered, a, o, courierID)
	s.publishOrder(a.Job.ID, o)
	s.track(a, "delivered", "")
	return o, nil
}

// lockRecord takes the job lock of assignment id and returns a fresh copy read under it.
func (s *Service) lockRecord(ctx context.Context, id types.ID) (*Assignment, func(), error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.locks.Lock(string(a.Job.ID))
	a, err = s.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return a, unlock, nil
}

func (s *Service) liveByJob(ctx context.Context, jobID types.ID) (*Assignment, error) {
	a, err := s.store.GetByJob(ctx, jobID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, nil
	}
	return a, nil
}

// candidates ranks available couriers for a, excluding its rejected set.
func (s *Service) candidates(ctx context.Context, a *Assignment) ([]matching.Candidate, error) {
	couriers, err := s.couriers.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list available couriers: %w", err)
	}
	near := s.nearby(ctx, a.Job)

	inputs := make([]matching.ScoreInput, 0, len(couriers))
	for _, c := range couriers {
		if c.Location == nil || a.HasRejected(c.ID) {
			continue
		}
		if near != nil {
			if _, ok := near[c.ID]; !ok {
				continue
			}
		}
		loc := c.Location.Point
		inputs = append(inputs, matching.ScoreInput{
			CourierID:        c.ID,
			Location:         &loc,
			Pickup:           a.Job.Pickup,
			MaxDistanceKm:    a.Job.MaxDistanceKm,
			PerformanceScore: c.PerformanceScore,
			Rating:           c.Rating,
			OnTimeRate:       c.OnTimeRate,
			ActiveJobs:       c.ActiveJobs,
			MaxJobs:          c.MaxJobs,
		})
	}
	return matching.ScoreAll(inputs), nil
}

// nearby returns the geo index's view of couriers within the job radius, or nil when the
// index is disabled or failing. It only ever narrows the pool.
func (s *Service) nearby(ctx context.Context, job Job) map[types.ID]struct{} {
	if s.geo == nil {
		return nil
	}
	ids, err := s.geo.NearbyCouriers(ctx, job.Pickup, job.MaxDistanceKm)
	if err != nil {
		s.log.Warn().Err(err).Str("job", string(job.ID)).Msg("geo index lookup failed, scanning directory")
		return nil
	}
	out := make(map[types.ID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func (s *Service) offer(a *Assignment, courierID types.ID, now time.Time) error {
	if !CanTransition(a.Status, StatusAssigned) {
		return ErrInvalidState
	}
	a.Status = StatusAssigned
	a.CourierID = &courierID
	a.AssignedAt = &now
	a.Deadline = now.Add(s.cfg.AcceptWindow)
	a.Attempts++
	a.UpdatedAt = now
	return nil
}

// advance offers a to the next candidate or times it out, then persists it.
func (s *Service) advance(ctx context.Context, a *Assignment, now time.Time) error {
	cands, err := s.candidates(ctx, a)
	if err != nil {
		return err
	}
	if len(cands) > 0 {
		err = s.offer(a, cands[0].CourierID, now)
	} else {
		err = s.expire(a, now)
	}
	if err != nil {
		return err
	}
	return s.store.Update(ctx, a)
}

func (s *Service) expire(a *Assignment, now time.Time) error {
	if !CanTransition(a.Status, StatusTimeout) {
		return ErrInvalidState
	}
	a.Status = StatusTimeout
	a.CourierID = nil
	a.UpdatedAt = now
	return nil
}

// afterAdvance emits what follows a persisted reassignment or timeout.
func (s *Service) afterAdvance(ctx context.Context, a *Assignment, now time.Time) {
	s.metrics.Assignment(string(a.Status))
	switch a.Status {
	case StatusAssigned:
		s.track(a, "reassigned", "")
		s.offerToCourier(a)
	case StatusTimeout:
		s.log.Warn().Str("assignment", string(a.ID)).Str("job", string(a.Job.ID)).Int("attempts", a.Attempts).Msg("no courier found")
		s.track(a, "expired", "")
		var o *order.Order
		if got, err := s.orders.Get(ctx, a.Job.OrderID); err == nil {
			o = got
		}
		s.notify(ctx, notify.EventNoCourierFound, a, o, "")
	}
}

func (s *Service) releaseCapacity(ctx context.Context, courierID types.ID) {
	if err := s.couriers.DecrementActive(ctx, courierID); err != nil {
		s.log.Error().Err(err).Str("courier", string(courierID)).Msg("release courier capacity")
	}
}

func (s *Service) notify(ctx context.Context, kind notify.EventKind, a *Assignment, o *order.Order, courierID types.ID) {
	e := notify.Event{
		Kind:         kind,
		AssignmentID: a.ID,
		JobID:        a.Job.ID,
		OrderID:      a.Job.OrderID,
		CourierID:    courierID,
		At:           s.now(),
	}
	if o != nil {
		e.VendorID = o.VendorID
		e.CustomerID = o.CustomerID
	}
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.log.Error().Err(err).Str("kind", string(kind)).Str("job", string(a.Job.ID)).Msg("notify failed")
	}
}

func (s *Service) track(a *Assignment, event, reason string) {
	s.hub.PublishJob(realtime.KindTrackingEvent, a.Job.ID, realtime.TrackingEvent{
		Event:        event,
		AssignmentID: a.ID,
		Status:       string(a.Status),
		CourierID:    a.CourierID,
		Attempts:     a.Attempts,
		Reason:       reason,
	})
}

// offerToCourier pushes a fresh offer to the bound courier's realtime sessions.
func (s *Service) offerToCourier(a *Assignment) {
	if a.Status != StatusAssigned || a.CourierID == nil {
		return
	}
	s.hub.PublishUser(*a.CourierID, realtime.KindTrackingEvent, a.Job.ID, realtime.TrackingEvent{
		Event:        "offered",
		AssignmentID: a.ID,
		Status:       string(a.Status),
		CourierID:    a.CourierID,
		Attempts:     a.Attempts,
	})
}

func (s *Service) publishOrder(jobID types.ID, o *order.Order) {
	s.hub.PublishJob(realtime.KindOrderStatusUpdate, jobID, realtime.OrderStatus{
		OrderID:   o.ID,
		Status:    string(o.Status),
		CourierID: o.CourierID,
	})
}
