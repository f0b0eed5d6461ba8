// README: Order service implements delivery-order state transitions and persistence.
package order

import (
	"context"
	"errors"
	"time"

	"courierdispatch/internal/types"
)

type Service struct {
	store Repository
}

func NewService(store Repository) *Service {
	return &Service{store: store}
}

var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrNotFound     = errors.New("order not found")
	ErrConflict     = errors.New("order state conflict")
	ErrBadRequest   = errors.New("bad request")
)

type CreateCommand struct {
	ID         types.ID
	CustomerID types.ID
	VendorID   types.ID
	Pickup     types.Point
	Dropoff    types.Point
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.ID == "" || cmd.CustomerID == "" || cmd.VendorID == "" {
		return nil, ErrBadRequest
	}
	if cmd.Pickup.Validate() != nil || cmd.Dropoff.Validate() != nil {
		return nil, ErrBadRequest
	}
	now := time.Now()
	o := &Order{
		ID:         cmd.ID,
		CustomerID: cmd.CustomerID,
		VendorID:   cmd.VendorID,
		Status:     StatusAwaitingCourier,
		Pickup:     cmd.Pickup,
		Dropoff:    cmd.Dropoff,
		CreatedAt:  now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusAwaitingCourier,
		ActorType:  "vendor",
		ActorID:    &cmd.VendorID,
		CreatedAt:  now,
	})
	return o, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

// BindCourier records the accepting courier and advances the order to courier_assigned.
func (s *Service) BindCourier(ctx context.Context, id, courierID types.ID) (*Order, error) {
	return s.transition(ctx, id, StatusCourierAssigned, &courierID, "courier", &courierID)
}

func (s *Service) MarkPickedUp(ctx context.Context, id, courierID types.ID) (*Order, error) {
	return s.transition(ctx, id, StatusPickedUp, nil, "courier", &courierID)
}

func (s *Service) MarkDelivered(ctx context.Context, id, courierID types.ID) (*Order, error) {
	return s.transition(ctx, id, StatusDelivered, nil, "courier", &courierID)
}

func (s *Service) Cancel(ctx context.Context, id types.ID, actorType string) (*Order, error) {
	return s.transition(ctx, id, StatusCancelled, nil, actorType, nil)
}

func (s *Service) transition(ctx context.Context, id types.ID, to Status, courierID *types.ID, actorType string, actorID *types.ID) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, to, o.StatusVersion, courierID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  time.Now(),
	})
	return s.store.Get(ctx, id)
}
