// README: Delivery order snapshot and status definitions.
package order

import (
	"time"

	"courierdispatch/internal/types"
)

type Status string

const (
	StatusNone            Status = "none"
	StatusAwaitingCourier Status = "awaiting_courier"
	StatusCourierAssigned Status = "courier_assigned"
	StatusPickedUp        Status = "picked_up"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
)

type Order struct {
	ID            types.ID    `json:"id"`
	CustomerID    types.ID    `json:"customer_id"`
	VendorID      types.ID    `json:"vendor_id"`
	CourierID     *types.ID   `json:"courier_id,omitempty"`
	Status        Status      `json:"status"`
	StatusVersion int         `json:"status_version"`
	Pickup        types.Point `json:"pickup"`
	Dropoff       types.Point `json:"dropoff"`
	CreatedAt     time.Time   `json:"created_at"`
	AssignedAt    *time.Time  `json:"assigned_at,omitempty"`
	PickedUpAt    *time.Time  `json:"picked_up_at,omitempty"`
	DeliveredAt   *time.Time  `json:"delivered_at,omitempty"`
	CancelledAt   *time.Time  `json:"cancelled_at,omitempty"`
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the order state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusAwaitingCourier: {StatusCourierAssigned, StatusCancelled},
	StatusCourierAssigned: {StatusPickedUp, StatusDelivered, StatusCancelled},
	StatusPickedUp:        {StatusDelivered, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (o *Order) clone() *Order {
	cp := *o
	if o.CourierID != nil {
		id := *o.CourierID
		cp.CourierID = &id
	}
	cp.AssignedAt = copyTime(o.AssignedAt)
	cp.PickedUpAt = copyTime(o.PickedUpAt)
	cp.DeliveredAt = copyTime(o.DeliveredAt)
	cp.CancelledAt = copyTime(o.CancelledAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
