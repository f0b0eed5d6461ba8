// README: Assignment records and their state machine.
package dispatch

import (
	"fmt"
	"math"
	"slices"
	"time"

	"courierdispatch/internal/types"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAssigned Status = "assigned"
	StatusAccepted Status = "accepted"
	StatusTimeout  Status = "timeout"
)

// AllowedTransitions is the assignment state machine. accepted and timeout are terminal.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAssigned, StatusTimeout},
	StatusAssigned: {StatusAssigned, StatusAccepted, StatusTimeout},
}

func CanTransition(from, to Status) bool {
	return slices.Contains(AllowedTransitions[from], to)
}

func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusTimeout
}

const (
	MaxPriority      = 100
	MaxJobDistanceKm = 100
)

// Job is a unit of delivery work offered to couriers.
type Job struct {
	ID             types.ID    `json:"id"`
	OrderID        types.ID    `json:"order_id"`
	Pickup         types.Point `json:"pickup"`
	Dropoff        types.Point `json:"dropoff"`
	Priority       int         `json:"priority"`
	EstimatedValue types.Money `json:"estimated_value"`
	MaxDistanceKm  float64     `json:"max_distance_km"`
}

func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: job id required", ErrInvalidInput)
	}
	if j.OrderID == "" {
		j.OrderID = j.ID
	}
	if err := j.Pickup.Validate(); err != nil {
		return fmt.Errorf("%w: pickup: %v", ErrInvalidInput, err)
	}
	if err := j.Dropoff.Validate(); err != nil {
		return fmt.Errorf("%w: dropoff: %v", ErrInvalidInput, err)
	}
	if j.Priority < 0 || j.Priority > MaxPriority {
		return fmt.Errorf("%w: priority out of range", ErrInvalidInput)
	}
	if math.IsNaN(j.MaxDistanceKm) || j.MaxDistanceKm <= 0 || j.MaxDistanceKm > MaxJobDistanceKm {
		return fmt.Errorf("%w: max distance out of range", ErrInvalidInput)
	}
	if j.EstimatedValue.Amount < 0 {
		return fmt.Errorf("%w: negative estimated value", ErrInvalidInput)
	}
	return nil
}

// Rejection is one entry of a record's rejection log. Implicit rejections come from the sweeper.
type Rejection struct {
	CourierID types.ID  `json:"courier_id"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
	Implicit  bool      `json:"implicit"`
}

type Assignment struct {
	ID          types.ID    `json:"id"`
	Job         Job         `json:"job"`
	CourierID   *types.ID   `json:"courier_id,omitempty"`
	Status      Status      `json:"status"`
	Attempts    int         `json:"attempts"`
	Rejections  []Rejection `json:"rejections"`
	AssignedAt  *time.Time  `json:"assigned_at,omitempty"`
	AcceptedAt  *time.Time  `json:"accepted_at,omitempty"`
	PickedUpAt  *time.Time  `json:"picked_up_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Deadline    time.Time   `json:"deadline"`
	Version     int         `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// HasRejected reports whether courierID is in the record's permanent rejected set.
func (a *Assignment) HasRejected(courierID types.ID) bool {
	for _, r := range a.Rejections {
		if r.CourierID == courierID {
			return true
		}
	}
	return false
}

// Rejected returns the rejected set in first-rejection order.
func (a *Assignment) Rejected() []types.ID {
	out := make([]types.ID, 0, len(a.Rejections))
	for _, r := range a.Rejections {
		if !slices.Contains(out, r.CourierID) {
			out = append(out, r.CourierID)
		}
	}
	return out
}

func (a *Assignment) BoundTo(courierID types.ID) bool {
	return a.CourierID != nil && *a.CourierID == courierID
}

func (a *Assignment) clone() *Assignment {
	cp := *a
	if a.CourierID != nil {
		id := *a.CourierID
		cp.CourierID = &id
	}
	cp.Rejections = slices.Clone(a.Rejections)
	cp.AssignedAt = copyTime(a.AssignedAt)
	cp.AcceptedAt = copyTime(a.AcceptedAt)
	cp.PickedUpAt = copyTime(a.PickedUpAt)
	cp.CompletedAt = copyTime(a.CompletedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
