// README: Notification boundary; dispatch outcomes leave the engine through a Notifier.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"courierdispatch/internal/types"
)

type EventKind string

const (
	EventCourierAccepted EventKind = "courier_accepted"
	EventNoCourierFound  EventKind = "no_courier_found"
	EventDelivered       EventKind = "delivered"
)

type Event struct {
	Kind         EventKind `json:"kind"`
	AssignmentID types.ID  `json:"assignment_id"`
	JobID        types.ID  `json:"job_id"`
	OrderID      types.ID  `json:"order_id"`
	VendorID     types.ID  `json:"vendor_id,omitempty"`
	CustomerID   types.ID  `json:"customer_id,omitempty"`
	CourierID    types.ID  `json:"courier_id,omitempty"`
	At           time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// LogNotifier writes events to the log; the default when no broker is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	n.log.Info().
		Str("kind", string(e.Kind)).
		Str("job_id", string(e.JobID)).
		Str("order_id", string(e.OrderID)).
		Str("vendor_id", string(e.VendorID)).
		Str("courier_id", string(e.CourierID)).
		Msg("dispatch notification")
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

func encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}
