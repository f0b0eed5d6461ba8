// README: Realtime wire format; a closed set of message kinds with typed payloads.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"courierdispatch/internal/types"
)

type Kind string

const (
	KindAuth                   Kind = "auth"
	KindAuthResult             Kind = "auth_result"
	KindSubscribeTracking      Kind = "subscribe_tracking"
	KindSubscribeOrderTracking Kind = "subscribe_order_tracking"
	KindSubscribed             Kind = "subscribed"
	KindUnsubscribe            Kind = "unsubscribe"
	KindUnsubscribed           Kind = "unsubscribed"
	KindRiderLocationUpdate    Kind = "rider_location_update"
	KindOrderStatusUpdate      Kind = "order_status_update"
	KindTrackingEvent          Kind = "tracking_event"
	KindETAUpdate              Kind = "eta_update"
	KindPing                   Kind = "ping"
	KindPong                   Kind = "pong"
	KindError                  Kind = "error"
)

// TopicKind is the information kind half of a topic key.
type TopicKind string

const (
	TopicTracking       TopicKind = "tracking"
	TopicOrderStatus    TopicKind = "order_status"
	TopicRiderLocation  TopicKind = "rider_location"
	TopicETA            TopicKind = "eta"
	TopicTrackingEvents TopicKind = "tracking_events"
)

func (k TopicKind) Valid() bool {
	switch k {
	case TopicTracking, TopicOrderStatus, TopicRiderLocation, TopicETA, TopicTrackingEvents:
		return true
	}
	return false
}

// TopicKey returns "{kind}:{jobId}".
func TopicKey(kind TopicKind, jobID types.ID) string {
	return string(kind) + ":" + string(jobID)
}

// defaultTopics lists what each subscribe request kind covers when no topics are named.
var defaultTopics = map[Kind][]TopicKind{
	KindSubscribeTracking:      {TopicTracking, TopicRiderLocation, TopicETA, TopicTrackingEvents},
	KindSubscribeOrderTracking: {TopicOrderStatus, TopicTrackingEvents},
}

// broadcastTopics maps an outbound update kind to the topics it is delivered on.
// TopicTracking is the aggregate feed and receives every update.
var broadcastTopics = map[Kind][]TopicKind{
	KindRiderLocationUpdate: {TopicRiderLocation, TopicTracking},
	KindOrderStatusUpdate:   {TopicOrderStatus, TopicTracking},
	KindTrackingEvent:       {TopicTrackingEvents, TopicTracking},
	KindETAUpdate:           {TopicETA, TopicTracking},
}

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Type      Kind            `json:"type"`
	JobID     types.ID        `json:"job_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Message is an outbound broadcast before encoding.
type Message struct {
	Kind    Kind
	JobID   types.ID
	Payload any
}

func (m Message) Encode(now time.Time) ([]byte, error) {
	env := Envelope{Type: m.Kind, JobID: m.JobID, Timestamp: now.UTC()}
	if m.Payload != nil {
		raw, err := json.Marshal(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", m.Kind, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Outbound payloads.

type AuthResult struct {
	Success bool     `json:"success"`
	UserID  types.ID `json:"user_id,omitempty"`
	Role    string   `json:"role,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type SubscribedPayload struct {
	Topics []string `json:"topics"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RiderLocation struct {
	CourierID  types.ID  `json:"courier_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  *float64  `json:"accuracy_m,omitempty"`
	SpeedMps   *float64  `json:"speed_mps,omitempty"`
	HeadingDeg *float64  `json:"heading_deg,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type OrderStatus struct {
	OrderID   types.ID  `json:"order_id"`
	Status    string    `json:"status"`
	CourierID *types.ID `json:"courier_id,omitempty"`
}

type TrackingEvent struct {
	Event        string    `json:"event"`
	AssignmentID types.ID  `json:"assignment_id"`
	Status       string    `json:"status"`
	CourierID    *types.ID `json:"courier_id,omitempty"`
	Attempts     int       `json:"attempts"`
	Reason       string    `json:"reason,omitempty"`
}

type ETAUpdate struct {
	CourierID  types.ID `json:"courier_id"`
	Target     string   `json:"target"`
	DistanceKm float64  `json:"distance_km"`
	Seconds    int64    `json:"seconds"`
}

// Inbound requests. The set is closed: only this file declares Request implementations.

type Request interface {
	requestKind() Kind
}

type AuthRequest struct {
	Token string `json:"token"`
}

type SubscribeRequest struct {
	Kind   Kind
	JobID  types.ID
	Topics []TopicKind
}

type UnsubscribeRequest struct {
	JobID types.ID
}

type PingRequest struct{}

type PongRequest struct{}

func (AuthRequest) requestKind() Kind        { return KindAuth }
func (r SubscribeRequest) requestKind() Kind { return r.Kind }
func (UnsubscribeRequest) requestKind() Kind { return KindUnsubscribe }
func (PingRequest) requestKind() Kind        { return KindPing }
func (PongRequest) requestKind() Kind        { return KindPong }

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownKind = errors.New("unknown message type")
)

// DecodeRequest parses one inbound frame into its typed request.
func DecodeRequest(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Type {
	case KindAuth:
		var r AuthRequest
		if err := decodePayload(env.Payload, &r); err != nil {
			return nil, err
		}
		if r.Token == "" {
			return nil, fmt.Errorf("%w: missing token", ErrMalformed)
		}
		return r, nil
	case KindSubscribeTracking, KindSubscribeOrderTracking:
		if env.JobID == "" {
			return nil, fmt.Errorf("%w: missing job_id", ErrMalformed)
		}
		var p struct {
			Topics []TopicKind `json:"topics"`
		}
		if len(env.Payload) > 0 {
			if err := decodePayload(env.Payload, &p); err != nil {
				return nil, err
			}
		}
		topics := p.Topics
		if len(topics) == 0 {
			topics = defaultTopics[env.Type]
		}
		for _, t := range topics {
			if !t.Valid() {
				return nil, fmt.Errorf("%w: unknown topic %q", ErrMalformed, t)
			}
		}
		return SubscribeRequest{Kind: env.Type, JobID: env.JobID, Topics: topics}, nil
	case KindUnsubscribe:
		if env.JobID == "" {
			return nil, fmt.Errorf("%w: missing job_id", ErrMalformed)
		}
		return UnsubscribeRequest{JobID: env.JobID}, nil
	case KindPing:
		return PingRequest{}, nil
	case KindPong:
		return PongRequest{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
