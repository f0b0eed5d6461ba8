// README: Broadcast hub; authenticates connections, authorizes topic subscriptions and fans out job updates.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/lthibault/jitterbug/v2"
	"github.com/rs/zerolog"

	"courierdispatch/internal/metrics"
	"courierdispatch/internal/types"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrUnauthenticated   = errors.New("connection not authenticated")
	ErrForbidden         = errors.New("not allowed to observe job")
	ErrInvalidTopic      = errors.New("invalid topic")
)

// Verifier turns a bearer credential into an identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// Authorizer decides whether an identity may observe a job.
type Authorizer interface {
	CanObserve(ctx context.Context, who Identity, jobID types.ID) (bool, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, who Identity, jobID types.ID) (bool, error)

func (f AuthorizerFunc) CanObserve(ctx context.Context, who Identity, jobID types.ID) (bool, error) {
	return f(ctx, who, jobID)
}

type Option func(*Hub)

func WithLogger(l zerolog.Logger) Option    { return func(h *Hub) { h.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(h *Hub) { h.metrics = m } }
func WithQueueSize(n int) Option            { return func(h *Hub) { h.queueSize = n } }
func WithClock(now func() time.Time) Option { return func(h *Hub) { h.now = now } }

type Hub struct {
	reg       *Registry
	verifier  Verifier
	authz     Authorizer
	log       zerolog.Logger
	metrics   *metrics.Metrics
	queueSize int
	now       func() time.Time
}

func NewHub(reg *Registry, verifier Verifier, authz Authorizer, opts ...Option) *Hub {
	h := &Hub{
		reg:       reg,
		verifier:  verifier,
		authz:     authz,
		log:       zerolog.Nop(),
		queueSize: 64,
		now:       time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Connect registers a new unauthenticated connection. closer is invoked once when the hub destroys it.
func (h *Hub) Connect(closer io.Closer) *Conn {
	c := newConn(uuid.NewString(), h.queueSize, closer)
	h.reg.Add(c)
	h.metrics.SetConnections(h.reg.Len())
	h.log.Debug().Str("conn", c.id).Msg("realtime connection registered")
	return c
}

// Authenticate binds the identity behind credential to the connection.
// A failed attempt leaves the connection unauthenticated with no subscriptions. Switching to
// a different identity drops the subscriptions granted to the previous one.
func (h *Hub) Authenticate(ctx context.Context, connID, credential string) (Identity, error) {
	c, ok := h.reg.Get(connID)
	if !ok {
		return Identity{}, ErrUnknownConnection
	}
	id, err := h.verifier.Verify(ctx, credential)
	if err == nil && id.UserID == "" {
		err = errors.New("empty user id")
	}
	if err != nil {
		h.resetSession(c)
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if prev, ok := c.Identity(); ok && prev != id {
		h.dropTopics(c)
	}
	c.setIdentity(id)
	h.reg.Bind(c, id.UserID)
	h.log.Info().Str("conn", connID).Str("user", string(id.UserID)).Str("role", id.Role).Msg("realtime connection authenticated")
	return id, nil
}

// resetSession returns c to the unauthenticated state.
func (h *Hub) resetSession(c *Conn) {
	prev, ok := c.Identity()
	c.clearIdentity()
	h.dropTopics(c)
	h.reg.Unbind(c)
	if ok {
		h.log.Info().Str("conn", c.id).Str("user", string(prev.UserID)).Msg("realtime re-authentication failed, session cleared")
	}
}

func (h *Hub) dropTopics(c *Conn) {
	keys := c.Topics()
	c.removeTopics(keys)
	h.reg.Unsubscribe(c, keys)
}

// Subscribe adds the job's topics to the connection after checking the caller may observe the job.
// On failure the connection's subscriptions are unchanged.
func (h *Hub) Subscribe(ctx context.Context, connID string, jobID types.ID, kinds []TopicKind) ([]string, error) {
	c, ok := h.reg.Get(connID)
	if !ok {
		return nil, ErrUnknownConnection
	}
	who, ok := c.Identity()
	if !ok {
		return nil, ErrUnauthenticated
	}
	if jobID == "" || len(kinds) == 0 {
		return nil, ErrInvalidTopic
	}
	keys := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, k)
		}
		keys = append(keys, TopicKey(k, jobID))
	}
	allowed, err := h.authz.CanObserve(ctx, who, jobID)
	if err != nil {
		return nil, fmt.Errorf("authorize job %s: %w", jobID, err)
	}
	if !allowed {
		h.log.Warn().Str("conn", connID).Str("user", string(who.UserID)).Str("job", string(jobID)).Msg("realtime subscribe denied")
		return nil, ErrForbidden
	}
	c.addTopics(keys)
	h.reg.Subscribe(c, keys)
	return keys, nil
}

// Unsubscribe removes every topic of jobID from the connection and returns the removed keys.
func (h *Hub) Unsubscribe(connID string, jobID types.ID) ([]string, error) {
	c, ok := h.reg.Get(connID)
	if !ok {
		return nil, ErrUnknownConnection
	}
	var keys []string
	for _, k := range c.Topics() {
		for _, kind := range []TopicKind{TopicTracking, TopicOrderStatus, TopicRiderLocation, TopicETA, TopicTrackingEvents} {
			if k == TopicKey(kind, jobID) {
				keys = append(keys, k)
			}
		}
	}
	c.removeTopics(keys)
	h.reg.Unsubscribe(c, keys)
	return keys, nil
}

// Publish enqueues msg to every live subscriber of the given topic keys, each connection at most once.
// It never blocks and returns the number of connections the message was enqueued to.
func (h *Hub) Publish(msg Message, topics ...string) int {
	subs := h.reg.Subscribers(topics...)
	if len(subs) == 0 {
		return 0
	}
	frame, err := msg.Encode(h.now())
	if err != nil {
		h.log.Error().Err(err).Str("kind", string(msg.Kind)).Msg("realtime encode failed")
		return 0
	}
	sent := 0
	for _, c := range subs {
		ok, dropped := c.enqueue(frame)
		if dropped {
			h.metrics.Dropped()
			h.log.Warn().Str("conn", c.id).Msg("realtime queue full, dropped oldest message")
		}
		if ok {
			sent++
		}
	}
	h.metrics.Published(sent)
	return sent
}

// PublishJob delivers an update about jobID on the topics for its kind plus the aggregate tracking topic.
func (h *Hub) PublishJob(kind Kind, jobID types.ID, payload any) int {
	kinds, ok := broadcastTopics[kind]
	if !ok {
		h.log.Error().Str("kind", string(kind)).Msg("realtime publish with non-broadcast kind")
		return 0
	}
	keys := make([]string, len(kinds))
	for i, k := range kinds {
		keys[i] = TopicKey(k, jobID)
	}
	return h.Publish(Message{Kind: kind, JobID: jobID, Payload: payload}, keys...)
}

// Close destroys the connection and drops all of its subscriptions.
func (h *Hub) Close(connID string) {
	c, ok := h.reg.Remove(connID)
	if !ok {
		return
	}
	c.close()
	h.metrics.SetConnections(h.reg.Len())
	h.log.Debug().Str("conn", connID).Msg("realtime connection closed")
}

// PublishUser delivers a message about jobID to every connection authenticated as user,
// regardless of topic subscriptions. It never blocks.
func (h *Hub) PublishUser(user types.ID, kind Kind, jobID types.ID, payload any) int {
	conns := h.reg.ByUser(user)
	if len(conns) == 0 {
		return 0
	}
	frame, err := Message{Kind: kind, JobID: jobID, Payload: payload}.Encode(h.now())
	if err != nil {
		h.log.Error().Err(err).Str("kind", string(kind)).Msg("realtime encode failed")
		return 0
	}
	sent := 0
	for _, c := range conns {
		ok, dropped := c.enqueue(frame)
		if dropped {
			h.metrics.Dropped()
		}
		if ok {
			sent++
		}
	}
	h.metrics.Published(sent)
	return sent
}

// SweepLiveness closes connections that are broken or showed no activity since the previous sweep,
// and pings the rest. It returns the number of connections closed.
func (h *Hub) SweepLiveness() int {
	closed := 0
	ping, _ := Message{Kind: KindPing}.Encode(h.now())
	for _, c := range h.reg.All() {
		if c.broken.Load() || !c.alive.Swap(false) {
			h.Close(c.id)
			closed++
			continue
		}
		c.enqueue(ping)
	}
	if closed > 0 {
		h.log.Info().Int("closed", closed).Msg("realtime liveness sweep")
	}
	return closed
}

// RunHeartbeat sweeps liveness on a jittered interval until ctx is done.
func (h *Hub) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 20, Mean: 0})
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.SweepLiveness()
		}
	}
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	for _, c := range h.reg.All() {
		h.Close(c.id)
	}
}

// HandleMessage processes one inbound frame from connID and enqueues the reply, if any.
func (h *Hub) HandleMessage(ctx context.Context, connID string, data []byte) error {
	c, ok := h.reg.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	c.MarkAlive()
	req, err := DecodeRequest(data)
	if err != nil {
		code := "malformed"
		if errors.Is(err, ErrUnknownKind) {
			code = "unknown_type"
		}
		h.reply(c, Message{Kind: KindError, Payload: ErrorPayload{Code: code, Message: err.Error()}})
		return nil
	}
	switch r := req.(type) {
	case AuthRequest:
		id, err := h.Authenticate(ctx, connID, r.Token)
		if err != nil {
			h.reply(c, Message{Kind: KindAuthResult, Payload: AuthResult{Success: false, Error: "authentication failed"}})
			return nil
		}
		h.reply(c, Message{Kind: KindAuthResult, Payload: AuthResult{Success: true, UserID: id.UserID, Role: id.Role}})
	case SubscribeRequest:
		keys, err := h.Subscribe(ctx, connID, r.JobID, r.Topics)
		if err != nil {
			h.reply(c, Message{Kind: KindError, JobID: r.JobID, Payload: ErrorPayload{Code: errorCode(err), Message: err.Error()}})
			return nil
		}
		h.reply(c, Message{Kind: KindSubscribed, JobID: r.JobID, Payload: SubscribedPayload{Topics: keys}})
	case UnsubscribeRequest:
		keys, err := h.Unsubscribe(connID, r.JobID)
		if err != nil {
			return err
		}
		h.reply(c, Message{Kind: KindUnsubscribed, JobID: r.JobID, Payload: SubscribedPayload{Topics: keys}})
	case PingRequest:
		h.reply(c, Message{Kind: KindPong})
	case PongRequest:
	}
	return nil
}

func (h *Hub) reply(c *Conn, msg Message) {
	frame, err := msg.Encode(h.now())
	if err != nil {
		h.log.Error().Err(err).Str("kind", string(msg.Kind)).Msg("realtime encode reply failed")
		return
	}
	if _, dropped := c.enqueue(frame); dropped {
		h.metrics.Dropped()
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidTopic):
		return "invalid_topic"
	default:
		return "internal"
	}
}
