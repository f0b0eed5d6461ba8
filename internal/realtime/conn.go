// README: One realtime client connection: identity, subscriptions and a bounded outbound queue.
package realtime

import (
	"io"
	"sync"
	"sync/atomic"

	"courierdispatch/internal/types"
)

// Identity is an authenticated caller bound to a connection.
type Identity struct {
	UserID types.ID
	Role   string
}

const RoleAdmin = "admin"

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Conn is safe for concurrent use. The transport drains Outbound and signals
// liveness through MarkAlive; the hub owns everything else.
type Conn struct {
	id     string
	out    chan []byte
	done   chan struct{}
	closer io.Closer
	once   sync.Once

	mu       sync.RWMutex
	identity *Identity
	topics   map[string]struct{}

	alive   atomic.Bool
	broken  atomic.Bool
	dropped atomic.Int64
}

func newConn(id string, queueSize int, closer io.Closer) *Conn {
	if queueSize <= 0 {
		queueSize = 1
	}
	c := &Conn{
		id:     id,
		out:    make(chan []byte, queueSize),
		done:   make(chan struct{}),
		closer: closer,
		topics: make(map[string]struct{}),
	}
	c.alive.Store(true)
	return c
}

func (c *Conn) ID() string { return c.id }

// Outbound yields encoded frames in publish order.
func (c *Conn) Outbound() <-chan []byte { return c.out }

// Done is closed once the hub has destroyed the connection.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Identity() (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return Identity{}, false
	}
	return *c.identity, true
}

func (c *Conn) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// MarkAlive records that the peer has shown activity since the last liveness sweep.
func (c *Conn) MarkAlive() { c.alive.Store(true) }

// MarkBroken flags a connection whose writes failed; the next sweep prunes it.
func (c *Conn) MarkBroken() { c.broken.Store(true) }

func (c *Conn) Dropped() int64 { return c.dropped.Load() }

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue never blocks. When the queue is full the oldest frame is discarded.
func (c *Conn) enqueue(frame []byte) (sent, dropped bool) {
	if c.broken.Load() || c.closed() {
		return false, false
	}
	for {
		select {
		case c.out <- frame:
			return true, dropped
		default:
		}
		select {
		case <-c.out:
			c.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

func (c *Conn) setIdentity(id Identity) {
	c.mu.Lock()
	c.identity = &id
	c.mu.Unlock()
}

func (c *Conn) clearIdentity() {
	c.mu.Lock()
	c.identity = nil
	c.mu.Unlock()
}

func (c *Conn) addTopics(keys []string) {
	c.mu.Lock()
	for _, k := range keys {
		c.topics[k] = struct{}{}
	}
	c.mu.Unlock()
}

func (c *Conn) removeTopics(keys []string) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.topics, k)
	}
	c.mu.Unlock()
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		if c.closer != nil {
			_ = c.closer.Close()
		}
	})
}
