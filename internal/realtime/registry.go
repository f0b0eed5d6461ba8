// README: Connection registry; indexes connections by id, topic and user.
package realtime

import (
	"sync"

	"courierdispatch/internal/types"
)

// Registry is owned by one Hub and injected at construction.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	topics map[string]map[string]*Conn
	users  map[types.ID]map[string]*Conn
	// bound is the user each connection is indexed under.
	bound map[string]types.ID
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		topics: make(map[string]map[string]*Conn),
		users:  make(map[types.ID]map[string]*Conn),
		bound:  make(map[string]types.ID),
	}
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Bind records conn under user, replacing any earlier user it was bound to.
// It is a no-op for connections already removed.
func (r *Registry) Bind(c *Conn, user types.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; !ok {
		return
	}
	r.unbindLocked(c.id)
	set, ok := r.users[user]
	if !ok {
		set = make(map[string]*Conn)
		r.users[user] = set
	}
	set[c.id] = c
	r.bound[c.id] = user
}

// Unbind drops conn from the user index.
func (r *Registry) Unbind(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked(c.id)
}

func (r *Registry) unbindLocked(connID string) {
	user, ok := r.bound[connID]
	if !ok {
		return
	}
	delete(r.bound, connID)
	set := r.users[user]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, user)
	}
}

// ByUser returns the connections authenticated as user.
func (r *Registry) ByUser(user types.ID) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.users[user]))
	for _, c := range r.users[user] {
		out = append(out, c)
	}
	return out
}

// Subscribe is a no-op for connections already removed.
func (r *Registry) Subscribe(c *Conn, keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; !ok {
		return
	}
	for _, k := range keys {
		set, ok := r.topics[k]
		if !ok {
			set = make(map[string]*Conn)
			r.topics[k] = set
		}
		set[c.id] = c
	}
}

func (r *Registry) Unsubscribe(c *Conn, keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(c.id, keys)
}

func (r *Registry) unsubscribeLocked(connID string, keys []string) {
	for _, k := range keys {
		set := r.topics[k]
		delete(set, connID)
		if len(set) == 0 {
			delete(r.topics, k)
		}
	}
}

// Subscribers returns the connections on any of keys, each at most once.
func (r *Registry) Subscribers(keys ...string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []*Conn
	for _, k := range keys {
		for id, c := range r.topics[k] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Remove drops every index entry for id.
func (r *Registry) Remove(id string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	r.unsubscribeLocked(id, c.Topics())
	r.unbindLocked(id)
	return c, true
}
