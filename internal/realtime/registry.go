package realtime

import (
	"sort"
	"sync"
)

// Registry maps users to their live connections. A user is present iff it
// owns at least one registered connection.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[string]struct{}
	conns map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[string]struct{}),
		conns: make(map[string]*Conn),
	}
}

// Add registers c and reports whether it is its user's first connection.
// Adding an already registered connection is a no-op and reports added false.
func (r *Registry) Add(c *Conn) (added, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; ok {
		return false, false
	}
	r.conns[c.id] = c
	set, ok := r.users[c.userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[c.userID] = set
	}
	set[c.id] = struct{}{}
	return true, len(set) == 1
}

// Remove unregisters c and reports whether it was its user's last connection.
// Removing an unknown connection is a no-op and reports removed false.
func (r *Registry) Remove(c *Conn) (removed, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; !ok {
		return false, false
	}
	delete(r.conns, c.id)
	set := r.users[c.userID]
	delete(set, c.id)
	if len(set) == 0 {
		delete(r.users, c.userID)
		return true, true
	}
	return true, false
}

func (r *Registry) Get(connID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Conns returns the live connections of one user.
func (r *Registry) Conns(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.users[userID]
	out := make([]*Conn, 0, len(set))
	for id := range set {
		out = append(out, r.conns[id])
	}
	return out
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

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// OnlineUsers returns the sorted ids of every present user.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
