package broadcast

import (
	"sort"
	"sync"
	"time"
)

// ConnInfo is the bookkeeping kept for one display connection
type ConnInfo struct {
	ID           string    `json:"id"`
	Username     string    `json:"username,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	UserAgent    string    `json:"user_agent"`
	RemoteAddr   string    `json:"remote_addr"`
	LastAction   string    `json:"last_action,omitempty"`
}

// Registry owns the set of live connections. Removing a connection closes
// its outbound channel under the same lock every send takes, so a send can
// never hit a closed channel.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

func (r *Registry) add(c *Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c.id] = c
	return len(r.conns)
}

// remove unregisters c and closes its outbound channel. It reports false
// when c was already gone.
func (r *Registry) remove(c *Conn) (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[c.id]; !ok || cur != c {
		return false, len(r.conns)
	}
	delete(r.conns, c.id)
	close(c.send)
	return true, len(r.conns)
}

// send queues msg on c without blocking. It reports false when c is gone
// or its buffer is full.
func (r *Registry) send(c *Conn, msg []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.conns[c.id]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// broadcast queues msg on every connection and returns those whose buffer was full
func (r *Registry) broadcast(msg []byte) (slow []*Conn) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.conns {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	return slow
}

func (r *Registry) all() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the info of every connection, oldest first
func (r *Registry) Snapshot() []ConnInfo {
	r.mu.RLock()
	out := make([]ConnInfo, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
