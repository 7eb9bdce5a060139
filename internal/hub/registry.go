package hub

import "time"

// Connection is one live client as seen by the hub.
type Connection struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	SessionID   string    `json:"sessionId,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`

	out Sender
}

// registry owns every Connection from connect to disconnect.
type registry struct {
	conns map[string]*Connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*Connection)}
}

// register records a connection. A duplicate id is ignored and reported as false.
func (r *registry) register(id string, role Role, out Sender, now time.Time) (*Connection, bool) {
	if id == "" {
		return nil, false
	}
	if _, exists := r.conns[id]; exists {
		return nil, false
	}
	c := &Connection{ID: id, Role: role, ConnectedAt: now, out: out}
	r.conns[id] = c
	return c, true
}

// unregister removes the connection and hands it back for reconciliation.
// The second call for the same id finds nothing, which keeps disconnect idempotent.
func (r *registry) unregister(id string) (*Connection, bool) {
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	return c, true
}

func (r *registry) get(id string) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

func (r *registry) countByRole() map[Role]int {
	counts := make(map[Role]int)
	for _, c := range r.conns {
		counts[c.Role]++
	}
	return counts
}

func (r *registry) all() []*Connection {
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
