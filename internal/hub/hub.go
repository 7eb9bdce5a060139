package hub

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"
)

// Persister stores socket-originated chat messages. It runs off the handler
// path, so realtime delivery never waits for it.
type Persister interface {
	PersistSocketMessage(ctx context.Context, msg ChatMessage) error
}

// PresenceObserver is told about every presence change after it is emitted.
// Implementations must return quickly.
type PresenceObserver interface {
	PresenceChanged(update AgentsOnline)
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock overrides the receipt clock used to stamp createdAt.
func WithClock(clock func() time.Time) Option {
	return func(h *Hub) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithPersister enables the socket persistence bridge.
func WithPersister(p Persister) Option {
	return func(h *Hub) { h.persister = p }
}

// WithPresenceObserver registers an observer for presence changes.
func WithPresenceObserver(o PresenceObserver) Option {
	return func(h *Hub) {
		if o != nil {
			h.observers = append(h.observers, o)
		}
	}
}

// Hub owns the registry, room and presence state of one process. Every
// handler runs under mu, so handlers never interleave mid-mutation.
type Hub struct {
	mu       sync.Mutex
	registry *registry
	rooms    *rooms
	presence *presence
	closed   bool

	clock     func() time.Time
	persister Persister
	observers []PresenceObserver
	persistWG sync.WaitGroup
}

// New returns an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		registry: newRegistry(),
		rooms:    newRooms(),
		presence: newPresence(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect registers a live connection and puts it in its role room.
// It returns false for a duplicate id or after Close.
func (h *Hub) Connect(id string, role Role, out Sender) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	c, ok := h.registry.register(id, role, out, h.clock().UTC())
	if !ok {
		log.Printf("[hub] duplicate connect ignored id=%s", id)
		return false
	}
	h.rooms.addToRole(c)
	log.Printf("[hub] connected id=%s role=%s", id, role)
	return true
}

// Disconnect reconciles all state held for id. Calling it again is a no-op.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.registry.unregister(id)
	if !ok {
		return
	}
	if c.SessionID != "" {
		h.rooms.leave(c, c.SessionID)
	}
	h.rooms.removeFromRole(c)
	if c.Role == RoleAgent {
		if update, removed := h.presence.leave(c.ID); removed {
			h.emitPresence(update)
		}
	}
	log.Printf("[hub] disconnected id=%s role=%s", id, c.Role)
}

// JoinSession moves the connection into sessionID's room, leaving any
// previous session. It returns false when sessionID is empty or id unknown.
func (h *Hub) JoinSession(id, sessionID string) bool {
	sessionID = strings.TrimSpace(sessionID)

	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.registry.get(id)
	if !ok {
		return false
	}
	previous, ok := h.rooms.join(c, sessionID)
	if !ok {
		log.Printf("[hub] joinSession without sessionId id=%s", id)
		return false
	}
	if previous != "" {
		log.Printf("[hub] id=%s left session=%s", id, previous)
	}
	log.Printf("[hub] id=%s joined session=%s", id, sessionID)

	switch c.Role {
	case RoleAgent:
		for _, update := range h.presence.join(sessionID, c.ID) {
			h.emitPresence(update)
		}
	case RoleWidget:
		if c.out == nil {
			break
		}
		c.out.Send(Frame{Event: EventAgentsOnline, Data: AgentsOnline{
			SessionID: sessionID,
			Count:     h.presence.count(sessionID),
		}})
	}
	return true
}

// LeaveSession removes the connection from its current session room.
func (h *Hub) LeaveSession(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.registry.get(id)
	if !ok || c.SessionID == "" {
		return false
	}
	sessionID := c.SessionID
	h.rooms.leave(c, sessionID)
	if c.Role == RoleAgent {
		if update, removed := h.presence.leave(c.ID); removed {
			h.emitPresence(update)
		}
	}
	log.Printf("[hub] id=%s left session=%s", id, sessionID)
	return true
}

// HandleChatMessage routes a chat message sent by connection id.
func (h *Hub) HandleChatMessage(id string, msg ChatMessage) {
	msg.SessionID = strings.TrimSpace(msg.SessionID)
	if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
		log.Printf("[hub] dropped chatMessage from id=%s: sessionId and text are required", id)
		return
	}

	h.mu.Lock()
	c, ok := h.registry.get(id)
	if !ok {
		h.mu.Unlock()
		return
	}
	msg.From = normalizeFrom(msg.From, c.Role)
	if msg.From == FromAgent && c.Role != RoleAgent {
		log.Printf("[hub] id=%s role=%s claimed from=agent, treated as %s", id, c.Role, normalizeFrom("", c.Role))
		msg.From = normalizeFrom("", c.Role)
	}
	msg.CreatedAt = h.clock().UTC()

	dest := routeChat(msg.From, msg.SessionID, c.ID)
	sent := h.send(dest, Frame{Event: EventChatMessage, Data: msg})
	persist := h.persister != nil && !h.closed
	if persist {
		h.persistWG.Add(1)
	}
	h.mu.Unlock()

	log.Printf("[hub] chatMessage session=%s from=%s delivered=%d", msg.SessionID, msg.From, sent)
	if persist {
		go h.persist(msg)
	}
}

// HandleAgentTyping relays an agent's typing state to the session room.
func (h *Hub) HandleAgentTyping(id string, t Typing) {
	h.handleTyping(id, t, RoleAgent)
}

// HandleUserTyping relays a visitor's typing state to every agent.
func (h *Hub) HandleUserTyping(id string, t Typing) {
	h.handleTyping(id, t, RoleWidget)
}

func (h *Hub) handleTyping(id string, t Typing, side Role) {
	t.SessionID = strings.TrimSpace(t.SessionID)
	if t.SessionID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.registry.get(id)
	if !ok {
		return
	}
	if side == RoleAgent {
		if c.Role != RoleAgent {
			log.Printf("[hub] agentTyping from non-agent id=%s ignored", id)
			return
		}
		h.rooms.broadcastToSession(t.SessionID, Frame{Event: EventAgentTyping, Data: t}, c.ID)
		return
	}
	if c.Role == RoleAgent {
		log.Printf("[hub] userTyping from agent id=%s ignored", id)
		return
	}
	h.rooms.broadcastToRole(RoleAgent, Frame{Event: EventUserTyping, Data: t}, c.ID)
}

// Relay pushes an event produced outside the socket path, typically after
// the HTTP layer stored a session or message. Chat messages are routed by
// their author like socket messages; session lifecycle events go to agents;
// anything else goes to the session room.
func (h *Hub) Relay(sessionID, event string, payload any) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || event == "" {
		return
	}

	h.mu.Lock()
	sent := h.send(routeRelay(sessionID, event, payload), Frame{Event: event, Data: payload})
	h.mu.Unlock()

	log.Printf("[hub] relay event=%s session=%s delivered=%d", event, sessionID, sent)
}

// Dispatch decodes one inbound frame from connection id and runs its handler.
// Malformed frames are dropped; the sender is never told.
func (h *Hub) Dispatch(id, event string, data json.RawMessage) {
	switch event {
	case EventJoinSession:
		var req joinRequest
		if !decode(id, event, data, &req) {
			return
		}
		h.JoinSession(id, req.SessionID)
	case EventLeaveSession:
		h.LeaveSession(id)
	case EventChatMessage:
		var msg ChatMessage
		if !decode(id, event, data, &msg) {
			return
		}
		h.HandleChatMessage(id, msg)
	case EventAgentTyping:
		var t Typing
		if !decode(id, event, data, &t) {
			return
		}
		h.HandleAgentTyping(id, t)
	case EventUserTyping:
		var t Typing
		if !decode(id, event, data, &t) {
			return
		}
		h.HandleUserTyping(id, t)
	default:
		log.Printf("[hub] unsupported event %q from id=%s", event, id)
	}
}

func decode(id, event string, data json.RawMessage, v any) bool {
	if len(data) == 0 {
		log.Printf("[hub] dropped %s from id=%s: empty payload", event, id)
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Printf("[hub] dropped %s from id=%s: %v", event, id, err)
		return false
	}
	return true
}

// Presence returns the number of agents currently joined to sessionID.
func (h *Hub) Presence(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presence.count(sessionID)
}

// Connection returns a copy of the connection record for id.
func (h *Hub) Connection(id string) (Connection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.registry.get(id)
	if !ok {
		return Connection{}, false
	}
	copied := *c
	copied.out = nil
	return copied, true
}

// Stats reports connection counts by role and per-session presence.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Connections: h.registry.countByRole(),
		Sessions:    h.rooms.sessionCount(),
		Presence:    h.presence.snapshot(),
	}
}

// Close refuses new connections and asks every transport that supports it to
// close. Each transport's own disconnect then reconciles its state.
// Close waits for in-flight persistence calls.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := h.registry.all()
	h.mu.Unlock()

	for _, c := range conns {
		if closer, ok := c.out.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	h.persistWG.Wait()
}

// send must be called with mu held.
func (h *Hub) send(dest destination, f Frame) int {
	if dest.toSession() {
		return h.rooms.broadcastToSession(dest.sessionID, f, dest.exclude)
	}
	return h.rooms.broadcastToRole(dest.role, f, dest.exclude)
}

// emitPresence must be called with mu held. Presence is scoped to the
// session's widgets and never broadcast globally.
func (h *Hub) emitPresence(update AgentsOnline) {
	h.rooms.broadcastToSessionRole(update.SessionID, RoleWidget, Frame{Event: EventAgentsOnline, Data: update})
	for _, o := range h.observers {
		o.PresenceChanged(update)
	}
}

// persist runs on its own goroutine; the caller has already done persistWG.Add.
func (h *Hub) persist(msg ChatMessage) {
	defer h.persistWG.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.persister.PersistSocketMessage(ctx, msg); err != nil {
		log.Printf("[hub] persist chatMessage session=%s failed: %v", msg.SessionID, err)
	}
}
