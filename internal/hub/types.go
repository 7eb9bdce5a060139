package hub

import (
	"encoding/json"
	"strings"
	"time"
)

// Role is the connection category declared at handshake time.
type Role string

const (
	RoleAgent  Role = "agent"
	RoleWidget Role = "widget"
	RoleBot    Role = "bot"
	RoleSystem Role = "system"
)

// ParseRole maps a handshake value to a Role, defaulting to RoleWidget.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAgent:
		return RoleAgent
	case RoleBot:
		return RoleBot
	case RoleSystem:
		return RoleSystem
	default:
		return RoleWidget
	}
}

// Event names on the wire.
const (
	EventJoinSession    = "joinSession"
	EventLeaveSession   = "leaveSession"
	EventChatMessage    = "chatMessage"
	EventAgentTyping    = "agentTyping"
	EventUserTyping     = "userTyping"
	EventAgentsOnline   = "agentsOnline"
	EventSessionCreated = "sessionCreated"
	EventSessionUpdated = "sessionUpdated"
)

// Message authors carried in chatMessage.from.
const (
	FromUser   = "user"
	FromAgent  = "agent"
	FromBot    = "bot"
	FromSystem = "system"
)

// Frame is the envelope written to and read from every transport.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Sender delivers frames to one live connection. Send must not block; it
// reports false when the frame was dropped.
type Sender interface {
	Send(Frame) bool
}

// Attributed is implemented by relay payloads that carry their author, so
// relayed chat messages follow the same routing policy as socket ones.
type Attributed interface {
	Author() string
}

// ChatMessage is the ephemeral realtime envelope; it is not the stored entity.
type ChatMessage struct {
	SessionID string          `json:"sessionId"`
	From      string          `json:"from"`
	Text      string          `json:"text"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Author implements Attributed.
func (m ChatMessage) Author() string { return m.From }

// Typing is the payload of agentTyping and userTyping.
type Typing struct {
	SessionID string `json:"sessionId"`
	Typing    bool   `json:"typing"`
}

// UnmarshalJSON accepts any JSON value for typing and reads it by
// truthiness: false, 0, "", null and a missing field are false.
func (t *Typing) UnmarshalJSON(data []byte) error {
	var raw struct {
		SessionID string          `json:"sessionId"`
		Typing    json.RawMessage `json:"typing"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.SessionID = raw.SessionID
	t.Typing = truthy(raw.Typing)
	return nil
}

func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

// AgentsOnline is the presence update delivered to a session's widgets.
type AgentsOnline struct {
	SessionID string `json:"sessionId"`
	Count     int    `json:"count"`
}

type joinRequest struct {
	SessionID string `json:"sessionId"`
}

// Stats is a point-in-time view of hub state.
type Stats struct {
	Connections map[Role]int   `json:"connections"`
	Sessions    int            `json:"sessions"`
	Presence    map[string]int `json:"presence"`
}
