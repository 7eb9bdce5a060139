package chat

import (
	"encoding/json"
	"time"
)

// Event types recorded against a session.
const (
	EventSessionOpened  = "session_opened"
	EventContactUpdated = "contact_updated"
	EventMessageStored  = "message_stored"
)

// Event is a system occurrence inside a session, kept for the CRM timeline.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
