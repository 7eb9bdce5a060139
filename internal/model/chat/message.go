package chat

import (
	"encoding/json"
	"time"
)

// Message senders.
const (
	SenderUser   = "user"
	SenderAgent  = "agent"
	SenderBot    = "bot"
	SenderSystem = "system"
)

// Message persists individual turns of a session.
type Message struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Sender    string          `json:"sender"`
	Text      string          `json:"text"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ValidSender reports whether s is one of the known senders.
func ValidSender(s string) bool {
	switch s {
	case SenderUser, SenderAgent, SenderBot, SenderSystem:
		return true
	}
	return false
}
