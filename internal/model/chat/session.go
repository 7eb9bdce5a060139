package chat

import (
	"encoding/json"
	"time"
)

// Session statuses.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Session is one visitor conversation as stored by the persistence layer.
// Its ID is the same opaque id the realtime hub uses for session rooms.
type Session struct {
	ID             string          `json:"id"`
	LeadID         string          `json:"leadId,omitempty"`
	Name           string          `json:"name,omitempty"`
	Email          string          `json:"email,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	Status         string          `json:"status"`
	StartedAt      time.Time       `json:"startedAt"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
	SourceURL      string          `json:"sourceUrl,omitempty"`
	UserAgent      string          `json:"userAgent,omitempty"`
	Language       string          `json:"language,omitempty"`
	Screen         string          `json:"screen,omitempty"`
	Fingerprint    string          `json:"fingerprint,omitempty"`
	IPAddress      string          `json:"ipAddress,omitempty"`
	Meta           json.RawMessage `json:"meta,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ContactUpdate carries the optional contact fields of a PATCH; nil means unchanged.
type ContactUpdate struct {
	Name   *string `json:"name"`
	Email  *string `json:"email"`
	Phone  *string `json:"phone"`
	LeadID *string `json:"leadId"`
}
