package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cingulado/alade-chat/backend/internal/hub"
	"github.com/cingulado/alade-chat/backend/internal/model/chat"
	"github.com/cingulado/alade-chat/backend/internal/store"
)

var (
	ErrSessionRequired = errors.New("sessionId is required")
	ErrTextRequired    = errors.New("text is required")
	ErrInvalidSender   = errors.New("sender must be one of user, agent, bot, system")
	ErrSessionNotFound = errors.New("session not found")
)

// Relayer pushes stored records onto the realtime channel.
type Relayer interface {
	Relay(sessionID, event string, payload any)
}

// Service validates and persists chat sessions and messages, then relays
// what it stored. Realtime relay happens only after a successful write.
type Service struct {
	store store.Store
	relay Relayer
	clock func() time.Time
}

// NewService wires the service to a store. relay may be nil.
func NewService(st store.Store, relay Relayer) *Service {
	return &Service{store: st, relay: relay, clock: time.Now}
}

// SetRelayer replaces the relay target. It must be called before the service
// handles requests.
func (s *Service) SetRelayer(relay Relayer) {
	s.relay = relay
}

// Contact is the visitor contact block of a new session.
type Contact struct {
	Name     string `json:"name"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// SessionMeta is the browser context reported by the widget. Unknown keys
// are kept verbatim in Raw.
type SessionMeta struct {
	SourceURL   string `json:"sourceUrl"`
	UserAgent   string `json:"userAgent"`
	Language    string `json:"language"`
	Screen      string `json:"screen"`
	Fingerprint string `json:"fingerprint"`

	Raw json.RawMessage `json:"-"`
}

// CreateSessionInput is everything needed to open a session.
type CreateSessionInput struct {
	Contact   Contact
	Meta      SessionMeta
	LeadID    string
	UserAgent string // request header fallback
	IPAddress string
}

// CreateSession opens a new session and announces it to agents.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (chat.Session, error) {
	now := s.now()
	name := in.Contact.Name
	if name == "" {
		name = in.Contact.FullName
	}
	userAgent := in.Meta.UserAgent
	if userAgent == "" {
		userAgent = in.UserAgent
	}

	session := chat.Session{
		ID:             uuid.NewString(),
		LeadID:         strings.TrimSpace(in.LeadID),
		Name:           strings.TrimSpace(name),
		Email:          strings.TrimSpace(in.Contact.Email),
		Phone:          strings.TrimSpace(in.Contact.Phone),
		Status:         chat.StatusOpen,
		StartedAt:      now,
		LastActivityAt: now,
		SourceURL:      in.Meta.SourceURL,
		UserAgent:      userAgent,
		Language:       in.Meta.Language,
		Screen:         in.Meta.Screen,
		Fingerprint:    in.Meta.Fingerprint,
		IPAddress:      in.IPAddress,
		Meta:           in.Meta.Raw,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	s.recordEvent(ctx, session.ID, chat.EventSessionOpened, map[string]string{"sourceUrl": session.SourceURL})
	s.emit(session.ID, hub.EventSessionCreated, session)
	return session, nil
}

// UpdateContact applies the non-nil contact fields and bumps activity.
func (s *Service) UpdateContact(ctx context.Context, id string, update chat.ContactUpdate) (chat.Session, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return chat.Session{}, err
	}

	changed := make([]string, 0, 4)
	if update.Name != nil {
		session.Name = strings.TrimSpace(*update.Name)
		changed = append(changed, "name")
	}
	if update.Email != nil {
		session.Email = strings.TrimSpace(*update.Email)
		changed = append(changed, "email")
	}
	if update.Phone != nil {
		session.Phone = strings.TrimSpace(*update.Phone)
		changed = append(changed, "phone")
	}
	if update.LeadID != nil {
		session.LeadID = strings.TrimSpace(*update.LeadID)
		changed = append(changed, "leadId")
	}

	now := s.now()
	session.LastActivityAt = now
	session.UpdatedAt = now
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return chat.Session{}, translate(fmt.Errorf("update session: %w", err))
	}
	s.recordEvent(ctx, session.ID, chat.EventContactUpdated, map[string][]string{"fields": changed})
	s.emit(session.ID, hub.EventSessionUpdated, session)
	return session, nil
}

// SaveMessageInput is a message as submitted over HTTP.
type SaveMessageInput struct {
	SessionID string
	Text      string
	Sender    string
	Meta      json.RawMessage
}

// relayedMessage is the realtime shape of a stored message.
type relayedMessage struct {
	ID string `json:"id"`
	hub.ChatMessage
}

// SaveMessage stores a message, bumps session activity and relays it.
func (s *Service) SaveMessage(ctx context.Context, in SaveMessageInput) (chat.Message, error) {
	in.SessionID = strings.TrimSpace(in.SessionID)
	if in.SessionID == "" {
		return chat.Message{}, ErrSessionRequired
	}
	if strings.TrimSpace(in.Text) == "" {
		return chat.Message{}, ErrTextRequired
	}
	in.Sender = strings.ToLower(strings.TrimSpace(in.Sender))
	if in.Sender == "" {
		in.Sender = chat.SenderUser
	}
	if !chat.ValidSender(in.Sender) {
		return chat.Message{}, ErrInvalidSender
	}

	message, err := s.storeMessage(ctx, in, s.now())
	if err != nil {
		return chat.Message{}, err
	}

	s.emit(message.SessionID, hub.EventChatMessage, relayedMessage{
		ID: message.ID,
		ChatMessage: hub.ChatMessage{
			SessionID: message.SessionID,
			From:      message.Sender,
			Text:      message.Text,
			Meta:      message.Meta,
			CreatedAt: message.CreatedAt,
		},
	})
	return message, nil
}

// PersistSocketMessage stores a message that the hub already delivered. It
// does not relay again.
func (s *Service) PersistSocketMessage(ctx context.Context, msg hub.ChatMessage) error {
	if !chat.ValidSender(msg.From) {
		return ErrInvalidSender
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.storeMessage(ctx, SaveMessageInput{
		SessionID: msg.SessionID,
		Text:      msg.Text,
		Sender:    msg.From,
		Meta:      msg.Meta,
	}, createdAt)
	return err
}

func (s *Service) storeMessage(ctx context.Context, in SaveMessageInput, createdAt time.Time) (chat.Message, error) {
	if _, err := s.GetSession(ctx, in.SessionID); err != nil {
		return chat.Message{}, err
	}

	message := chat.Message{
		ID:        uuid.NewString(),
		SessionID: in.SessionID,
		Sender:    in.Sender,
		Text:      in.Text,
		Meta:      in.Meta,
		CreatedAt: createdAt.UTC(),
	}
	if err := s.store.SaveMessage(ctx, message); err != nil {
		return chat.Message{}, translate(fmt.Errorf("save message: %w", err))
	}

	if err := s.store.TouchSession(ctx, message.SessionID, message.CreatedAt, s.now()); err != nil {
		log.Printf("[chat] bump activity for session=%s failed: %v", message.SessionID, err)
	}
	s.recordEvent(ctx, message.SessionID, chat.EventMessageStored, map[string]string{
		"messageId": message.ID,
		"sender":    message.Sender,
	})
	return message, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, id string) (chat.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return chat.Session{}, translate(err)
	}
	return session, nil
}

// ListSessions returns every session, most recently updated first.
func (s *Service) ListSessions(ctx context.Context) ([]chat.Session, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	return sessions, nil
}

// LoadTranscript returns a session together with its messages, oldest first.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) (chat.Session, []chat.Message, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, nil, err
	}
	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return chat.Session{}, nil, translate(fmt.Errorf("list messages: %w", err))
	}
	return session, messages, nil
}

// ListEvents returns the event timeline of a session.
func (s *Service) ListEvents(ctx context.Context, sessionID string) ([]chat.Event, error) {
	events, err := s.store.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, translate(fmt.Errorf("list events: %w", err))
	}
	return events, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) emit(sessionID, event string, payload any) {
	if s.relay == nil {
		return
	}
	s.relay.Relay(sessionID, event, payload)
}

// recordEvent failures are logged only; the timeline is best effort.
func (s *Service) recordEvent(ctx context.Context, sessionID, eventType string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("[chat] marshal %s payload failed: %v", eventType, err)
		} else {
			raw = data
		}
	}
	event := chat.Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      eventType,
		Payload:   raw,
		CreatedAt: s.now(),
	}
	if err := s.store.RecordEvent(ctx, event); err != nil {
		log.Printf("[chat] record %s for session=%s failed: %v", eventType, sessionID, err)
	}
}

func translate(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}
