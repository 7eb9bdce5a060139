package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cingulado/alade-chat/backend/internal/model/chat"
)

// MemoryStore keeps everything in process memory. Data is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	events   map[string][]chat.Event
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		events:   make(map[string][]chat.Event),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, ErrNotFound
	}
	return session, nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *MemoryStore) TouchSession(_ context.Context, id string, lastActivityAt, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if lastActivityAt.After(session.LastActivityAt) {
		session.LastActivityAt = lastActivityAt
	}
	if updatedAt.After(session.UpdatedAt) {
		session.UpdatedAt = updatedAt
	}
	s.sessions[id] = session
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]chat.Session, error) {
	s.mu.RLock()
	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, message chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[message.SessionID]; !ok {
		return ErrNotFound
	}
	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].CreatedAt.Before(copied[j].CreatedAt)
	})
	return copied, nil
}

func (s *MemoryStore) RecordEvent(_ context.Context, event chat.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[event.SessionID]; !ok {
		return ErrNotFound
	}
	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, sessionID string) ([]chat.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	events := s.events[sessionID]
	copied := make([]chat.Event, len(events))
	copy(copied, events)
	return copied, nil
}

func (s *MemoryStore) Close() error { return nil }
