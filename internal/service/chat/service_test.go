package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cingulado/alade-chat/backend/internal/hub"
	model "github.com/cingulado/alade-chat/backend/internal/model/chat"
	chat "github.com/cingulado/alade-chat/backend/internal/service/chat"
	"github.com/cingulado/alade-chat/backend/internal/store"
)

type relayCall struct {
	sessionID string
	event     string
	payload   any
}

type fakeRelay struct {
	calls []relayCall
}

func (f *fakeRelay) Relay(sessionID, event string, payload any) {
	f.calls = append(f.calls, relayCall{sessionID, event, payload})
}

func newService(t *testing.T) (*chat.Service, *fakeRelay, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	relay := &fakeRelay{}
	return chat.NewService(st, relay), relay, st
}

func TestServiceCreateSession(t *testing.T) {
	svc, relay, _ := newService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, chat.CreateSessionInput{
		Contact:   chat.Contact{FullName: "  Ana Pérez ", Email: "ana@example.com"},
		Meta:      chat.SessionMeta{SourceURL: "https://grupoalade.com", Raw: json.RawMessage(`{"sourceUrl":"https://grupoalade.com"}`)},
		UserAgent: "Mozilla/5.0",
		IPAddress: "10.1.2.3",
	})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	if session.ID == "" {
		t.Fatal("expected generated session id")
	}
	if session.Name != "Ana Pérez" {
		t.Fatalf("unexpected name: %q", session.Name)
	}
	if session.Status != model.StatusOpen {
		t.Fatalf("unexpected status: %s", session.Status)
	}
	if session.UserAgent != "Mozilla/5.0" {
		t.Fatalf("expected header user agent fallback, got %q", session.UserAgent)
	}
	if len(relay.calls) != 1 || relay.calls[0].event != hub.EventSessionCreated {
		t.Fatalf("expected sessionCreated relay, got %+v", relay.calls)
	}

	events, err := svc.ListEvents(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListEvents err: %v", err)
	}
	if len(events) != 1 || events[0].Type != model.EventSessionOpened {
		t.Fatalf("expected session_opened event, got %+v", events)
	}
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc, _, _ := newService(t)

	if _, err := svc.GetSession(context.Background(), "missing"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServiceUpdateContact(t *testing.T) {
	svc, relay, _ := newService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, chat.CreateSessionInput{Contact: chat.Contact{Name: "Ana"}})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	phone := " +54 9 11 5555 "
	updated, err := svc.UpdateContact(ctx, session.ID, model.ContactUpdate{Phone: &phone})
	if err != nil {
		t.Fatalf("UpdateContact err: %v", err)
	}
	if updated.Phone != "+54 9 11 5555" {
		t.Fatalf("phone not trimmed: %q", updated.Phone)
	}
	if updated.Name != "Ana" {
		t.Fatalf("name should be unchanged, got %q", updated.Name)
	}
	if last := relay.calls[len(relay.calls)-1]; last.event != hub.EventSessionUpdated {
		t.Fatalf("expected sessionUpdated relay, got %s", last.event)
	}

	if _, err := svc.UpdateContact(ctx, "missing", model.ContactUpdate{Phone: &phone}); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServiceSaveMessageValidation(t *testing.T) {
	svc, relay, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   chat.SaveMessageInput
		want error
	}{
		{"missing session", chat.SaveMessageInput{Text: "hi"}, chat.ErrSessionRequired},
		{"missing text", chat.SaveMessageInput{SessionID: "s1", Text: "  "}, chat.ErrTextRequired},
		{"bad sender", chat.SaveMessageInput{SessionID: "s1", Text: "hi", Sender: "robot"}, chat.ErrInvalidSender},
		{"unknown session", chat.SaveMessageInput{SessionID: "s1", Text: "hi"}, chat.ErrSessionNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.SaveMessage(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if len(relay.calls) != 0 {
		t.Fatalf("nothing should be relayed on failure, got %+v", relay.calls)
	}
}

func TestServiceSaveMessageRelaysAfterWrite(t *testing.T) {
	svc, relay, _ := newService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, chat.CreateSessionInput{})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	relay.calls = nil

	msg, err := svc.SaveMessage(ctx, chat.SaveMessageInput{SessionID: session.ID, Text: "quiero una cotización"})
	if err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}
	if msg.Sender != model.SenderUser {
		t.Fatalf("expected default sender user, got %s", msg.Sender)
	}

	if len(relay.calls) != 1 {
		t.Fatalf("expected one relay, got %d", len(relay.calls))
	}
	call := relay.calls[0]
	if call.event != hub.EventChatMessage || call.sessionID != session.ID {
		t.Fatalf("unexpected relay: %+v", call)
	}
	attributed, ok := call.payload.(hub.Attributed)
	if !ok || attributed.Author() != model.SenderUser {
		t.Fatalf("relay payload must carry its author, got %#v", call.payload)
	}

	_, messages, err := svc.LoadTranscript(ctx, session.ID)
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != msg.ID {
		t.Fatalf("unexpected transcript: %+v", messages)
	}

	got, _ := svc.GetSession(ctx, session.ID)
	if !got.LastActivityAt.Equal(msg.CreatedAt) {
		t.Fatalf("lastActivityAt not bumped: %v vs %v", got.LastActivityAt, msg.CreatedAt)
	}
}

func TestServicePersistSocketMessageDoesNotRelay(t *testing.T) {
	svc, relay, _ := newService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, chat.CreateSessionInput{})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	relay.calls = nil

	stamped := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	err = svc.PersistSocketMessage(ctx, hub.ChatMessage{SessionID: session.ID, From: hub.FromAgent, Text: "hola", CreatedAt: stamped})
	if err != nil {
		t.Fatalf("PersistSocketMessage err: %v", err)
	}
	if len(relay.calls) != 0 {
		t.Fatalf("socket messages are already delivered, got relays %+v", relay.calls)
	}

	_, messages, _ := svc.LoadTranscript(ctx, session.ID)
	if len(messages) != 1 || !messages[0].CreatedAt.Equal(stamped) {
		t.Fatalf("expected hub timestamp to be kept, got %+v", messages)
	}

	if err := svc.PersistSocketMessage(ctx, hub.ChatMessage{SessionID: "missing", From: hub.FromUser, Text: "x"}); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

// interleavingStore runs afterSave once, right after a message is written and
// before the service bumps the session's activity.
type interleavingStore struct {
	store.Store
	afterSave func()
}

func (s *interleavingStore) SaveMessage(ctx context.Context, message model.Message) error {
	if err := s.Store.SaveMessage(ctx, message); err != nil {
		return err
	}
	if s.afterSave != nil {
		hook := s.afterSave
		s.afterSave = nil
		hook()
	}
	return nil
}

func TestServiceSaveMessageKeepsConcurrentContactUpdate(t *testing.T) {
	ctx := context.Background()
	st := &interleavingStore{Store: store.NewMemoryStore()}
	svc := chat.NewService(st, &fakeRelay{})

	session, err := svc.CreateSession(ctx, chat.CreateSessionInput{Contact: chat.Contact{Name: "old"}})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	name := "new"
	st.afterSave = func() {
		if _, err := svc.UpdateContact(ctx, session.ID, model.ContactUpdate{Name: &name}); err != nil {
			t.Fatalf("UpdateContact err: %v", err)
		}
	}

	msg, err := svc.SaveMessage(ctx, chat.SaveMessageInput{SessionID: session.ID, Text: "hola"})
	if err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	got, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.Name != "new" {
		t.Fatalf("contact update lost: name=%q", got.Name)
	}
	if got.LastActivityAt.Before(msg.CreatedAt) {
		t.Fatalf("lastActivityAt %v is behind message %v", got.LastActivityAt, msg.CreatedAt)
	}
}

func TestServicePersistSocketMessageNeverMovesActivityBack(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, chat.CreateSessionInput{})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	old := session.LastActivityAt.Add(-time.Hour)
	if err := svc.PersistSocketMessage(ctx, hub.ChatMessage{SessionID: session.ID, From: hub.FromUser, Text: "late", CreatedAt: old}); err != nil {
		t.Fatalf("PersistSocketMessage err: %v", err)
	}

	got, _ := svc.GetSession(ctx, session.ID)
	if !got.LastActivityAt.Equal(session.LastActivityAt) {
		t.Fatalf("lastActivityAt moved back to %v", got.LastActivityAt)
	}
}
