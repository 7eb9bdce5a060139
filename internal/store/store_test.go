package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cingulado/alade-chat/backend/internal/model/chat"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	b := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "chat.db"))
			require.NoError(t, err)
			return s
		},
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		b["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), url)
			require.NoError(t, err)
			return s
		}
	}
	return b
}

func sampleSession(id string, at time.Time) chat.Session {
	return chat.Session{
		ID:             id,
		Name:           "Ana",
		Email:          "ana@example.com",
		Status:         chat.StatusOpen,
		StartedAt:      at,
		LastActivityAt: at,
		SourceURL:      "https://grupoalade.com/solar",
		UserAgent:      "test-agent",
		IPAddress:      "10.0.0.1",
		Meta:           json.RawMessage(`{"screen":"1920x1080"}`),
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func TestStoreSessions(t *testing.T) {
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.CreateSession(ctx, sampleSession("s1", base)))
			require.NoError(t, s.CreateSession(ctx, sampleSession("s2", base.Add(time.Minute))))

			got, err := s.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "Ana", got.Name)
			assert.Equal(t, "https://grupoalade.com/solar", got.SourceURL)
			assert.JSONEq(t, `{"screen":"1920x1080"}`, string(got.Meta))
			assert.True(t, base.Equal(got.StartedAt))

			_, err = s.GetSession(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			got.Phone = "+54 11 5555"
			got.UpdatedAt = base.Add(time.Hour)
			got.LastActivityAt = base.Add(time.Hour)
			require.NoError(t, s.UpdateSession(ctx, got))

			list, err := s.ListSessions(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "s1", list[0].ID, "most recently updated first")
			assert.Equal(t, "+54 11 5555", list[0].Phone)

			err = s.UpdateSession(ctx, sampleSession("missing", base))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreTouchSession(t *testing.T) {
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.CreateSession(ctx, sampleSession("s1", base)))

			// a contact edit between reading and touching must survive
			edited, err := s.GetSession(ctx, "s1")
			require.NoError(t, err)
			edited.Name = "Ana María"
			require.NoError(t, s.UpdateSession(ctx, edited))

			require.NoError(t, s.TouchSession(ctx, "s1", base.Add(time.Minute), base.Add(time.Minute)))
			got, err := s.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "Ana María", got.Name)
			assert.True(t, base.Add(time.Minute).Equal(got.LastActivityAt))
			assert.True(t, base.Add(time.Minute).Equal(got.UpdatedAt))

			require.NoError(t, s.TouchSession(ctx, "s1", base, base))
			got, err = s.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, base.Add(time.Minute).Equal(got.LastActivityAt), "activity never moves back")

			assert.ErrorIs(t, s.TouchSession(ctx, "missing", base, base), ErrNotFound)
		})
	}
}

func TestStoreMessages(t *testing.T) {
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.CreateSession(ctx, sampleSession("s1", base)))

			// inserted out of order on purpose
			require.NoError(t, s.SaveMessage(ctx, chat.Message{ID: "m2", SessionID: "s1", Sender: chat.SenderAgent, Text: "hola, ¿en qué te ayudo?", CreatedAt: base.Add(2 * time.Second)}))
			require.NoError(t, s.SaveMessage(ctx, chat.Message{ID: "m1", SessionID: "s1", Sender: chat.SenderUser, Text: "hola", Meta: json.RawMessage(`{"page":"/"}`), CreatedAt: base.Add(time.Second)}))

			messages, err := s.ListMessages(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, messages, 2)
			assert.Equal(t, "m1", messages[0].ID)
			assert.Equal(t, "m2", messages[1].ID)
			assert.JSONEq(t, `{"page":"/"}`, string(messages[0].Meta))
			assert.Nil(t, messages[1].Meta)

			err = s.SaveMessage(ctx, chat.Message{ID: "m3", SessionID: "missing", Text: "x", CreatedAt: base})
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.ListMessages(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreEvents(t *testing.T) {
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.CreateSession(ctx, sampleSession("s1", base)))
			require.NoError(t, s.RecordEvent(ctx, chat.Event{ID: "e1", SessionID: "s1", Type: chat.EventSessionOpened, CreatedAt: base}))
			require.NoError(t, s.RecordEvent(ctx, chat.Event{ID: "e2", SessionID: "s1", Type: chat.EventMessageStored, Payload: json.RawMessage(`{"messageId":"m1"}`), CreatedAt: base.Add(time.Second)}))

			events, err := s.ListEvents(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, chat.EventSessionOpened, events[0].Type)
			assert.JSONEq(t, `{"messageId":"m1"}`, string(events[1].Payload))

			err = s.RecordEvent(ctx, chat.Event{ID: "e3", SessionID: "missing", Type: "x", CreatedAt: base})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestNewSQLiteStore_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "chat.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "chat.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Driver: DriverPostgres})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Driver: "mysql"})
	assert.Error(t, err)
}
