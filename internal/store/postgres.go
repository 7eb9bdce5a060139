package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cingulado/alade-chat/backend/internal/model/chat"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL, verifies the connection and
// ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Printf("[store] postgres store initialized")
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'open',
			started_at TIMESTAMPTZ NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL,
			source_url TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			screen TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			meta_json TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chat_messages (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			sender TEXT NOT NULL DEFAULT 'user',
			text TEXT NOT NULL,
			meta_json TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at);

		CREATE TABLE IF NOT EXISTS chat_events (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			type TEXT NOT NULL DEFAULT 'system',
			payload TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_events_session ON chat_events(session_id, created_at);
	`)
	return err
}

const pgSessionColumns = `id, lead_id, name, email, phone, status, started_at, last_activity_at,
	source_url, user_agent, language, screen, fingerprint, ip_address, meta_json, created_at, updated_at`

func (s *PostgresStore) CreateSession(ctx context.Context, session chat.Session) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO chat_sessions (`+pgSessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		session.ID, session.LeadID, session.Name, session.Email, session.Phone, session.Status,
		session.StartedAt.UTC(), session.LastActivityAt.UTC(),
		session.SourceURL, session.UserAgent, session.Language, session.Screen, session.Fingerprint,
		session.IPAddress, nullableJSON(session.Meta), session.CreatedAt.UTC(), session.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (chat.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgSessionColumns+` FROM chat_sessions WHERE id = $1`, id)
	session, err := scanPgSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("querying session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, session chat.Session) error {
	tag, err := s.pool.Exec(ctx, `UPDATE chat_sessions SET
			lead_id = $1, name = $2, email = $3, phone = $4, status = $5, last_activity_at = $6, meta_json = $7, updated_at = $8
		WHERE id = $9`,
		session.LeadID, session.Name, session.Email, session.Phone, session.Status,
		session.LastActivityAt.UTC(), nullableJSON(session.Meta), session.UpdatedAt.UTC(), session.ID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TouchSession(ctx context.Context, id string, lastActivityAt, updatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE chat_sessions SET
			last_activity_at = GREATEST(last_activity_at, $1), updated_at = GREATEST(updated_at, $2)
		WHERE id = $3`,
		lastActivityAt.UTC(), updatedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]chat.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgSessionColumns+` FROM chat_sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []chat.Session
	for rows.Next() {
		session, err := scanPgSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) SaveMessage(ctx context.Context, message chat.Message) error {
	if err := s.requireSession(ctx, message.SessionID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO chat_messages (id, session_id, sender, text, meta_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		message.ID, message.SessionID, message.Sender, message.Text, nullableJSON(message.Meta), message.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT id, session_id, sender, text, meta_json, created_at
		FROM chat_messages WHERE session_id = $1 ORDER BY created_at ASC, seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0)
	for rows.Next() {
		var (
			m    chat.Message
			meta sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Text, &meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Meta = rawJSON(meta)
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) RecordEvent(ctx context.Context, event chat.Event) error {
	if err := s.requireSession(ctx, event.SessionID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO chat_events (id, session_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.SessionID, event.Type, nullableJSON(event.Payload), event.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, sessionID string) ([]chat.Event, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT id, session_id, type, payload, created_at
		FROM chat_events WHERE session_id = $1 ORDER BY created_at ASC, seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := make([]chat.Event, 0)
	for rows.Next() {
		var (
			e       chat.Event
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Payload = rawJSON(payload)
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) requireSession(ctx context.Context, id string) error {
	var exists int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM chat_sessions WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	return nil
}

func scanPgSession(row pgx.Row) (chat.Session, error) {
	var (
		session chat.Session
		meta    sql.NullString
	)
	err := row.Scan(&session.ID, &session.LeadID, &session.Name, &session.Email, &session.Phone, &session.Status,
		&session.StartedAt, &session.LastActivityAt, &session.SourceURL, &session.UserAgent, &session.Language,
		&session.Screen, &session.Fingerprint, &session.IPAddress, &meta, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return chat.Session{}, err
	}
	session.Meta = rawJSON(meta)
	session.StartedAt = session.StartedAt.UTC()
	session.LastActivityAt = session.LastActivityAt.UTC()
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	return session, nil
}
