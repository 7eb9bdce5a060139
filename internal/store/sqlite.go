package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cingulado/alade-chat/backend/internal/model/chat"
)

// timeLayout is fixed-width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer avoids SQLITE_BUSY under concurrent handlers
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Printf("[store] sqlite store initialized path=%s", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'open',
			started_at TEXT NOT NULL,
			last_activity_at TEXT NOT NULL,
			source_url TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			screen TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			meta_json TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			sender TEXT NOT NULL DEFAULT 'user',
			text TEXT NOT NULL,
			meta_json TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at);

		CREATE TABLE IF NOT EXISTS chat_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			type TEXT NOT NULL DEFAULT 'system',
			payload TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_events_session ON chat_events(session_id, created_at);
	`)
	return err
}

const sqliteSessionColumns = `id, lead_id, name, email, phone, status, started_at, last_activity_at,
	source_url, user_agent, language, screen, fingerprint, ip_address, meta_json, created_at, updated_at`

func (s *SQLiteStore) CreateSession(ctx context.Context, session chat.Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO chat_sessions (`+sqliteSessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.LeadID, session.Name, session.Email, session.Phone, session.Status,
		formatTime(session.StartedAt), formatTime(session.LastActivityAt),
		session.SourceURL, session.UserAgent, session.Language, session.Screen, session.Fingerprint,
		session.IPAddress, nullableJSON(session.Meta), formatTime(session.CreatedAt), formatTime(session.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (chat.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteSessionColumns+` FROM chat_sessions WHERE id = ?`, id)
	session, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("querying session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session chat.Session) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET
			lead_id = ?, name = ?, email = ?, phone = ?, status = ?, last_activity_at = ?, meta_json = ?, updated_at = ?
		WHERE id = ?`,
		session.LeadID, session.Name, session.Email, session.Phone, session.Status,
		formatTime(session.LastActivityAt), nullableJSON(session.Meta), formatTime(session.UpdatedAt), session.ID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) TouchSession(ctx context.Context, id string, lastActivityAt, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET
			last_activity_at = MAX(last_activity_at, ?), updated_at = MAX(updated_at, ?)
		WHERE id = ?`,
		formatTime(lastActivityAt), formatTime(updatedAt), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteSessionColumns+` FROM chat_sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []chat.Session
	for rows.Next() {
		session, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, message chat.Message) error {
	if err := s.requireSession(ctx, message.SessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO chat_messages (id, session_id, sender, text, meta_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		message.ID, message.SessionID, message.Sender, message.Text, nullableJSON(message.Meta), formatTime(message.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, sender, text, meta_json, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0)
	for rows.Next() {
		var (
			m         chat.Message
			meta      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Text, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Meta = rawJSON(meta)
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, event chat.Event) error {
	if err := s.requireSession(ctx, event.SessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO chat_events (id, session_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.SessionID, event.Type, nullableJSON(event.Payload), formatTime(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string) ([]chat.Event, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, type, payload, created_at
		FROM chat_events WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := make([]chat.Event, 0)
	for rows.Next() {
		var (
			e         chat.Event
			payload   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Payload = rawJSON(payload)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) requireSession(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chat_sessions WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (chat.Session, error) {
	var (
		session                                    chat.Session
		meta                                       sql.NullString
		startedAt, lastActivity, created, updated string
	)
	err := row.Scan(&session.ID, &session.LeadID, &session.Name, &session.Email, &session.Phone, &session.Status,
		&startedAt, &lastActivity, &session.SourceURL, &session.UserAgent, &session.Language, &session.Screen,
		&session.Fingerprint, &session.IPAddress, &meta, &created, &updated)
	if err != nil {
		return chat.Session{}, err
	}
	session.Meta = rawJSON(meta)
	for _, f := range []struct {
		raw string
		dst *time.Time
	}{
		{startedAt, &session.StartedAt},
		{lastActivity, &session.LastActivityAt},
		{created, &session.CreatedAt},
		{updated, &session.UpdatedAt},
	} {
		if *f.dst, err = parseTime(f.raw); err != nil {
			return chat.Session{}, err
		}
	}
	return session, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", raw, err)
	}
	return t, nil
}

func nullableJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}
