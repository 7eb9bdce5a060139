package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cingulado/alade-chat/backend/internal/model/chat"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Store persists sessions, messages and session events. Callers assign ids
// and timestamps; implementations store what they are given.
type Store interface {
	CreateSession(ctx context.Context, session chat.Session) error
	GetSession(ctx context.Context, id string) (chat.Session, error)
	UpdateSession(ctx context.Context, session chat.Session) error
	// TouchSession moves only the activity timestamps forward, leaving every
	// other column as it is.
	TouchSession(ctx context.Context, id string, lastActivityAt, updatedAt time.Time) error
	// ListSessions returns sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]chat.Session, error)

	SaveMessage(ctx context.Context, message chat.Message) error
	// ListMessages returns a session's messages, oldest first.
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)

	RecordEvent(ctx context.Context, event chat.Event) error
	ListEvents(ctx context.Context, sessionID string) ([]chat.Event, error)

	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Driver string
	Path   string // sqlite file
	URL    string // postgres DSN
}

// Open builds the Store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(opts.Path)
	case DriverPostgres:
		return NewPostgresStore(ctx, opts.URL)
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
}
