package presence

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cingulado/alade-chat/backend/internal/hub"
)

// Channel is the pub/sub channel that carries every presence update.
const Channel = "chat:presence"

// Key returns the redis key holding the live agent count of a session.
func Key(sessionID string) string { return "chat:presence:" + sessionID }

// Writer is the subset of *redis.Client the mirror needs.
type Writer interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Mirror copies hub presence into redis so other processes (the CRM, a
// second hub) can read agent counts without a socket. Redis is a mirror
// only; the hub never reads it back.
type Mirror struct {
	rdb     Writer
	ttl     time.Duration
	timeout time.Duration

	queue     chan hub.AgentsOnline
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMirror starts the background writer. ttl bounds how long a count
// survives if this process dies without cleaning up.
func NewMirror(rdb Writer, ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	m := &Mirror{
		rdb:     rdb,
		ttl:     ttl,
		timeout: 3 * time.Second,
		queue:   make(chan hub.AgentsOnline, 256),
		done:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// PresenceChanged implements hub.PresenceObserver. It is called with the hub
// lock held, so it only enqueues; a full queue drops the update.
func (m *Mirror) PresenceChanged(update hub.AgentsOnline) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.queue <- update:
	default:
		log.Printf("[presence] queue full, dropping update session=%s count=%d", update.SessionID, update.Count)
	}
}

// Close drains queued updates and stops the writer.
func (m *Mirror) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for {
		select {
		case update := <-m.queue:
			m.apply(update)
		case <-m.done:
			for {
				select {
				case update := <-m.queue:
					m.apply(update)
				default:
					return
				}
			}
		}
	}
}

func (m *Mirror) apply(update hub.AgentsOnline) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	key := Key(update.SessionID)
	if update.Count > 0 {
		if err := m.rdb.Set(ctx, key, update.Count, m.ttl).Err(); err != nil {
			log.Printf("[presence] set %s failed: %v", key, err)
		}
	} else if err := m.rdb.Del(ctx, key).Err(); err != nil {
		log.Printf("[presence] del %s failed: %v", key, err)
	}

	payload, err := json.Marshal(update)
	if err != nil {
		log.Printf("[presence] marshal update failed: %v", err)
		return
	}
	if err := m.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		log.Printf("[presence] publish session=%s failed: %v", update.SessionID, err)
	}
}
