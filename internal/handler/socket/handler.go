package socket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cingulado/alade-chat/backend/internal/hub"
)

const (
	writeTimeout = 10 * time.Second
	maxFrameSize = 64 << 10
)

// Hub is the subset of *hub.Hub the transport drives.
type Hub interface {
	Connect(id string, role hub.Role, out hub.Sender) bool
	Disconnect(id string)
	Dispatch(id, event string, data json.RawMessage)
}

// Config tunes keepalive and buffering.
type Config struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	SendBuffer   int
	CheckOrigin  func(r *http.Request) bool
}

// Handler upgrades HTTP requests into hub connections.
type Handler struct {
	hub      Hub
	cfg      Config
	upgrader websocket.Upgrader
}

// New creates a websocket handler bound to h.
func New(h Hub, cfg Config) *Handler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 54 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Handler{
		hub: h,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the socket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/socket", h.handleWebSocket)
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// client is the hub.Sender of one socket. Frames queue in send and are
// written by writeLoop, the only goroutine that writes to conn.
type client struct {
	id        string
	conn      *websocket.Conn
	send      chan hub.Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, buffer int) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan hub.Frame, buffer),
		done: make(chan struct{}),
	}
}

// Send never blocks. A full queue or a closed client drops the frame.
func (c *client) Send(f hub.Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- f:
		return true
	default:
		log.Printf("[socket] send queue full, dropping %s for id=%s", f.Event, c.id)
		return false
	}
}

// Close asks writeLoop to close the connection.
func (c *client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	role := hub.ParseRole(r.URL.Query().Get("role"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[socket] upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	c := newClient(id, conn, h.cfg.SendBuffer)
	if !h.hub.Connect(id, role, c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "hub unavailable"),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}

	go h.writeLoop(c)
	defer func() {
		c.Close()
		h.hub.Disconnect(id)
	}()

	h.readLoop(c)
}

func (h *Handler) readLoop(c *client) {
	conn := c.conn
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[socket] read error id=%s: %v", c.id, err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			log.Printf("[socket] malformed frame from id=%s", c.id)
			continue
		}
		h.hub.Dispatch(c.id, frame.Event, frame.Data)
	}
}

func (h *Handler) writeLoop(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(f); err != nil {
				log.Printf("[socket] write %s to id=%s failed: %v", f.Event, c.id, err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
