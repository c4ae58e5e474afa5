// Package hub pushes allocation events to websocket subscribers. Each
// connection joins exactly one room, a hospital or a requester.
package hub

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bloodlink/allocator/internal/notify"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config configures the hub.
type Config struct {
	SendBuffer   int           // Queued messages per connection (default: 32)
	WriteTimeout time.Duration // Deadline for one frame (default: 10s)
	PingInterval time.Duration // Keepalive ping period (default: 30s)
}

var errClosed = errors.New("hub closed")

type client struct {
	conn *websocket.Conn
	room string
	send chan []byte
}

// Hub tracks websocket subscribers by room and delivers events to them.
// A subscriber whose buffer is full misses the event.
type Hub struct {
	config   Config
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu     sync.RWMutex
	rooms  map[string]map[*client]struct{}
	closed bool

	// Stats (protected by mu)
	delivered uint64
	dropped   uint64
}

// New creates a hub.
func New(config Config, logger *zap.Logger) *Hub {
	if config.SendBuffer <= 0 {
		config.SendBuffer = 32
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With(zap.String("component", "hub")),
		rooms:  make(map[string]map[*client]struct{}),
	}
}

var _ notify.Sink = (*Hub)(nil)

// Deliver sends ev to every subscriber of its room. It never waits on a
// slow connection.
func (h *Hub) Deliver(_ context.Context, ev notify.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errClosed
	}

	for c := range h.rooms[ev.Room()] {
		select {
		case c.send <- payload:
			h.delivered++
		default:
			h.dropped++
			h.logger.Warn("subscriber too slow, dropping event",
				zap.String("room", c.room),
				zap.String("kind", string(ev.Kind)),
				zap.String("request_id", ev.RequestID),
			)
		}
	}
	return nil
}

// ServeWS upgrades the request and subscribes it to the room named by the
// hospital_id or requester_id query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var room string
	switch q := r.URL.Query(); {
	case q.Get("hospital_id") != "":
		room = notify.HospitalRoom(q.Get("hospital_id"))
	case q.Get("requester_id") != "":
		room = notify.RequesterRoom(q.Get("requester_id"))
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "hospital_id or requester_id is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("room", room), zap.Error(err))
		return
	}

	c := &client{conn: conn, room: room, send: make(chan []byte, h.config.SendBuffer)}
	if !h.register(c) {
		_ = conn.Close()
		return
	}

	h.logger.Info("websocket subscribed", zap.String("room", room))
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	members := h.rooms[c.room]
	if members == nil {
		members = make(map[*client]struct{})
		h.rooms[c.room] = members
	}
	members[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}
	close(c.send)
}

// readPump discards inbound frames and unregisters on disconnect.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
		h.logger.Info("websocket unsubscribed", zap.String("room", c.room))
	}()

	c.conn.SetReadLimit(512)
	readWait := 2 * h.config.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Subscribers returns the number of connections in room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Stats returns delivery counters.
func (h *Hub) Stats() (rooms int, delivered, dropped uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), h.delivered, h.dropped
}

// Close disconnects every subscriber. Further deliveries fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for room, members := range h.rooms {
		for c := range members {
			close(c.send)
		}
		delete(h.rooms, room)
	}
	return nil
}
