// Package hub provides connection management for observer WebSocket clients.
package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/metrics"
	"github.com/xiaot623/gogo/bridge/internal/protocol"
)

var (
	// ErrBufferFull is returned when the send buffer is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrClosed is returned when sending to an unregistered connection.
	ErrClosed = errors.New("connection closed")
)

// Connection represents a single observer connection.
type Connection struct {
	ID          string
	ConnectedAt time.Time
	Conn        *websocket.Conn
	Send        chan []byte

	limiter  *rate.Limiter
	lastSeen atomic.Int64
	mu       sync.Mutex
}

// Touch records liveness.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the last time the peer showed liveness.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Allow reports whether one more inbound message fits the rate limit.
func (c *Connection) Allow() bool {
	return c.limiter.Allow()
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Config bounds the connection set.
type Config struct {
	MaxConnections int
	SendBuffer     int
	MessageRate    float64
	MessageBurst   int
}

// Hub manages all observer connections. Delivery is best effort: a
// connection whose buffer is full is dropped without affecting the rest.
type Hub struct {
	cfg         Config
	connections map[string]*Connection
	reserved    int
	mu          sync.RWMutex

	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

// NewHub creates a new Hub.
func NewHub(cfg Config, m *metrics.Metrics, log *zap.SugaredLogger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		cfg:         cfg,
		connections: make(map[string]*Connection),
		metrics:     m,
		log:         log,
	}
}

// Reserve claims a slot for a connection about to be upgraded. It returns
// false when the ceiling is reached.
func (h *Hub) Reserve() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg.MaxConnections > 0 && len(h.connections)+h.reserved >= h.cfg.MaxConnections {
		return false
	}
	h.reserved++
	return true
}

// Release gives back a reservation that was never registered.
func (h *Hub) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reserved > 0 {
		h.reserved--
	}
}

// NewConnection wraps an upgraded socket.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	limit := rate.Inf
	if h.cfg.MessageRate > 0 {
		limit = rate.Limit(h.cfg.MessageRate)
	}
	burst := h.cfg.MessageBurst
	if burst <= 0 {
		burst = 1
	}
	conn := &Connection{
		ID:          "conn_" + uuid.New().String()[:8],
		ConnectedAt: time.Now(),
		Conn:        ws,
		Send:        make(chan []byte, h.cfg.SendBuffer),
		limiter:     rate.NewLimiter(limit, burst),
	}
	conn.Touch()
	return conn
}

// Register adds a connection, consuming a reservation if one is held.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	if h.reserved > 0 {
		h.reserved--
	}
	h.connections[conn.ID] = conn
	n := len(h.connections)
	h.mu.Unlock()

	h.metrics.SetConnections(n)
	h.log.Infow("connection registered", "connectionId", conn.ID, "connections", n)
}

// Unregister removes a connection and closes its send channel.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	current, ok := h.connections[conn.ID]
	if ok && current == conn {
		delete(h.connections, conn.ID)
		close(conn.Send)
	}
	n := len(h.connections)
	h.mu.Unlock()

	if ok {
		h.metrics.SetConnections(n)
		h.log.Infow("connection unregistered", "connectionId", conn.ID, "connections", n)
	}
}

// Broadcast encodes a lifecycle event and delivers it to every connection.
// It never blocks.
func (h *Hub) Broadcast(event domain.Event) {
	data, err := protocol.EncodeEvent(event)
	if err != nil {
		h.log.Errorw("failed to encode event", "type", event.Type, "error", err)
		return
	}
	h.BroadcastData(data)
}

// BroadcastData delivers data to every connection and returns how many
// accepted it. Connections whose buffer is full are dropped.
func (h *Hub) BroadcastData(data []byte) int {
	var slow []*Connection
	delivered := 0

	h.mu.RLock()
	for _, conn := range h.connections {
		select {
		case conn.Send <- data:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slow {
		h.log.Warnw("connection buffer full, closing", "connectionId", conn.ID)
		h.metrics.BroadcastDropped()
		h.Unregister(conn)
	}
	return delivered
}

// SendTo sends data to one connection.
func (h *Hub) SendTo(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.connections[conn.ID] != conn {
		return ErrClosed
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSON sends a JSON message to one connection.
func (h *Hub) SendJSON(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendTo(conn, data)
}

// Get returns the connection with the given id.
func (h *Hub) Get(id string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.connections[id]
	return conn, ok
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
