// Package realtime fans lifecycle events out to connected browser sessions.
// Events are published through redis so every API instance sees them, then
// broadcast to the websocket clients attached to this instance.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
	publishTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is the wire format delivered to subscribers.
type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub bridges redis pub/sub and local websocket connections. Delivery is
// best-effort: a slow client is dropped rather than allowed to block the rest.
type Hub struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub constructs a hub publishing on the given redis channel.
func NewHub(rdb *redis.Client, channel string, logger *zap.Logger) *Hub {
	if channel == "" {
		channel = "pqrsd:events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rdb:     rdb,
		channel: channel,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Emit publishes an event. Failures are logged and swallowed: live
// notifications must never affect the operation that triggered them.
func (h *Hub) Emit(event string, payload interface{}) {
	data, err := json.Marshal(Event{Name: event, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		h.logger.Warn("failed to encode realtime event", zap.String("event", event), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.rdb.Publish(ctx, h.channel, data).Err(); err != nil {
		h.logger.Warn("failed to publish realtime event", zap.String("event", event), zap.Error(err))
	}
}

// Run subscribes to the redis channel and broadcasts incoming events to local
// clients until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	sub := h.rdb.Subscribe(ctx, h.channel)
	defer sub.Close() //nolint:errcheck

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg, ok := <-messages:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast([]byte(msg.Payload))
		}
	}
}

// ServeWS upgrades the HTTP request and attaches the connection to the hub.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	go h.writePump(cl)
	go h.readPump(cl)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		select {
		case cl.send <- data:
		default:
			// Slow consumer: drop the connection, not the event stream.
			go h.drop(cl)
		}
	}
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, cl)
	h.mu.Unlock()
	close(cl.send)
	_ = cl.conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, cl := range clients {
		close(cl.send)
		_ = cl.conn.Close()
	}
}

// readPump discards inbound frames; the stream is one-way. It exists to
// process control frames and notice closed connections.
func (h *Hub) readPump(cl *client) {
	defer h.drop(cl)
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case data, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
