package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"speech-preroll/internal/preroll"
)

const (
	writeWait = 2 * time.Second
	queueSize = 32
)

// subscriber owns one monitor connection. Only its writer goroutine writes
// to conn; send is closed when the subscriber is removed.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes preroll events to every connected monitor websocket. Broadcast
// only enqueues, so a stalled monitor never blocks the store's caller.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu          sync.Mutex // guards subscribers
	subscribers map[*websocket.Conn]*subscriber
}

func NewHub(upgrader websocket.Upgrader, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader:    upgrader,
		logger:      logger,
		subscribers: make(map[*websocket.Conn]*subscriber),
	}
}

func (h *Hub) Subscribe(conn *websocket.Conn) {
	sub := &subscriber{conn: conn, send: make(chan []byte, queueSize)}
	h.mu.Lock()
	h.subscribers[conn] = sub
	total := len(h.subscribers)
	h.mu.Unlock()

	go h.writeLoop(sub)
	h.logger.Debug("event subscriber added", zap.Int("total", total))
}

func (h *Hub) Unsubscribe(conn *websocket.Conn) {
	h.mu.Lock()
	sub, ok := h.subscribers[conn]
	if ok {
		delete(h.subscribers, conn)
		close(sub.send)
	}
	total := len(h.subscribers)
	h.mu.Unlock()

	if ok {
		conn.Close()
		h.logger.Debug("event subscriber removed", zap.Int("total", total))
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Handle implements preroll.Sink.
func (h *Hub) Handle(e preroll.Event) {
	if h == nil {
		return
	}
	h.Broadcast(e)
}

// Broadcast queues v as JSON for every subscriber. A subscriber whose queue
// is full misses the message.
func (h *Hub) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("marshal event failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subscribers {
		select {
		case sub.send <- data:
		default:
			h.logger.Warn("event subscriber queue full, dropping message")
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	for data := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("event send failed", zap.Error(err))
			h.Unsubscribe(sub.conn)
			return
		}
	}
}

// ServeHTTP upgrades a monitor connection and keeps it subscribed until the
// peer goes away. Anything the peer sends is ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("event websocket upgrade failed", zap.Error(err))
		return
	}
	h.Subscribe(conn)
	defer h.Unsubscribe(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
