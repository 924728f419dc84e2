package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	subscriberBuffer = 100
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
)

// Hub fans events out to websocket subscribers. Delivery is fire and
// forget: a subscriber whose buffer is full loses the event, it never
// backpressures the run that produced it.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

type subscriber struct {
	conn *websocket.Conn
	send chan Event
	// runID filters delivery to one run; empty receives everything.
	runID string

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger.Named("event_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Emit implements Emitter by broadcasting to every interested subscriber.
func (h *Hub) Emit(evt Event) {
	evt = Stamp(evt)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		if sub.runID != "" && sub.runID != evt.RunID {
			continue
		}
		select {
		case sub.send <- evt:
		default:
			h.logger.Debug("Subscriber buffer full, dropping event.",
				zap.String("status", evt.Status))
		}
	}
}

// SubscriberCount returns the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HandleWebSocket upgrades the request and streams events until the client
// disconnects. The optional run query parameter filters to a single run.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed.", zap.Error(err))
		return
	}

	sub := &subscriber{
		conn:  conn,
		send:  make(chan Event, subscriberBuffer),
		runID: r.URL.Query().Get("run"),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("WebSocket client connected.",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("run_filter", sub.runID))

	go sub.writePump()
	go h.readPump(sub)
}

// Shutdown disconnects every subscriber and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subscribers = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (h *Hub) removeSubscriber(sub *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	h.mu.Unlock()
	sub.close()
}

// readPump drains client messages; clients only talk to keep the
// connection alive, so anything unreadable ends the subscription.
func (h *Hub) readPump(sub *subscriber) {
	defer h.removeSubscriber(sub)

	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket read error.", zap.Error(err))
			}
			return
		}
	}
}

func (sub *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.close()
	}()

	for {
		select {
		case evt := <-sub.send:
			sub.writeMu.Lock()
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := sub.conn.WriteJSON(evt)
			sub.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-ticker.C:
			sub.writeMu.Lock()
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := sub.conn.WriteMessage(websocket.PingMessage, nil)
			sub.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}

func (sub *subscriber) close() {
	sub.once.Do(func() {
		close(sub.done)
		_ = sub.conn.Close()
	})
}
