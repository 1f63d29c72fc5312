package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cupsadarius/sense-pulse-sub000/internal/broker"
	"github.com/cupsadarius/sense-pulse-sub000/internal/types"
)

// writeTimeout bounds a single push to a connected client; a client that
// can't keep up gets dropped rather than backing up the hub.
const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub re-publishes broker data:{source_id} notifications to every
// connected WebSocket client, giving the gateway's one named but
// out-of-core-scope push path (spec §4.10) a real, exercised home for
// gorilla/websocket.
type Hub struct {
	br broker.Interface

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub builds an empty Hub bound to the given broker.
func NewHub(br broker.Interface) *Hub {
	return &Hub{br: br, clients: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// connection until it errors or closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: websocket upgrade: %v", err)
		return
	}
	h.register(conn)
	defer h.unregister(conn)

	// The hub only ever pushes; drain and discard anything the client
	// sends so ReadMessage's pong-handling keeps the connection alive.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

type dataEvent struct {
	SourceID  string  `json:"source_id"`
	Timestamp float64 `json:"timestamp"`
}

// Broadcast sends a data notification to every connected client, dropping
// any client whose write fails or times out.
func (h *Hub) Broadcast(evt dataEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.unregister(conn)
		}
	}
}

// Pump subscribes to data:{source_id} for each id in sourceIDs (no other
// channels are discovered or subscribed) and broadcasts each notification to connected WebSocket clients until
// ctx is canceled.
func (h *Hub) Pump(ctx context.Context, sourceIDs []string) {
	for _, sourceID := range sourceIDs {
		go h.pumpOne(ctx, sourceID)
	}
}

func (h *Hub) pumpOne(ctx context.Context, sourceID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		notifications, cancel, err := h.br.SubscribeData(ctx, sourceID)
		if err != nil {
			log.Printf("gateway: subscribe data:%s: %v", sourceID, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		h.drainOne(ctx, sourceID, notifications, cancel)
		if ctx.Err() != nil {
			return
		}
	}
}

func (h *Hub) drainOne(ctx context.Context, sourceID string, notifications <-chan types.DataNotification, cancel func()) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifications:
			if !ok {
				return
			}
			h.Broadcast(dataEvent{SourceID: sourceID, Timestamp: notif.Timestamp})
		}
	}
}
