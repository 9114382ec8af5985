// -----------------------------------------------------------------------
// Last Modified: Wednesday, 8th October 2025 9:38:41 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocketHandler broadcasts job lifecycle events to connected UI
// clients.
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	serverInstanceID string // Clients use this to detect server restarts
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		serverInstanceID: uuid.New().String(),
	}

	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobCreated,
		interfaces.EventJobProgress,
		interfaces.EventJobCompleted,
		interfaces.EventPageStarted,
		interfaces.EventPageFinished,
	} {
		eventService.Subscribe(eventType, h.broadcastEvent)
	}
	return h
}

// HandleWebSocket upgrades the connection and keeps it registered until
// the client goes away.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.writeTo(conn, map[string]interface{}{
		"type":               "connected",
		"server_instance_id": h.serverInstanceID,
		"timestamp":          time.Now().UnixMilli(),
	})

	// Reads only drain control frames; clients never send data.
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	delete(h.clientMutex, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *WebSocketHandler) broadcastEvent(ctx context.Context, event interfaces.Event) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	payload := map[string]interface{}{
		"type":      string(event.Type),
		"data":      event.Payload,
		"timestamp": time.Now().UnixMilli(),
	}
	for _, conn := range conns {
		h.writeTo(conn, payload)
	}
	return nil
}

func (h *WebSocketHandler) writeTo(conn *websocket.Conn, payload interface{}) {
	h.mu.RLock()
	mutex, ok := h.clientMutex[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	mutex.Lock()
	defer mutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(payload); err != nil {
		go h.removeClient(conn)
	}
}
