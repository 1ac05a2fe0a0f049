package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"covertext/internal/auth"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// WebSocketMessage represents a message sent through WebSocket
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	AgencyID  string      `json:"agency_id,omitempty"`
}

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	conn     *websocket.Conn
	agencyID string
	send     chan WebSocketMessage
	hub      *WebSocketHub
}

// WebSocketHub manages all WebSocket connections
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan WebSocketMessage
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	mu         sync.RWMutex
}

// WebSocketHandler handles WebSocket connections and implements the
// webhook.EventNotifier interface so inbound processing can push
// real-time events to the agency's connected agents.
type WebSocketHandler struct {
	hub         *WebSocketHub
	authService *auth.Service
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(authService *auth.Service) *WebSocketHandler {
	hub := &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan WebSocketMessage),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
	}

	go hub.run()
	return &WebSocketHandler{
		hub:         hub,
		authService: authService,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		// In production, check against allowed origins
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HandleWebSocket handles WebSocket connection upgrades. Browsers cannot set
// the Authorization header on the upgrade request, so the token arrives as a
// query parameter and is validated here.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization token")
	}

	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return err
	}

	client := &WebSocketClient{
		conn:     conn,
		agencyID: claims.AgencyID.String(),
		send:     make(chan WebSocketMessage, 256),
		hub:      h.hub,
	}

	h.hub.register <- client
	log.Info().
		Str("agency_id", client.agencyID).
		Int("connected", h.ConnectedClients()).
		Msg("websocket client connected")

	go client.writePump()
	go client.readPump()

	return nil
}

// BroadcastAgencyEvent broadcasts an event to all clients of one agency.
func (h *WebSocketHandler) BroadcastAgencyEvent(agencyID, eventType string, data interface{}) {
	h.hub.broadcast <- WebSocketMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		AgencyID:  agencyID,
	}
}

// ConnectedClients returns the number of connected clients.
func (h *WebSocketHandler) ConnectedClients() int {
	h.hub.mu.RLock()
	defer h.hub.mu.RUnlock()
	return len(h.hub.clients)
}

func (hub *WebSocketHub) run() {
	for {
		select {
		case client := <-hub.register:
			hub.mu.Lock()
			hub.clients[client] = true
			hub.mu.Unlock()

			welcome := WebSocketMessage{
				Type:      "connection",
				Data:      map[string]string{"status": "connected"},
				Timestamp: time.Now(),
			}
			select {
			case client.send <- welcome:
			default:
				hub.evict(client)
			}

		case client := <-hub.unregister:
			hub.evict(client)
			log.Debug().Str("agency_id", client.agencyID).Msg("websocket client disconnected")

		case message := <-hub.broadcast:
			// Eviction mutates the client map, so slow clients are
			// collected under the read lock and dropped after it.
			var slow []*WebSocketClient
			hub.mu.RLock()
			for client := range hub.clients {
				if message.AgencyID != "" && client.agencyID != message.AgencyID {
					continue
				}
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}
			hub.mu.RUnlock()

			for _, client := range slow {
				hub.evict(client)
			}
		}
	}
}

func (hub *WebSocketHub) evict(client *WebSocketClient) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.clients[client]; ok {
		delete(hub.clients, client)
		close(client.send)
	}
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	// 30s read deadline against 20s pings.
	c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(message, &msg); err == nil && msg.Type == "ping" {
			pong := WebSocketMessage{
				Type:      "pong",
				Data:      map[string]string{"status": "ok"},
				Timestamp: time.Now(),
			}
			select {
			case c.send <- pong:
			default:
				return
			}
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(20 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				log.Debug().Err(err).Msg("websocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
