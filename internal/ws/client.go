package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kiwari-pos/console/internal/auth"
	"github.com/kiwari-pos/console/internal/enum"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (we validate via JWT)
	},
}

// Client represents a single console WebSocket connection
type Client struct {
	id        uuid.UUID
	hub       *Hub
	conn      *websocket.Conn
	sessionID uuid.UUID
	userID    uuid.UUID
	send      chan []byte
}

func (c *Client) ID() uuid.UUID { return c.id }

// SessionID is the edit session the client follows, or uuid.Nil.
func (c *Client) SessionID() uuid.UUID { return c.sessionID }

func (c *Client) UserID() uuid.UUID { return c.userID }

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub.
// The console sends visibility and notification permission updates.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
		if c.hub.onDisconnect != nil {
			c.hub.onDisconnect(c)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).WithField("client_id", c.id).Warn("websocket error")
			}
			break
		}

		var msg Event
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.hub.log.WithField("client_id", c.id).Debug("ignore malformed client message")
			continue
		}
		if c.hub.onMessage != nil {
			c.hub.onMessage(c, msg)
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
// The application runs WritePump in a per-connection goroutine
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS handles WebSocket requests from console views
// Endpoint: WS /ws/console?token=JWT&session=SESSION_ID
func ServeWS(hub *Hub, jwtSecret string, w http.ResponseWriter, r *http.Request) {
	// 1. Extract token from query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	// 2. Validate JWT
	claims, err := auth.ValidateToken(jwtSecret, tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// 3. Only console users may listen
	if claims.Role != enum.RoleOwner && claims.Role != enum.RoleAdmin {
		http.Error(w, "console access denied", http.StatusForbidden)
		return
	}

	// 4. Optional edit session to follow
	sessionID := uuid.Nil
	if sid := r.URL.Query().Get("session"); sid != "" {
		sessionID, err = uuid.Parse(sid)
		if err != nil {
			http.Error(w, "invalid session id", http.StatusBadRequest)
			return
		}
	}

	// 5. Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.WithError(err).Warn("websocket upgrade error")
		return
	}

	// 6. Create client and register with hub
	client := &Client{
		id:        uuid.New(),
		hub:       hub,
		conn:      conn,
		sessionID: sessionID,
		userID:    claims.UserID,
		send:      make(chan []byte, 256),
	}
	if !hub.join(client) {
		conn.Close()
		return
	}
	if hub.onConnect != nil {
		hub.onConnect(client)
	}

	// 7. Start pumps in separate goroutines
	go client.WritePump()
	go client.ReadPump()
}
