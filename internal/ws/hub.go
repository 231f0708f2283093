package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Server to client event types.
const (
	EventNewOrder           = "new_order"
	EventAlertSound         = "alert_sound"
	EventSystemNotification = "system_notification"
	EventAlertCleared       = "alert_cleared"
	EventReload             = "reload"
	EventToast              = "toast"
)

// Client to server message types.
const (
	MessageVisibility             = "visibility"
	MessageNotificationPermission = "notification_permission"
)

// Event represents a WebSocket message in either direction.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event of the given type.
func NewEvent(eventType string, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: eventType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{Type: eventType, Payload: data}, nil
}

// routedEvent is an internal struct for routing events to rooms or clients.
// A zero SessionID with all unset targets the room of clients that did not
// attach to a session.
type routedEvent struct {
	SessionID uuid.UUID
	All       bool
	Client    *Client
	Event     Event
}

// Hub maintains the set of active console connections. Connections are
// grouped in rooms keyed by the edit session they are attached to.
type Hub struct {
	// Registered clients by session ID
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// Outbound messages to deliver
	broadcast chan *routedEvent

	done chan struct{}

	onConnect    func(*Client)
	onMessage    func(*Client, Event)
	onDisconnect func(*Client)

	log logrus.FieldLogger

	// Mutex for thread-safe room access
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *routedEvent, 256),
		done:       make(chan struct{}),
		log:        log.WithField("component", "ws_hub"),
	}
}

// OnConnect registers fn to run after a client joins. Set before Run.
func (h *Hub) OnConnect(fn func(*Client)) { h.onConnect = fn }

// OnMessage registers fn to receive client messages. Set before Run.
func (h *Hub) OnMessage(fn func(*Client, Event)) { h.onMessage = fn }

// OnDisconnect registers fn to run after a client left. Set before Run.
func (h *Hub) OnDisconnect(fn func(*Client)) { h.onDisconnect = fn }

// Run starts the hub's main loop and returns when ctx is done, closing every
// connection. Call it as a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for sid, clients := range h.rooms {
				for client := range clients {
					close(client.send)
				}
				delete(h.rooms, sid)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.sessionID] == nil {
				h.rooms[client.sessionID] = make(map[*Client]bool)
			}
			h.rooms[client.sessionID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			// Marshal event to JSON once
			message, err := json.Marshal(event.Event)
			if err != nil {
				h.log.WithError(err).WithField("type", event.Event.Type).Warn("drop unencodable event")
				continue
			}

			h.mu.Lock()
			for _, client := range h.targetsLocked(event) {
				select {
				case client.send <- message:
				default:
					// Client's send buffer is full, close and unregister
					h.log.WithField("client_id", client.id).Warn("client too slow, disconnecting")
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// removeLocked must be called with h.mu held.
func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.rooms[client.sessionID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	// Clean up empty rooms
	if len(clients) == 0 {
		delete(h.rooms, client.sessionID)
	}
}

func (h *Hub) targetsLocked(event *routedEvent) []*Client {
	var out []*Client
	switch {
	case event.Client != nil:
		if h.rooms[event.Client.sessionID][event.Client] {
			out = append(out, event.Client)
		}
	case event.All:
		for _, clients := range h.rooms {
			for client := range clients {
				out = append(out, client)
			}
		}
	default:
		for client := range h.rooms[event.SessionID] {
			out = append(out, client)
		}
	}
	return out
}

func (h *Hub) enqueue(e *routedEvent) {
	select {
	case h.broadcast <- e:
	case <-h.done:
	}
}

// BroadcastAll sends an event to every connected client.
func (h *Hub) BroadcastAll(event Event) {
	h.enqueue(&routedEvent{All: true, Event: event})
}

// BroadcastToSession sends an event to the clients attached to one session.
func (h *Hub) BroadcastToSession(sessionID uuid.UUID, event Event) {
	h.enqueue(&routedEvent{SessionID: sessionID, Event: event})
}

// SendTo sends an event to a single client if it is still connected.
func (h *Hub) SendTo(client *Client, event Event) {
	h.enqueue(&routedEvent{Client: client, Event: event})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.rooms {
		n += len(clients)
	}
	return n
}
