package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/givebridge/messaging/internal/logger"
	"github.com/givebridge/messaging/internal/models"
)

var log = logger.New("ws")

// Memberships is the participant check used to gate room operations.
// Client-claimed conversation membership is never trusted; every join
// and typing event re-validates against the directory.
type Memberships interface {
	IsParticipant(conversationID, userID uuid.UUID) (bool, error)
}

// Dispatcher handles mutating events arriving over the channel. It is
// implemented by the conversation service: persistence happens there,
// and the service re-broadcasts the committed state. The client loop
// never broadcasts tentative state itself.
type Dispatcher interface {
	SendMessage(senderID uuid.UUID, req models.SendMessageRequest) (*models.Message, error)
	MarkMessageRead(readerID, messageID uuid.UUID) (*models.Message, error)
}

// Hub maintains the set of live connections, their conversation rooms,
// presence and typing state, and the fan-out primitives.
type Hub struct {
	mu          sync.Mutex
	clients     map[uuid.UUID]map[uuid.UUID]*Client // userID -> connID -> client
	rooms       map[uuid.UUID]map[*Client]bool      // conversationID -> members
	register    chan *Client
	unregister  chan *Client
	presence    *PresenceTracker
	typing      *TypingCoordinator
	memberships Memberships
	dispatcher  Dispatcher
}

// NewHub creates a hub gated by the given membership check.
func NewHub(memberships Memberships) *Hub {
	return &Hub{
		clients:     make(map[uuid.UUID]map[uuid.UUID]*Client),
		rooms:       make(map[uuid.UUID]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		presence:    NewPresenceTracker(),
		typing:      NewTypingCoordinator(),
		memberships: memberships,
	}
}

// SetDispatcher wires the conversation service in after construction;
// the service itself broadcasts through this hub.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.dispatcher = d
}

// Run processes connect and disconnect transitions. Runs as a single
// goroutine so presence and typing transitions are applied in order.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			userConns, ok := h.clients[client.UserID]
			if !ok {
				userConns = make(map[uuid.UUID]*Client)
				h.clients[client.UserID] = userConns
			}
			userConns[client.ConnID] = client
			h.mu.Unlock()

			cameOnline := h.presence.Connect(client.UserID, client.ConnID)
			log.Info("Client connected: user=%s conn=%s", client.UserID, client.ConnID)

			client.enqueue(h.marshal(Event{
				Type:      EventPresenceSnapshot,
				Presence:  h.presence.Snapshot(),
				Timestamp: time.Now().UTC(),
			}))
			if cameOnline {
				h.ToAll(Event{
					Type:      EventUserOnline,
					UserID:    uuidPtr(client.UserID),
					Timestamp: time.Now().UTC(),
				})
			}

		case client := <-h.unregister:
			h.mu.Lock()
			removed := false
			if userConns, ok := h.clients[client.UserID]; ok {
				if _, ok := userConns[client.ConnID]; ok {
					delete(userConns, client.ConnID)
					if len(userConns) == 0 {
						delete(h.clients, client.UserID)
					}
					removed = true
				}
			}
			for conversationID := range client.rooms {
				h.removeFromRoomLocked(client, conversationID)
			}
			h.mu.Unlock()

			if removed {
				client.close()
				log.Info("Client disconnected: user=%s conn=%s", client.UserID, client.ConnID)
			}

			// A force-dropped connection is already out of the maps,
			// but its presence entry is still live. Disconnect is a
			// no-op for unknown connections, so it runs either way.
			wentOffline := h.presence.Disconnect(client.UserID, client.ConnID)
			if wentOffline {
				now := time.Now().UTC()
				h.ToAll(Event{
					Type:      EventUserOffline,
					UserID:    uuidPtr(client.UserID),
					LastSeen:  &now,
					Timestamp: now,
				})
				for _, conversationID := range h.typing.DisconnectUser(client.UserID) {
					h.ToRoom(conversationID, Event{
						Type:           EventTypingStop,
						ConversationID: uuidPtr(conversationID),
						UserID:         uuidPtr(client.UserID),
						Timestamp:      now,
					})
				}
			}
		}
	}
}

// IsOnline reports whether the user has a live connection.
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	return h.presence.IsOnline(userID)
}

// IsTyping reports whether the user is composing in the conversation.
func (h *Hub) IsTyping(conversationID, userID uuid.UUID) bool {
	return h.typing.IsTyping(conversationID, userID)
}

// ToUser delivers an event to every connection of one user.
func (h *Hub) ToUser(userID uuid.UUID, event Event) {
	data := h.marshal(event)

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients[userID] {
		h.deliverLocked(client, data)
	}
}

// ToRoom delivers an event to every connection currently joined to the
// conversation's room.
func (h *Hub) ToRoom(conversationID uuid.UUID, event Event) {
	data := h.marshal(event)

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.rooms[conversationID] {
		h.deliverLocked(client, data)
	}
}

// ToAll delivers an event to every live connection.
func (h *Hub) ToAll(event Event) {
	data := h.marshal(event)

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, userConns := range h.clients {
		for _, client := range userConns {
			h.deliverLocked(client, data)
		}
	}
}

// joinRoom subscribes a client to a conversation's events after the
// membership gate has passed.
func (h *Hub) joinRoom(client *Client, conversationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[conversationID]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[conversationID] = members
	}
	members[client] = true
	client.rooms[conversationID] = true
	log.Debug("Client %s joined room %s", client.ConnID, conversationID)
}

func (h *Hub) leaveRoom(client *Client, conversationID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(client, conversationID)
}

func (h *Hub) removeFromRoomLocked(client *Client, conversationID uuid.UUID) {
	if members, ok := h.rooms[conversationID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	delete(client.rooms, conversationID)
}

func (h *Hub) inRoom(client *Client, conversationID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return client.rooms[conversationID]
}

// deliverLocked writes to a client's send buffer; a client that cannot
// keep up is dropped rather than stalling the fan-out.
func (h *Hub) deliverLocked(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		log.Warn("Send buffer full for user %s, dropping connection %s", client.UserID, client.ConnID)
		for conversationID := range client.rooms {
			h.removeFromRoomLocked(client, conversationID)
		}
		if userConns, ok := h.clients[client.UserID]; ok {
			delete(userConns, client.ConnID)
			if len(userConns) == 0 {
				delete(h.clients, client.UserID)
			}
		}
		client.close()
	}
}

func (h *Hub) marshal(event Event) []byte {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error("Failed to marshal event %s: %v", event.Type, err)
		return nil
	}
	return data
}
