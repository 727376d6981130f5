package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/givebridge/messaging/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

// Client is one authenticated websocket connection.
type Client struct {
	ConnID uuid.UUID
	UserID uuid.UUID

	hub       *Hub
	socket    *websocket.Conn
	send      chan []byte
	rooms     map[uuid.UUID]bool // guarded by hub.mu
	closeOnce sync.Once
}

func newClient(hub *Hub, userID uuid.UUID, socket *websocket.Conn) *Client {
	return &Client{
		ConnID: uuid.New(),
		UserID: userID,
		hub:    hub,
		socket: socket,
		send:   make(chan []byte, 256),
		rooms:  make(map[uuid.UUID]bool),
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *Client) enqueue(data []byte) {
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn("Dropping event for slow connection %s", c.ConnID)
	}
}

// readPump consumes inbound channel events. A disconnect cancels no
// in-flight dispatch, but removes the connection from presence, typing
// and room membership before any further broadcast.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error("Error reading from connection %s: %v", c.ConnID, err)
			} else {
				log.Info("Connection %s closed: %v", c.ConnID, err)
			}
			break
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			log.Debug("Malformed event from connection %s: %v", c.ConnID, err)
			c.enqueue(c.hub.marshal(errorEvent("invalid event format")))
			continue
		}

		c.handleEvent(event)
	}
}

func (c *Client) handleEvent(event Event) {
	switch event.Type {
	case EventConversationJoin:
		if event.ConversationID == nil {
			c.enqueue(c.hub.marshal(errorEvent("conversation_id required")))
			return
		}
		ok, err := c.hub.memberships.IsParticipant(*event.ConversationID, c.UserID)
		if err != nil {
			log.Error("Membership check failed for %s: %v", c.UserID, err)
			c.enqueue(c.hub.marshal(errorEvent("join failed")))
			return
		}
		if !ok {
			c.enqueue(c.hub.marshal(errorEvent("conversation not found")))
			return
		}
		c.hub.joinRoom(c, *event.ConversationID)

	case EventConversationLeave:
		if event.ConversationID == nil {
			return
		}
		c.hub.leaveRoom(c, *event.ConversationID)

	case EventTypingStart, EventTypingStop:
		if event.ConversationID == nil {
			return
		}
		c.handleTyping(event.Type, *event.ConversationID)

	case EventMessageNew:
		c.handleSend(event)

	case EventMessageRead:
		c.handleRead(event)

	default:
		log.Debug("Unknown event type %q from connection %s", event.Type, c.ConnID)
		c.enqueue(c.hub.marshal(errorEvent("unknown event type")))
	}
}

// handleTyping applies a verified typing transition and broadcasts it
// to the conversation's room only. Unverified events are silently
// dropped, never errored.
func (c *Client) handleTyping(eventType string, conversationID uuid.UUID) {
	verified := c.hub.inRoom(c, conversationID)
	if !verified {
		ok, err := c.hub.memberships.IsParticipant(conversationID, c.UserID)
		if err != nil || !ok {
			return
		}
	}

	var transitioned bool
	if eventType == EventTypingStart {
		transitioned = c.hub.typing.Start(conversationID, c.UserID)
	} else {
		transitioned = c.hub.typing.Stop(conversationID, c.UserID)
	}
	if !transitioned {
		return
	}

	c.hub.ToRoom(conversationID, Event{
		Type:           eventType,
		ConversationID: uuidPtr(conversationID),
		UserID:         uuidPtr(c.UserID),
		Timestamp:      time.Now().UTC(),
	})
}

// handleSend funnels a channel-initiated send through the conversation
// service; the service persists first and broadcasts the committed
// message itself.
func (c *Client) handleSend(event Event) {
	if c.hub.dispatcher == nil {
		c.enqueue(c.hub.marshal(errorEvent("sending is unavailable")))
		return
	}
	if event.RecipientID == nil || event.Content == "" {
		c.enqueue(c.hub.marshal(errorEvent("recipient_id and content required")))
		return
	}

	req := models.SendMessageRequest{
		ConversationID: event.ConversationID,
		RecipientID:    *event.RecipientID,
		Content:        event.Content,
		ReplyToID:      event.ReplyToID,
	}
	if _, err := c.hub.dispatcher.SendMessage(c.UserID, req); err != nil {
		log.Debug("Channel send rejected for %s: %v", c.UserID, err)
		c.enqueue(c.hub.marshal(errorEvent("message rejected")))
	}
}

func (c *Client) handleRead(event Event) {
	if c.hub.dispatcher == nil || event.MessageID == nil {
		return
	}
	if _, err := c.hub.dispatcher.MarkMessageRead(c.UserID, *event.MessageID); err != nil {
		log.Debug("Channel read rejected for %s: %v", c.UserID, err)
	}
}

// writePump flushes the send buffer to the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.socket.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)

			// Drain queued events into the same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
