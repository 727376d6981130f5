package ws

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/givebridge/messaging/internal/models"
)

// fakeMemberships is a membership directory controlled by the test
type fakeMemberships struct {
	mu      sync.Mutex
	members map[uuid.UUID]map[uuid.UUID]bool
}

func newFakeMemberships() *fakeMemberships {
	return &fakeMemberships{members: make(map[uuid.UUID]map[uuid.UUID]bool)}
}

func (f *fakeMemberships) add(conversationID, userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[conversationID] == nil {
		f.members[conversationID] = make(map[uuid.UUID]bool)
	}
	f.members[conversationID][userID] = true
}

func (f *fakeMemberships) IsParticipant(conversationID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[conversationID][userID], nil
}

// fakeDispatcher records channel-initiated sends
type fakeDispatcher struct {
	sent chan models.SendMessageRequest
	read chan uuid.UUID
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		sent: make(chan models.SendMessageRequest, 8),
		read: make(chan uuid.UUID, 8),
	}
}

func (f *fakeDispatcher) SendMessage(senderID uuid.UUID, req models.SendMessageRequest) (*models.Message, error) {
	f.sent <- req
	return &models.Message{ID: uuid.New(), SenderID: senderID}, nil
}

func (f *fakeDispatcher) MarkMessageRead(readerID, messageID uuid.UUID) (*models.Message, error) {
	f.read <- messageID
	return &models.Message{ID: messageID}, nil
}

// setupHubServer starts a hub behind an httptest server. The test
// middleware authenticates via a ?uid= query parameter.
func setupHubServer(t *testing.T, memberships Memberships) (*httptest.Server, *Hub) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	hub := NewHub(memberships)
	go hub.Run()

	router.GET("/ws", func(c *gin.Context) {
		userID, err := uuid.Parse(c.Query("uid"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set("userID", userID)
		hub.HandleWebSocket(c)
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, hub
}

func dialHub(t *testing.T, server *httptest.Server, userID uuid.UUID) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?uid=" + userID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// awaitEvent reads frames until it finds an event of the wanted type.
// Frames can batch several events separated by newlines.
func awaitEvent(t *testing.T, conn *websocket.Conn, eventType string) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)

	for time.Now().Before(deadline) {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", eventType)

		for _, chunk := range bytes.Split(data, []byte{'\n'}) {
			if len(chunk) == 0 {
				continue
			}
			var event Event
			require.NoError(t, json.Unmarshal(chunk, &event))
			if event.Type == eventType {
				return event
			}
		}
	}
	t.Fatalf("did not receive %s in time", eventType)
	return Event{}
}

// expectSilence asserts that no event of the given type arrives within
// the window.
func expectSilence(t *testing.T, conn *websocket.Conn, eventType string, window time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(window))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return // timed out: nothing arrived
		}
		for _, chunk := range bytes.Split(data, []byte{'\n'}) {
			if len(chunk) == 0 {
				continue
			}
			var event Event
			if json.Unmarshal(chunk, &event) == nil && event.Type == eventType {
				t.Fatalf("unexpectedly received %s", eventType)
			}
		}
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, event Event) {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestPresenceSnapshotOnConnect(t *testing.T) {
	server, _ := setupHubServer(t, newFakeMemberships())

	userID := uuid.New()
	conn := dialHub(t, server, userID)

	event := awaitEvent(t, conn, EventPresenceSnapshot)
	require.Len(t, event.Presence, 1)
	assert.Equal(t, userID, event.Presence[0].UserID)
}

func TestOnlineOfflineBroadcast(t *testing.T) {
	server, hub := setupHubServer(t, newFakeMemberships())

	userA := uuid.New()
	userB := uuid.New()

	connA := dialHub(t, server, userA)
	awaitEvent(t, connA, EventPresenceSnapshot)

	connB := dialHub(t, server, userB)
	online := awaitEvent(t, connA, EventUserOnline)
	require.NotNil(t, online.UserID)
	assert.Equal(t, userB, *online.UserID)
	assert.True(t, hub.IsOnline(userB))

	connB.Close()
	offline := awaitEvent(t, connA, EventUserOffline)
	require.NotNil(t, offline.UserID)
	assert.Equal(t, userB, *offline.UserID)
	assert.NotNil(t, offline.LastSeen)

	// Presence cleanup is visible once the unregister is processed
	assert.Eventually(t, func() bool { return !hub.IsOnline(userB) }, time.Second, 10*time.Millisecond)
}

func TestSecondDeviceDoesNotReannounce(t *testing.T) {
	server, _ := setupHubServer(t, newFakeMemberships())

	userA := uuid.New()
	userB := uuid.New()

	connA := dialHub(t, server, userA)
	awaitEvent(t, connA, EventPresenceSnapshot)

	dialHub(t, server, userB)
	awaitEvent(t, connA, EventUserOnline)

	// B's second device comes online; no second user:online for B
	dialHub(t, server, userB)
	expectSilence(t, connA, EventUserOnline, 300*time.Millisecond)
}

func TestRoomJoinGatedByMembership(t *testing.T) {
	memberships := newFakeMemberships()
	server, hub := setupHubServer(t, memberships)

	conversationID := uuid.New()
	participant := uuid.New()
	outsider := uuid.New()
	memberships.add(conversationID, participant)

	connP := dialHub(t, server, participant)
	awaitEvent(t, connP, EventPresenceSnapshot)
	connO := dialHub(t, server, outsider)
	awaitEvent(t, connO, EventPresenceSnapshot)

	// The outsider is refused
	sendEvent(t, connO, Event{Type: EventConversationJoin, ConversationID: &conversationID})
	errEvent := awaitEvent(t, connO, EventError)
	assert.Equal(t, "conversation not found", errEvent.Error)

	// The participant joins and receives room traffic
	sendEvent(t, connP, Event{Type: EventConversationJoin, ConversationID: &conversationID})
	time.Sleep(100 * time.Millisecond)

	hub.ToRoom(conversationID, Event{Type: EventMessageNew, ConversationID: &conversationID, Timestamp: time.Now()})
	awaitEvent(t, connP, EventMessageNew)

	// The outsider never does
	expectSilence(t, connO, EventMessageNew, 300*time.Millisecond)
}

func TestTypingBroadcastToRoom(t *testing.T) {
	memberships := newFakeMemberships()
	server, hub := setupHubServer(t, memberships)

	conversationID := uuid.New()
	userA := uuid.New()
	userB := uuid.New()
	memberships.add(conversationID, userA)
	memberships.add(conversationID, userB)

	connA := dialHub(t, server, userA)
	connB := dialHub(t, server, userB)
	awaitEvent(t, connA, EventPresenceSnapshot)
	awaitEvent(t, connB, EventPresenceSnapshot)

	sendEvent(t, connA, Event{Type: EventConversationJoin, ConversationID: &conversationID})
	sendEvent(t, connB, Event{Type: EventConversationJoin, ConversationID: &conversationID})
	time.Sleep(100 * time.Millisecond)

	sendEvent(t, connA, Event{Type: EventTypingStart, ConversationID: &conversationID})
	start := awaitEvent(t, connB, EventTypingStart)
	require.NotNil(t, start.UserID)
	assert.Equal(t, userA, *start.UserID)
	assert.True(t, hub.IsTyping(conversationID, userA))

	sendEvent(t, connA, Event{Type: EventTypingStop, ConversationID: &conversationID})
	stop := awaitEvent(t, connB, EventTypingStop)
	require.NotNil(t, stop.UserID)
	assert.Equal(t, userA, *stop.UserID)
	assert.False(t, hub.IsTyping(conversationID, userA))
}

func TestUnverifiedTypingDropped(t *testing.T) {
	memberships := newFakeMemberships()
	server, hub := setupHubServer(t, memberships)

	conversationID := uuid.New()
	participant := uuid.New()
	outsider := uuid.New()
	memberships.add(conversationID, participant)

	connP := dialHub(t, server, participant)
	awaitEvent(t, connP, EventPresenceSnapshot)
	connO := dialHub(t, server, outsider)
	awaitEvent(t, connO, EventPresenceSnapshot)

	sendEvent(t, connP, Event{Type: EventConversationJoin, ConversationID: &conversationID})
	time.Sleep(100 * time.Millisecond)

	// Typing from a non-participant is silently dropped, not errored
	sendEvent(t, connO, Event{Type: EventTypingStart, ConversationID: &conversationID})
	expectSilence(t, connP, EventTypingStart, 300*time.Millisecond)
	expectSilence(t, connO, EventError, 100*time.Millisecond)
	assert.False(t, hub.IsTyping(conversationID, outsider))
}

func TestDisconnectClearsTypingAndPresence(t *testing.T) {
	memberships := newFakeMemberships()
	server, hub := setupHubServer(t, memberships)

	conversationID := uuid.New()
	userA := uuid.New()
	userB := uuid.New()
	memberships.add(conversationID, userA)
	memberships.add(conversationID, userB)

	connA := dialHub(t, server, userA)
	connB := dialHub(t, server, userB)
	awaitEvent(t, connB, EventPresenceSnapshot)

	sendEvent(t, connA, Event{Type: EventConversationJoin, ConversationID: &conversationID})
	sendEvent(t, connB, Event{Type: EventConversationJoin, ConversationID: &conversationID})
	time.Sleep(100 * time.Millisecond)

	sendEvent(t, connA, Event{Type: EventTypingStart, ConversationID: &conversationID})
	awaitEvent(t, connB, EventTypingStart)

	// A drops; B learns A went offline and stopped typing
	connA.Close()
	awaitEvent(t, connB, EventUserOffline)
	awaitEvent(t, connB, EventTypingStop)

	assert.Eventually(t, func() bool {
		return !hub.IsOnline(userA) && !hub.IsTyping(conversationID, userA)
	}, time.Second, 10*time.Millisecond)
}

func TestChannelSendGoesThroughDispatcher(t *testing.T) {
	memberships := newFakeMemberships()
	server, hub := setupHubServer(t, memberships)

	dispatcher := newFakeDispatcher()
	hub.SetDispatcher(dispatcher)

	sender := uuid.New()
	recipient := uuid.New()
	conn := dialHub(t, server, sender)
	awaitEvent(t, conn, EventPresenceSnapshot)

	sendEvent(t, conn, Event{
		Type:        EventMessageNew,
		RecipientID: &recipient,
		Content:     "hello over the wire",
	})

	select {
	case req := <-dispatcher.sent:
		assert.Equal(t, recipient, req.RecipientID)
		assert.Equal(t, "hello over the wire", req.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher was not invoked")
	}
}

func TestChannelReadGoesThroughDispatcher(t *testing.T) {
	server, hub := setupHubServer(t, newFakeMemberships())

	dispatcher := newFakeDispatcher()
	hub.SetDispatcher(dispatcher)

	reader := uuid.New()
	messageID := uuid.New()
	conn := dialHub(t, server, reader)
	awaitEvent(t, conn, EventPresenceSnapshot)

	sendEvent(t, conn, Event{Type: EventMessageRead, MessageID: &messageID})

	select {
	case got := <-dispatcher.read:
		assert.Equal(t, messageID, got)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher was not invoked")
	}
}

func TestMalformedEventGetsError(t *testing.T) {
	server, _ := setupHubServer(t, newFakeMemberships())

	conn := dialHub(t, server, uuid.New())
	awaitEvent(t, conn, EventPresenceSnapshot)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errEvent := awaitEvent(t, conn, EventError)
	assert.Equal(t, "invalid event format", errEvent.Error)
}

// A connection force-dropped for a full send buffer is already out of
// the client maps when its reader's deferred unregister arrives; the
// unregister must still release presence and typing state.
func TestForceDroppedConnectionGoesOffline(t *testing.T) {
	hub := NewHub(newFakeMemberships())
	go hub.Run()

	userID := uuid.New()
	client := &Client{
		ConnID: uuid.New(),
		UserID: userID,
		hub:    hub,
		send:   make(chan []byte, 1),
		rooms:  make(map[uuid.UUID]bool),
	}
	hub.register <- client
	require.Eventually(t, func() bool { return hub.IsOnline(userID) }, time.Second, 10*time.Millisecond)

	// Saturate the buffer so the next fan-out drops the connection
	for full := false; !full; {
		select {
		case client.send <- []byte("{}"):
		default:
			full = true
		}
	}
	hub.ToUser(userID, Event{Type: EventPresenceSnapshot, Timestamp: time.Now().UTC()})

	hub.mu.Lock()
	_, stillMapped := hub.clients[userID]
	hub.mu.Unlock()
	require.False(t, stillMapped, "drop must remove the connection from the client maps")

	hub.unregister <- client
	assert.Eventually(t, func() bool { return !hub.IsOnline(userID) }, time.Second, 10*time.Millisecond)
}
