package ws

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPresenceConnectDisconnect(t *testing.T) {
	tracker := NewPresenceTracker()
	userID := uuid.New()
	connID := uuid.New()

	assert.False(t, tracker.IsOnline(userID))

	cameOnline := tracker.Connect(userID, connID)
	assert.True(t, cameOnline)
	assert.True(t, tracker.IsOnline(userID))

	wentOffline := tracker.Disconnect(userID, connID)
	assert.True(t, wentOffline)
	assert.False(t, tracker.IsOnline(userID))
}

func TestPresenceMultiDevice(t *testing.T) {
	tracker := NewPresenceTracker()
	userID := uuid.New()
	phone := uuid.New()
	laptop := uuid.New()

	// First device brings the user online
	assert.True(t, tracker.Connect(userID, phone))
	// Second device does not re-announce
	assert.False(t, tracker.Connect(userID, laptop))
	assert.True(t, tracker.IsOnline(userID))

	// Dropping one device keeps the user online
	assert.False(t, tracker.Disconnect(userID, phone))
	assert.True(t, tracker.IsOnline(userID))

	// Dropping the last device takes the user offline
	assert.True(t, tracker.Disconnect(userID, laptop))
	assert.False(t, tracker.IsOnline(userID))
}

func TestPresenceDisconnectUnknown(t *testing.T) {
	tracker := NewPresenceTracker()
	userID := uuid.New()

	// Disconnecting a connection that was never registered is a no-op
	assert.False(t, tracker.Disconnect(userID, uuid.New()))

	tracker.Connect(userID, uuid.New())
	assert.False(t, tracker.Disconnect(userID, uuid.New()))
	assert.True(t, tracker.IsOnline(userID))
}

func TestPresenceSnapshot(t *testing.T) {
	tracker := NewPresenceTracker()
	userA := uuid.New()
	userB := uuid.New()

	tracker.Connect(userA, uuid.New())
	tracker.Connect(userB, uuid.New())
	tracker.Connect(userB, uuid.New()) // second device

	snapshot := tracker.Snapshot()
	assert.Len(t, snapshot, 2)

	seen := make(map[uuid.UUID]bool)
	for _, entry := range snapshot {
		seen[entry.UserID] = true
		assert.False(t, entry.LastSeen.IsZero())
	}
	assert.True(t, seen[userA])
	assert.True(t, seen[userB])
}
