package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PresenceEntry is one online user in a snapshot
type PresenceEntry struct {
	UserID   uuid.UUID `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceTracker maps user identities to their live connections. It is
// keyed by (user, connection) so a user with several devices stays
// online until the last connection drops; the single online/offline
// signal is the projection over all of a user's connections.
type PresenceTracker struct {
	mu    sync.Mutex
	conns map[uuid.UUID]map[uuid.UUID]time.Time // user -> connID -> connected at
	now   func() time.Time
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		conns: make(map[uuid.UUID]map[uuid.UUID]time.Time),
		now:   time.Now,
	}
}

// Connect registers a connection and reports whether the user just came
// online (first live connection).
func (t *PresenceTracker) Connect(userID, connID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	userConns, ok := t.conns[userID]
	if !ok {
		userConns = make(map[uuid.UUID]time.Time)
		t.conns[userID] = userConns
	}
	userConns[connID] = t.now().UTC()
	return len(userConns) == 1
}

// Disconnect removes a connection and reports whether the user went
// offline (no live connections remain).
func (t *PresenceTracker) Disconnect(userID, connID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	userConns, ok := t.conns[userID]
	if !ok {
		return false
	}
	if _, ok := userConns[connID]; !ok {
		return false
	}
	delete(userConns, connID)
	if len(userConns) == 0 {
		delete(t.conns, userID)
		return true
	}
	return false
}

// IsOnline reports whether the user has at least one live connection.
func (t *PresenceTracker) IsOnline(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[userID]) > 0
}

// Snapshot lists every online user for initial sync on connect.
func (t *PresenceTracker) Snapshot() []PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]PresenceEntry, 0, len(t.conns))
	for userID, userConns := range t.conns {
		last := time.Time{}
		for _, at := range userConns {
			if at.After(last) {
				last = at
			}
		}
		entries = append(entries, PresenceEntry{UserID: userID, LastSeen: last})
	}
	return entries
}
