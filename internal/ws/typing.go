package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TypingTTL is the staleness bound for typing entries. Clients are
// expected to re-send typing:start while composing; entries older than
// this are treated as stopped even without an explicit stop.
const TypingTTL = 10 * time.Second

// TypingCoordinator tracks, per conversation, which users are currently
// composing a message. State is process-local and best-effort.
type TypingCoordinator struct {
	mu     sync.Mutex
	typing map[uuid.UUID]map[uuid.UUID]time.Time // conversation -> user -> started at
	now    func() time.Time
}

func NewTypingCoordinator() *TypingCoordinator {
	return &TypingCoordinator{
		typing: make(map[uuid.UUID]map[uuid.UUID]time.Time),
		now:    time.Now,
	}
}

// Start records the user as typing and reports whether this is an
// idle-to-typing transition (re-sent starts refresh the entry without
// a new transition).
func (t *TypingCoordinator) Start(conversationID, userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.typing[conversationID]
	if !ok {
		users = make(map[uuid.UUID]time.Time)
		t.typing[conversationID] = users
	}

	startedAt, wasTyping := users[userID]
	users[userID] = t.now()
	if wasTyping && t.now().Sub(startedAt) <= TypingTTL {
		return false
	}
	return true
}

// Stop clears the user's typing entry and reports whether the user was
// actually typing (stale entries count as already stopped).
func (t *TypingCoordinator) Stop(conversationID, userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.typing[conversationID]
	if !ok {
		return false
	}
	startedAt, wasTyping := users[userID]
	if !wasTyping {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.typing, conversationID)
	}
	return t.now().Sub(startedAt) <= TypingTTL
}

// IsTyping reports whether the user has a fresh typing entry for the
// conversation.
func (t *TypingCoordinator) IsTyping(conversationID, userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.typing[conversationID]
	if !ok {
		return false
	}
	startedAt, wasTyping := users[userID]
	return wasTyping && t.now().Sub(startedAt) <= TypingTTL
}

// TypingUsers returns the users with fresh typing entries for the
// conversation, pruning expired ones.
func (t *TypingCoordinator) TypingUsers(conversationID uuid.UUID) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.typing[conversationID]
	if !ok {
		return nil
	}

	var fresh []uuid.UUID
	for userID, startedAt := range users {
		if t.now().Sub(startedAt) > TypingTTL {
			delete(users, userID)
			continue
		}
		fresh = append(fresh, userID)
	}
	if len(users) == 0 {
		delete(t.typing, conversationID)
	}
	return fresh
}

// DisconnectUser clears the user's typing entries everywhere and
// returns the conversations that had one, so the hub can broadcast the
// implied typing:stop.
func (t *TypingCoordinator) DisconnectUser(userID uuid.UUID) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cleared []uuid.UUID
	for conversationID, users := range t.typing {
		if _, ok := users[userID]; !ok {
			continue
		}
		delete(users, userID)
		if len(users) == 0 {
			delete(t.typing, conversationID)
		}
		cleared = append(cleared, conversationID)
	}
	return cleared
}
