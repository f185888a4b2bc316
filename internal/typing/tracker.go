// Package typing converts raw start/stop signals, local and remote, into a
// decayed per-conversation view of who is typing right now.
package typing

import (
	"sync"
	"time"

	"chat-core/internal/models"
)

// Sender is the outbound side of the push channel. Sends are best-effort;
// the tracker never blocks on them.
type Sender interface {
	Send(ev models.Event)
}

// Tracker holds typing state keyed by (conversation, user). Activity is a
// pure function of "now" over stored timestamps; expired entries are pruned
// lazily on read, so no per-entry timers exist to leak.
type Tracker struct {
	sender   Sender
	selfID   string
	ttl      time.Duration
	debounce time.Duration
	now      func() time.Time

	mu       sync.Mutex
	remote   map[string]map[string]time.Time
	lastSent map[string]time.Time
}

// NewTracker constructs a tracker for the given local user.
func NewTracker(sender Sender, selfID string, ttl, debounce time.Duration) *Tracker {
	return &Tracker{
		sender:   sender,
		selfID:   selfID,
		ttl:      ttl,
		debounce: debounce,
		now:      time.Now,
		remote:   make(map[string]map[string]time.Time),
		lastSent: make(map[string]time.Time),
	}
}

// LocalStart signals that the local user is typing. Safe to call on every
// keystroke: at most one typing.start goes out per debounce window.
func (t *Tracker) LocalStart(conversationID string) {
	now := t.now()

	t.mu.Lock()
	if last, ok := t.lastSent[conversationID]; ok && now.Sub(last) < t.debounce {
		t.mu.Unlock()
		return
	}
	t.lastSent[conversationID] = now
	t.mu.Unlock()

	t.sender.Send(models.Event{
		Type:           models.EventTypingStart,
		ConversationID: conversationID,
		UserID:         t.selfID,
	})
}

// LocalStop signals that the local user stopped typing; called on send,
// blur, or the input becoming empty. Always emitted immediately.
func (t *Tracker) LocalStop(conversationID string) {
	t.mu.Lock()
	delete(t.lastSent, conversationID)
	t.mu.Unlock()

	t.sender.Send(models.Event{
		Type:           models.EventTypingStop,
		ConversationID: conversationID,
		UserID:         t.selfID,
	})
}

// OnRemote applies an inbound typing event. A start for an already-active
// user refreshes the timestamp; a stop for an unknown user is a no-op. The
// local user's own echoes are ignored.
func (t *Tracker) OnRemote(ev models.Event) {
	if ev.UserID == t.selfID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case models.EventTypingStart:
		users, ok := t.remote[ev.ConversationID]
		if !ok {
			users = make(map[string]time.Time)
			t.remote[ev.ConversationID] = users
		}
		users[ev.UserID] = t.now()
	case models.EventTypingStop:
		if users, ok := t.remote[ev.ConversationID]; ok {
			delete(users, ev.UserID)
			if len(users) == 0 {
				delete(t.remote, ev.ConversationID)
			}
		}
	}
}

// Active returns the users still typing in a conversation. Entries past the
// TTL are treated as inactive even when no stop was ever received, which
// covers stop signals lost to a disconnect; they are pruned on the way out.
func (t *Tracker) Active(conversationID string) []models.TypingState {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.remote[conversationID]
	if !ok {
		return nil
	}

	var active []models.TypingState
	for userID, last := range users {
		state := models.TypingState{ConversationID: conversationID, UserID: userID, LastSignaledAt: last}
		if !state.ActiveAt(now, t.ttl) {
			delete(users, userID)
			continue
		}
		active = append(active, state)
	}
	if len(users) == 0 {
		delete(t.remote, conversationID)
	}
	return active
}

// Forget drops all state for a conversation; used when its view closes.
func (t *Tracker) Forget(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.remote, conversationID)
	delete(t.lastSent, conversationID)
}
