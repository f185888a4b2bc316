package models

import "time"

// TypingState records the last typing signal for one user in one
// conversation. Activity is derived from the stored timestamp at read time,
// never from a per-entry timer.
type TypingState struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	LastSignaledAt time.Time `json:"last_signaled_at"`
}

// ActiveAt reports whether the entry is still live at the given instant.
func (t TypingState) ActiveAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(t.LastSignaledAt) < ttl
}

// ConnState describes the push channel lifecycle.
type ConnState string

const (
	ConnDisconnected ConnState = "DISCONNECTED"
	ConnConnecting   ConnState = "CONNECTING"
	ConnConnected    ConnState = "CONNECTED"
)
