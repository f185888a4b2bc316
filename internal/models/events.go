package models

import "errors"

// Push event kinds exchanged over the live channel. Unknown kinds are
// ignored by consumers, not treated as errors.
const (
	EventMessageCreated = "message.created"
	EventTypingStart    = "typing.start"
	EventTypingStop     = "typing.stop"

	// Handshake frames.
	EventJoin   = "join"
	EventJoined = "joined"
	EventError  = "error"
)

var ErrMalformedEvent = errors.New("malformed push event")

// Event is the envelope for every frame on the push channel, in both
// directions. Which fields are set depends on Type.
type Event struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Message        *Message `json:"message,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	Token          string   `json:"token,omitempty"`
	Code           string   `json:"code,omitempty"`
}

// Validate checks the required fields for the inbound event kinds the core
// consumes. Events of unknown type pass validation; the dispatcher simply
// has no subscribers for them.
func (e Event) Validate() error {
	switch e.Type {
	case EventMessageCreated:
		if e.ConversationID == "" || e.Message == nil || e.Message.ID == "" {
			return ErrMalformedEvent
		}
		if e.Message.ConversationID == "" {
			return ErrMalformedEvent
		}
	case EventTypingStart, EventTypingStop:
		if e.ConversationID == "" || e.UserID == "" {
			return ErrMalformedEvent
		}
	}
	return nil
}
