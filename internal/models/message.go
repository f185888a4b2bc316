package models

import "time"

// MessageTypeText is the only message payload type currently supported.
const MessageTypeText = "text"

// Message represents a chat message. A message is either confirmed, with a
// server-assigned ID, or pending, with a client-generated temporary ID that
// is swapped for the server ID on confirmation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Pending        bool      `json:"pending,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
