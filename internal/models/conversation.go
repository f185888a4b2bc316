package models

// ConversationType distinguishes one-to-one chats from group chats.
type ConversationType string

const (
	ConversationDirect ConversationType = "DIRECT"
	ConversationGroup  ConversationType = "GROUP"
)

// Participant carries the display fields needed to render a roster entry
// without an extra directory lookup.
type Participant struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Conversation is a read-only view of a directory-service conversation.
type Conversation struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Name         string           `json:"name,omitempty"`
	Participants []Participant    `json:"participants"`
}

// IsDirect reports whether the conversation is a two-party chat.
func (c Conversation) IsDirect() bool {
	return c.Type == ConversationDirect
}
