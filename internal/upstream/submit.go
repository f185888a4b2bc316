package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"chat-core/internal/models"
)

// Submitter persists a new message and returns the canonical stored record
// with the server-assigned identifier and timestamp. It is the source of
// truth for sends; push echoes are only an optimization on top of it.
type Submitter interface {
	Submit(ctx context.Context, conversationID, senderID, content string) (models.Message, error)
}

// SubmitClient is the HTTP implementation of Submitter.
type SubmitClient struct {
	client
}

// NewSubmitClient constructs the wrapper.
func NewSubmitClient(base, token string, timeout time.Duration) *SubmitClient {
	return &SubmitClient{client: newClient(base, token, timeout)}
}

// Submit stores a message in a conversation.
func (s *SubmitClient) Submit(ctx context.Context, conversationID, senderID, content string) (models.Message, error) {
	body := struct {
		SenderID string `json:"sender_id"`
		Content  string `json:"content"`
	}{SenderID: senderID, Content: content}

	var msg models.Message
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	if err := s.postJSON(ctx, path, body, &msg); err != nil {
		return models.Message{}, fmt.Errorf("submit message: %w", err)
	}
	return msg, nil
}
