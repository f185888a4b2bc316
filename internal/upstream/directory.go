package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"chat-core/internal/models"
)

// Directory lists the conversations a user participates in. Paginated,
// request/response only; conversations are read-only to this core.
type Directory interface {
	ListConversations(ctx context.Context, userID string, page, pageSize int) ([]models.Conversation, bool, error)
}

// DirectoryClient is the HTTP implementation of Directory.
type DirectoryClient struct {
	client
}

// NewDirectoryClient constructs the wrapper.
func NewDirectoryClient(base, token string, timeout time.Duration) *DirectoryClient {
	return &DirectoryClient{client: newClient(base, token, timeout)}
}

// ListConversations fetches one page of the user's conversations.
func (d *DirectoryClient) ListConversations(ctx context.Context, userID string, page, pageSize int) ([]models.Conversation, bool, error) {
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
		HasMore       bool                  `json:"has_more"`
	}
	path := fmt.Sprintf("/users/%s/conversations?page=%d&page_size=%d", url.PathEscape(userID), page, pageSize)
	if err := d.getJSON(ctx, path, &resp); err != nil {
		return nil, false, fmt.Errorf("list conversations: %w", err)
	}
	return resp.Conversations, resp.HasMore, nil
}
