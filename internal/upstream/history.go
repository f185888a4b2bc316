package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"chat-core/internal/models"
)

// History is the persisted-message read side. Pages are ordered by creation
// time ascending and safe to fetch repeatedly.
type History interface {
	Messages(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, bool, error)
}

// HistoryClient is the HTTP implementation of History.
type HistoryClient struct {
	client
}

// NewHistoryClient constructs the wrapper.
func NewHistoryClient(base, token string, timeout time.Duration) *HistoryClient {
	return &HistoryClient{client: newClient(base, token, timeout)}
}

// Messages fetches one page of a conversation's history.
func (h *HistoryClient) Messages(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, bool, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
		HasMore  bool             `json:"has_more"`
	}
	path := fmt.Sprintf("/conversations/%s/messages?page=%d&page_size=%d", url.PathEscape(conversationID), page, pageSize)
	if err := h.getJSON(ctx, path, &resp); err != nil {
		return nil, false, fmt.Errorf("fetch history: %w", err)
	}
	return resp.Messages, resp.HasMore, nil
}
