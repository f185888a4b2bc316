package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"chat-core/internal/models"
)

// Users resolves a user identifier to display metadata.
type Users interface {
	GetUser(ctx context.Context, userID string) (models.Participant, error)
}

// UserClient is the HTTP implementation of Users.
type UserClient struct {
	client
}

// NewUserClient constructs the wrapper.
func NewUserClient(base, token string, timeout time.Duration) *UserClient {
	return &UserClient{client: newClient(base, token, timeout)}
}

// GetUser fetches display metadata for one user.
func (u *UserClient) GetUser(ctx context.Context, userID string) (models.Participant, error) {
	var resp struct {
		ID        string `json:"id"`
		Username  string `json:"username"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := u.getJSON(ctx, "/users/"+url.PathEscape(userID), &resp); err != nil {
		return models.Participant{}, fmt.Errorf("get user: %w", err)
	}
	if resp.ID == "" {
		return models.Participant{}, ErrNotFound
	}
	return models.Participant{UserID: resp.ID, Username: resp.Username, AvatarURL: resp.AvatarURL}, nil
}
