// Package directory serves the session's conversation roster, enriching
// participant records with display metadata through a TTL cache so renders
// never need a per-user lookup.
package directory

import (
	"context"
	"log"
	"sync"
	"time"

	"chat-core/internal/models"
	"chat-core/internal/upstream"
)

type cachedUser struct {
	participant models.Participant
	fetchedAt   time.Time
}

// Service wraps the directory and user clients for one session.
type Service struct {
	dir      upstream.Directory
	users    upstream.Users
	selfID   string
	cacheTTL time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedUser
}

// NewService constructs the directory service.
func NewService(dir upstream.Directory, users upstream.Users, selfID string, cacheTTL time.Duration) *Service {
	return &Service{
		dir:      dir,
		users:    users,
		selfID:   selfID,
		cacheTTL: cacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedUser),
	}
}

// Conversations returns one page of the session user's conversations with
// participant display fields filled in. Resolution failures degrade to bare
// identifiers rather than failing the listing.
func (s *Service) Conversations(ctx context.Context, page, pageSize int) ([]models.Conversation, bool, error) {
	conversations, hasMore, err := s.dir.ListConversations(ctx, s.selfID, page, pageSize)
	if err != nil {
		return nil, false, err
	}

	for ci := range conversations {
		for pi := range conversations[ci].Participants {
			p := &conversations[ci].Participants[pi]
			if p.Username != "" {
				continue
			}
			resolved, err := s.Resolve(ctx, p.UserID)
			if err != nil {
				log.Printf("display name lookup failed user=%s: %v", p.UserID, err)
				continue
			}
			p.Username = resolved.Username
			p.AvatarURL = resolved.AvatarURL
		}
	}
	return conversations, hasMore, nil
}

// Resolve returns display metadata for one user, from cache when fresh.
func (s *Service) Resolve(ctx context.Context, userID string) (models.Participant, error) {
	s.mu.RLock()
	hit, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok && s.now().Sub(hit.fetchedAt) < s.cacheTTL {
		return hit.participant, nil
	}

	participant, err := s.users.GetUser(ctx, userID)
	if err != nil {
		// Serve a stale hit over an error.
		if ok {
			return hit.participant, nil
		}
		return models.Participant{}, err
	}

	s.mu.Lock()
	s.cache[userID] = cachedUser{participant: participant, fetchedAt: s.now()}
	s.mu.Unlock()
	return participant, nil
}
