package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-core/internal/mocks"
	"chat-core/internal/models"
)

const selfID = "user-1"

func newTestService(users *mocks.UsersMock, dir *mocks.DirectoryMock) (*Service, *time.Time) {
	svc := NewService(dir, users, selfID, 5*time.Minute)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, &now
}

func TestResolveCachesWithinTTL(t *testing.T) {
	users := new(mocks.UsersMock)
	svc, _ := newTestService(users, new(mocks.DirectoryMock))

	bob := models.Participant{UserID: "user-2", Username: "bob"}
	users.On("GetUser", mock.Anything, "user-2").Return(bob, nil).Once()

	for i := 0; i < 3; i++ {
		got, err := svc.Resolve(context.Background(), "user-2")
		require.NoError(t, err)
		assert.Equal(t, "bob", got.Username)
	}
	users.AssertNumberOfCalls(t, "GetUser", 1)
}

func TestResolveRefetchesAfterTTL(t *testing.T) {
	users := new(mocks.UsersMock)
	svc, now := newTestService(users, new(mocks.DirectoryMock))

	users.On("GetUser", mock.Anything, "user-2").Return(models.Participant{UserID: "user-2", Username: "bob"}, nil).Once()
	_, err := svc.Resolve(context.Background(), "user-2")
	require.NoError(t, err)

	*now = now.Add(6 * time.Minute)

	users.On("GetUser", mock.Anything, "user-2").Return(models.Participant{UserID: "user-2", Username: "robert"}, nil).Once()
	got, err := svc.Resolve(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Equal(t, "robert", got.Username)
	users.AssertNumberOfCalls(t, "GetUser", 2)
}

func TestResolveServesStaleOnUpstreamError(t *testing.T) {
	users := new(mocks.UsersMock)
	svc, now := newTestService(users, new(mocks.DirectoryMock))

	users.On("GetUser", mock.Anything, "user-2").Return(models.Participant{UserID: "user-2", Username: "bob"}, nil).Once()
	_, err := svc.Resolve(context.Background(), "user-2")
	require.NoError(t, err)

	*now = now.Add(6 * time.Minute)

	users.On("GetUser", mock.Anything, "user-2").Return(models.Participant{}, assert.AnError).Once()
	got, err := svc.Resolve(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username, "stale entry beats an error")
}

func TestResolveErrorWithoutCacheEntry(t *testing.T) {
	users := new(mocks.UsersMock)
	svc, _ := newTestService(users, new(mocks.DirectoryMock))

	users.On("GetUser", mock.Anything, "user-2").Return(models.Participant{}, assert.AnError).Once()
	_, err := svc.Resolve(context.Background(), "user-2")
	assert.Error(t, err)
}

func TestConversationsFillsMissingDisplayFields(t *testing.T) {
	users := new(mocks.UsersMock)
	dir := new(mocks.DirectoryMock)
	svc, _ := newTestService(users, dir)

	conversations := []models.Conversation{
		{
			ID:   "conv-1",
			Type: models.ConversationGroup,
			Name: "team",
			Participants: []models.Participant{
				{UserID: selfID, Username: "alice"},
				{UserID: "user-2"},
				{UserID: "user-3"},
			},
		},
	}
	dir.On("ListConversations", mock.Anything, selfID, 1, 50).Return(conversations, false, nil).Once()
	users.On("GetUser", mock.Anything, "user-2").Return(models.Participant{UserID: "user-2", Username: "bob", AvatarURL: "http://cdn/bob.png"}, nil).Once()
	users.On("GetUser", mock.Anything, "user-3").Return(models.Participant{UserID: "user-3", Username: "carol"}, nil).Once()

	got, hasMore, err := svc.Conversations(context.Background(), 1, 50)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].Participants[0].Username, "already-populated fields are not refetched")
	assert.Equal(t, "bob", got[0].Participants[1].Username)
	assert.Equal(t, "http://cdn/bob.png", got[0].Participants[1].AvatarURL)
	assert.Equal(t, "carol", got[0].Participants[2].Username)
	users.AssertExpectations(t)
}

func TestConversationsDegradesOnLookupFailure(t *testing.T) {
	users := new(mocks.UsersMock)
	dir := new(mocks.DirectoryMock)
	svc, _ := newTestService(users, dir)

	conversations := []models.Conversation{
		{
			ID:           "conv-1",
			Type:         models.ConversationDirect,
			Participants: []models.Participant{{UserID: "user-2"}},
		},
	}
	dir.On("ListConversations", mock.Anything, selfID, 1, 50).Return(conversations, false, nil).Once()
	users.On("GetUser", mock.Anything, "user-2").Return(models.Participant{}, assert.AnError).Once()

	got, _, err := svc.Conversations(context.Background(), 1, 50)
	require.NoError(t, err, "a name lookup failure must not fail the listing")
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Participants[0].Username)
}

func TestConversationsUpstreamError(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	svc, _ := newTestService(new(mocks.UsersMock), dir)

	dir.On("ListConversations", mock.Anything, selfID, 1, 50).Return(nil, false, assert.AnError).Once()
	_, _, err := svc.Conversations(context.Background(), 1, 50)
	assert.Error(t, err)
}
