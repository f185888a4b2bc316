package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-core/internal/models"
	"chat-core/internal/telemetry"
	"chat-core/internal/upstream"
)

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) ListConversations(ctx context.Context, userID string, page, pageSize int) ([]models.Conversation, bool, error) {
	args := m.Called(ctx, userID, page, pageSize)
	var conversations []models.Conversation
	if val := args.Get(0); val != nil {
		conversations = val.([]models.Conversation)
	}
	return conversations, args.Bool(1), args.Error(2)
}

type HistoryMock struct {
	mock.Mock
}

func (m *HistoryMock) Messages(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, bool, error) {
	args := m.Called(ctx, conversationID, page, pageSize)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Bool(1), args.Error(2)
}

type SubmitterMock struct {
	mock.Mock
}

func (m *SubmitterMock) Submit(ctx context.Context, conversationID, senderID, content string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type UsersMock struct {
	mock.Mock
}

func (m *UsersMock) GetUser(ctx context.Context, userID string) (models.Participant, error) {
	args := m.Called(ctx, userID)
	var participant models.Participant
	if val := args.Get(0); val != nil {
		participant = val.(models.Participant)
	}
	return participant, args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ upstream.Directory = (*DirectoryMock)(nil)
var _ upstream.History = (*HistoryMock)(nil)
var _ upstream.Submitter = (*SubmitterMock)(nil)
var _ upstream.Users = (*UsersMock)(nil)
var _ telemetry.Publisher = (*PublisherMock)(nil)
