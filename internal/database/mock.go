package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) GetUserById(ctx context.Context, id string) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	args := m.Called(msg)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) ListMessagesByConversation(ctx context.Context, conversationId string, limit int) ([]Message, error) {
	args := m.Called(conversationId, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) ListMessagesByParticipant(ctx context.Context, userId string) ([]Message, error) {
	args := m.Called(userId)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) AppendNotification(ctx context.Context, n Notification) (Notification, error) {
	args := m.Called(n)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockRepository) ListNotificationsByRecipient(ctx context.Context, recipientId string) ([]Notification, error) {
	args := m.Called(recipientId)
	if ns, ok := args.Get(0).([]Notification); ok {
		return ns, args.Error(1)
	}
	return nil, args.Error(1)
}
