package database

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

type UserStore interface {
	GetUserById(ctx context.Context, id string) (User, error)
}

// MessageStore is the append-only log of chat messages. Listings are ordered
// by creation time ascending with insertion order breaking ties.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	// ListMessagesByConversation returns the conversation history. A positive
	// limit keeps only the most recent limit messages.
	ListMessagesByConversation(ctx context.Context, conversationId string, limit int) ([]Message, error)
	ListMessagesByParticipant(ctx context.Context, userId string) ([]Message, error)
}

// NotificationStore records social-event notifications. Listings are newest first.
type NotificationStore interface {
	AppendNotification(ctx context.Context, n Notification) (Notification, error)
	ListNotificationsByRecipient(ctx context.Context, recipientId string) ([]Notification, error)
}

type Repository interface {
	UserStore
	MessageStore
	NotificationStore
	Ping(ctx context.Context) error
	Close() error
}
