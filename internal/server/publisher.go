package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-crudder/internal/conversation"
	"github.com/npezzotti/go-crudder/internal/database"
	"github.com/npezzotti/go-crudder/internal/stats"
	"github.com/npezzotti/go-crudder/internal/types"
	"go.uber.org/zap"
)

var notificationText = map[string]string{
	database.NotificationFollow:  "You have a new follower",
	database.NotificationLike:    "liked your post",
	database.NotificationComment: "commented on your post",
	database.NotificationReply:   "replied to your comment",
	database.NotificationMention: "mentioned you",
}

func NotificationText(kind string) string {
	return notificationText[kind]
}

// Publisher records social-event notifications and pushes them live to the
// recipient's personal room.
type Publisher struct {
	log           *zap.SugaredLogger
	notifications database.NotificationStore
	users         UserLookup
	registry      *Registry
	stats         stats.StatsProvider
}

func NewPublisher(logger *zap.SugaredLogger, notifications database.NotificationStore, users UserLookup,
	registry *Registry, su stats.StatsProvider) *Publisher {
	return &Publisher{
		log:           logger,
		notifications: notifications,
		users:         users,
		registry:      registry,
		stats:         su,
	}
}

// Publish stores the notification and then broadcasts it. Nothing is
// broadcast if the store write fails. An offline recipient is not an error.
func (p *Publisher) Publish(ctx context.Context, kind, senderId, recipientId, postId string) (types.Notification, error) {
	if !database.ValidNotificationKind(kind) {
		return types.Notification{}, fmt.Errorf("%w: unknown notification kind %q", ErrValidation, kind)
	}
	if !conversation.ValidParticipantId(senderId) || !conversation.ValidParticipantId(recipientId) {
		return types.Notification{}, fmt.Errorf("%w: invalid sender or recipient id", ErrValidation)
	}
	if senderId == recipientId {
		return types.Notification{}, fmt.Errorf("%w: sender and recipient are the same user", ErrValidation)
	}

	sender, err := p.lookup(ctx, senderId)
	if err != nil {
		return types.Notification{}, err
	}
	if _, err := p.lookup(ctx, recipientId); err != nil {
		return types.Notification{}, err
	}

	stored, err := p.notifications.AppendNotification(ctx, database.Notification{
		RecipientId: recipientId,
		SenderId:    senderId,
		Kind:        kind,
		PostId:      postId,
	})
	if err != nil {
		return types.Notification{}, fmt.Errorf("%w: append notification: %v", ErrStorage, err)
	}
	p.stats.Incr(stats.NumNotificationsPublished)

	event := NotificationEvent{
		Id:            stored.Id,
		Kind:          stored.Kind,
		SenderId:      senderId,
		SenderDisplay: sender.DisplayName(),
		PostId:        stored.PostId,
		Message:       NotificationText(kind),
		Timestamp:     stored.CreatedAt,
	}
	if n := p.registry.Broadcast(NotificationNew(event), recipientId); n == 0 {
		p.log.Debugw("recipient offline, notification stored only", "recipient_id", recipientId, "kind", kind)
	}

	return types.Notification{
		Id:          stored.Id,
		RecipientId: stored.RecipientId,
		Sender:      sender,
		Kind:        stored.Kind,
		PostId:      stored.PostId,
		IsRead:      stored.IsRead,
		CreatedAt:   stored.CreatedAt,
	}, nil
}

func (p *Publisher) lookup(ctx context.Context, id string) (types.User, error) {
	user, err := p.users.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.User{}, err
		}
		return types.User{}, fmt.Errorf("%w: lookup user %q: %v", ErrStorage, id, err)
	}
	return user, nil
}
