package database

import "time"

const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

const (
	NotificationFollow  = "follow"
	NotificationLike    = "like"
	NotificationComment = "comment"
	NotificationReply   = "reply"
	NotificationMention = "mention"
)

// ValidNotificationKind reports whether kind is one of the known notification kinds.
func ValidNotificationKind(kind string) bool {
	switch kind {
	case NotificationFollow, NotificationLike, NotificationComment, NotificationReply, NotificationMention:
		return true
	}
	return false
}

type User struct {
	Id        string
	Username  string
	FirstName string
	LastName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	Id             string
	Seq            int64
	ConversationId string
	SenderId       string
	ReceiverId     string
	Content        string
	Status         string
	CreatedAt      time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

type Notification struct {
	Id          string
	Seq         int64
	RecipientId string
	SenderId    string
	Kind        string
	PostId      string
	IsRead      bool
	CreatedAt   time.Time
}
