package types

import (
	"time"
)

type User struct {
	Id        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName is the "first last" form used in notifications, falling back
// to the handle when the account has no name parts.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Username
	}
}

type Message struct {
	Id             string     `json:"id"`
	ConversationId string     `json:"conversation_id"`
	SenderId       string     `json:"sender_id"`
	ReceiverId     string     `json:"receiver_id"`
	Content        string     `json:"content"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

type Notification struct {
	Id          string    `json:"id"`
	RecipientId string    `json:"recipient_id"`
	Sender      User      `json:"sender"`
	Kind        string    `json:"kind"`
	PostId      string    `json:"post_id,omitempty"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

type ConversationSummary struct {
	ConversationId  string    `json:"conversation_id"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	SenderId        string    `json:"sender_id"`
	ReceiverId      string    `json:"receiver_id"`
	User            User      `json:"user"`
}
