package types

import "github.com/npezzotti/go-crudder/internal/database"

func MessageFromModel(m database.Message) Message {
	return Message{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		SenderId:       m.SenderId,
		ReceiverId:     m.ReceiverId,
		Content:        m.Content,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
	}
}

func MessagesFromModels(ms []database.Message) []Message {
	out := make([]Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, MessageFromModel(m))
	}
	return out
}

func UserFromModel(u database.User) User {
	return User{
		Id:        u.Id,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}
