package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const messageColumns = "id, seq, conversation_id, sender_id, receiver_id, content, status, created_at, delivered_at, read_at"

func now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

func (db *PgRepository) GetUserById(ctx context.Context, id string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, first_name, last_name, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}

	return user, err
}

func (db *PgRepository) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	msg.Id = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	if msg.Status == "" {
		msg.Status = MessageStatusSent
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, status, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq",
		msg.Id,
		msg.ConversationId,
		msg.SenderId,
		msg.ReceiverId,
		msg.Content,
		msg.Status,
		msg.CreatedAt,
	)

	if err := row.Scan(&msg.Seq); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

func (db *PgRepository) ListMessagesByConversation(ctx context.Context, conversationId string, limit int) ([]Message, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = db.conn.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM ("+
				"SELECT "+messageColumns+" FROM messages WHERE conversation_id = $1 "+
				"ORDER BY created_at DESC, seq DESC LIMIT $2"+
				") recent ORDER BY created_at ASC, seq ASC",
			conversationId,
			limit,
		)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM messages WHERE conversation_id = $1 "+
				"ORDER BY created_at ASC, seq ASC",
			conversationId,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	return scanMessages(rows)
}

func (db *PgRepository) ListMessagesByParticipant(ctx context.Context, userId string) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE sender_id = $1 OR receiver_id = $1 "+
			"ORDER BY created_at ASC, seq ASC",
		userId,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.Seq,
			&msg.ConversationId,
			&msg.SenderId,
			&msg.ReceiverId,
			&msg.Content,
			&msg.Status,
			&msg.CreatedAt,
			&msg.DeliveredAt,
			&msg.ReadAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}

func (db *PgRepository) AppendNotification(ctx context.Context, n Notification) (Notification, error) {
	n.Id = uuid.NewString()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}

	var postId sql.NullString
	if n.PostId != "" {
		postId = sql.NullString{String: n.PostId, Valid: true}
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO notifications (id, recipient_id, sender_id, kind, post_id, is_read, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq",
		n.Id,
		n.RecipientId,
		n.SenderId,
		n.Kind,
		postId,
		n.IsRead,
		n.CreatedAt,
	)

	if err := row.Scan(&n.Seq); err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}

	return n, nil
}

func (db *PgRepository) ListNotificationsByRecipient(ctx context.Context, recipientId string) ([]Notification, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, seq, recipient_id, sender_id, kind, post_id, is_read, created_at FROM notifications "+
			"WHERE recipient_id = $1 ORDER BY created_at DESC, seq DESC",
		recipientId,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		var (
			n      Notification
			postId sql.NullString
		)
		if err := rows.Scan(
			&n.Id,
			&n.Seq,
			&n.RecipientId,
			&n.SenderId,
			&n.Kind,
			&postId,
			&n.IsRead,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}

		n.PostId = postId.String
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return notifications, nil
}
