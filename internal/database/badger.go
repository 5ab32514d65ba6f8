package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// BadgerRepository is an embedded store for single-node deployments.
//
// Keys embed a 19-digit zero-padded unix-nano timestamp followed by a padded
// sequence number so that a prefix scan yields creation order, with insertion
// order breaking ties:
//
//	msg:{conversation}:{ts}:{seq}   -> message
//	pmsg:{user}:{ts}:{seq}          -> message key (participant index)
//	ntf:{recipient}:{ts}:{seq}      -> notification
//	user:{id}                       -> user
type BadgerRepository struct {
	db  *badger.DB
	seq *badger.Sequence
}

func NewBadgerRepository(path string) (*BadgerRepository, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte("seq:global"), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("get sequence: %w", err)
	}

	return &BadgerRepository{db: db, seq: seq}, nil
}

func (r *BadgerRepository) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

func (r *BadgerRepository) Close() error {
	if err := r.seq.Release(); err != nil {
		return fmt.Errorf("release sequence: %w", err)
	}
	return r.db.Close()
}

func (r *BadgerRepository) nextSeq() (int64, error) {
	n, err := r.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return int64(n) + 1, nil
}

func orderedKey(prefix, owner string, tsNano, seq int64) []byte {
	return []byte(fmt.Sprintf("%s:%s:%019d:%019d", prefix, owner, tsNano, seq))
}

// PutUser stores or replaces a user record. Accounts are owned elsewhere;
// this is how an embedded deployment is seeded.
func (r *BadgerRepository) PutUser(user User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	user.UpdatedAt = now()

	data, err := json.Marshal(user)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("user:"+user.Id), data)
	})
}

func (r *BadgerRepository) GetUserById(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	var user User
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("user:" + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return User{}, ErrNotFound
	}

	return user, err
}

func (r *BadgerRepository) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	seq, err := r.nextSeq()
	if err != nil {
		return Message{}, err
	}

	msg.Id = uuid.NewString()
	msg.Seq = seq
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	if msg.Status == "" {
		msg.Status = MessageStatusSent
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}

	ts := msg.CreatedAt.UnixNano()
	key := orderedKey("msg", msg.ConversationId, ts, seq)

	err = r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(orderedKey("pmsg", msg.SenderId, ts, seq), key); err != nil {
			return err
		}
		if msg.ReceiverId != msg.SenderId {
			return txn.Set(orderedKey("pmsg", msg.ReceiverId, ts, seq), key)
		}
		return nil
	})
	if err != nil {
		return Message{}, fmt.Errorf("store message: %w", err)
	}

	return msg, nil
}

func (r *BadgerRepository) ListMessagesByConversation(ctx context.Context, conversationId string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte("msg:" + conversationId + ":")
	messages := make([]Message, 0)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = limit > 0
		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefix
		if opts.Reverse {
			start = append(append([]byte{}, prefix...), 0xFF)
		}

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}

			var msg Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}

	if limit > 0 {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}

	return messages, nil
}

func (r *BadgerRepository) ListMessagesByParticipant(ctx context.Context, userId string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte("pmsg:" + userId + ":")
	messages := make([]Message, 0)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			msgKey, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			item, err := txn.Get(msgKey)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", msgKey, err)
			}

			var msg Message
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan participant messages: %w", err)
	}

	return messages, nil
}

func (r *BadgerRepository) AppendNotification(ctx context.Context, n Notification) (Notification, error) {
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}

	seq, err := r.nextSeq()
	if err != nil {
		return Notification{}, err
	}

	n.Id = uuid.NewString()
	n.Seq = seq
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}

	data, err := json.Marshal(n)
	if err != nil {
		return Notification{}, err
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(orderedKey("ntf", n.RecipientId, n.CreatedAt.UnixNano(), seq), data)
	})
	if err != nil {
		return Notification{}, fmt.Errorf("store notification: %w", err)
	}

	return n, nil
}

func (r *BadgerRepository) ListNotificationsByRecipient(ctx context.Context, recipientId string) ([]Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte("ntf:" + recipientId + ":")
	notifications := make([]Notification, 0)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(append([]byte{}, prefix...), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			var n Notification
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &n)
			}); err != nil {
				return err
			}
			notifications = append(notifications, n)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan notifications: %w", err)
	}

	return notifications, nil
}
