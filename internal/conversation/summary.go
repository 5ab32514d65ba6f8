package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/npezzotti/go-crudder/internal/database"
	"github.com/npezzotti/go-crudder/internal/types"
)

type MessageLister interface {
	ListMessagesByParticipant(ctx context.Context, userId string) ([]database.Message, error)
}

type UserLookup interface {
	Lookup(ctx context.Context, id string) (types.User, error)
}

type Aggregator struct {
	messages MessageLister
	users    UserLookup
}

func NewAggregator(messages MessageLister, users UserLookup) *Aggregator {
	return &Aggregator{messages: messages, users: users}
}

// Summarize returns one summary per conversation userId takes part in, newest
// conversation first. The preview is the latest message of each conversation;
// when two messages share a timestamp the one appended last wins.
func (a *Aggregator) Summarize(ctx context.Context, userId string) ([]types.ConversationSummary, error) {
	msgs, err := a.messages.ListMessagesByParticipant(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	latest := make(map[string]database.Message)
	for _, m := range msgs {
		cur, ok := latest[m.ConversationId]
		if !ok || newer(m, cur) {
			latest[m.ConversationId] = m
		}
	}

	previews := make([]database.Message, 0, len(latest))
	for _, m := range latest {
		previews = append(previews, m)
	}
	sort.Slice(previews, func(i, j int) bool {
		return newer(previews[i], previews[j])
	})

	summaries := make([]types.ConversationSummary, 0, len(previews))
	for _, m := range previews {
		otherId := m.SenderId
		if otherId == userId {
			otherId = m.ReceiverId
		}

		other, err := a.users.Lookup(ctx, otherId)
		if errors.Is(err, database.ErrNotFound) {
			// the other account is gone, drop the conversation
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup %q: %w", otherId, err)
		}

		summaries = append(summaries, types.ConversationSummary{
			ConversationId:  m.ConversationId,
			LastMessage:     m.Content,
			LastMessageTime: m.CreatedAt,
			SenderId:        m.SenderId,
			ReceiverId:      m.ReceiverId,
			User:            other,
		})
	}

	return summaries, nil
}

func newer(a, b database.Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.Seq > b.Seq
	}
	return a.CreatedAt.After(b.CreatedAt)
}
