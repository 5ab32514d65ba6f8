package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-crudder/internal/database"
	"github.com/npezzotti/go-crudder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUsers map[string]types.User

func (s stubUsers) Lookup(_ context.Context, id string) (types.User, error) {
	u, ok := s[id]
	if !ok {
		return types.User{}, database.ErrNotFound
	}
	return u, nil
}

type failingUsers struct{}

func (failingUsers) Lookup(context.Context, string) (types.User, error) {
	return types.User{}, errors.New("connection refused")
}

func newMessageRepo(t *testing.T, msgs ...database.Message) *database.MockRepository {
	repo := &database.MockRepository{}
	t.Cleanup(func() { repo.AssertExpectations(t) })
	repo.On("ListMessagesByParticipant", "u1").Return(msgs, nil).Once()
	return repo
}

func TestSummarize_LatestMessageWins(t *testing.T) {
	t1 := time.Now().UTC()
	t2 := t1.Add(time.Minute)

	repo := newMessageRepo(t,
		database.Message{Seq: 1, ConversationId: Resolve("u1", "u2"), SenderId: "u1", ReceiverId: "u2", Content: "a", CreatedAt: t1},
		database.Message{Seq: 2, ConversationId: Resolve("u1", "u2"), SenderId: "u2", ReceiverId: "u1", Content: "b", CreatedAt: t2},
	)
	users := stubUsers{"u2": {Id: "u2", Username: "bob"}}

	summaries, err := NewAggregator(repo, users).Summarize(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "b", summaries[0].LastMessage)
	assert.Equal(t, "u2", summaries[0].User.Id)
	assert.True(t, summaries[0].LastMessageTime.Equal(t2))
}

func TestSummarize_OrdersConversationsNewestFirst(t *testing.T) {
	base := time.Now().UTC()

	repo := newMessageRepo(t,
		database.Message{Seq: 1, ConversationId: Resolve("u1", "u2"), SenderId: "u1", ReceiverId: "u2", Content: "old", CreatedAt: base},
		database.Message{Seq: 2, ConversationId: Resolve("u1", "u3"), SenderId: "u3", ReceiverId: "u1", Content: "new", CreatedAt: base.Add(time.Hour)},
		database.Message{Seq: 3, ConversationId: Resolve("u1", "u4"), SenderId: "u1", ReceiverId: "u4", Content: "mid", CreatedAt: base.Add(time.Minute)},
	)
	users := stubUsers{
		"u2": {Id: "u2"},
		"u3": {Id: "u3"},
		"u4": {Id: "u4"},
	}

	summaries, err := NewAggregator(repo, users).Summarize(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, "new", summaries[0].LastMessage)
	assert.Equal(t, "u3", summaries[0].User.Id)
	assert.Equal(t, "mid", summaries[1].LastMessage)
	assert.Equal(t, "old", summaries[2].LastMessage)
}

func TestSummarize_EqualTimestampsUseInsertionOrder(t *testing.T) {
	at := time.Now().UTC()

	repo := newMessageRepo(t,
		database.Message{Seq: 7, ConversationId: Resolve("u1", "u2"), SenderId: "u1", ReceiverId: "u2", Content: "later append", CreatedAt: at},
		database.Message{Seq: 3, ConversationId: Resolve("u1", "u2"), SenderId: "u2", ReceiverId: "u1", Content: "earlier append", CreatedAt: at},
	)

	summaries, err := NewAggregator(repo, stubUsers{"u2": {Id: "u2"}}).Summarize(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "later append", summaries[0].LastMessage)
}

func TestSummarize_SkipsUnknownParticipants(t *testing.T) {
	repo := newMessageRepo(t,
		database.Message{Seq: 1, ConversationId: Resolve("u1", "gone"), SenderId: "u1", ReceiverId: "gone", Content: "x", CreatedAt: time.Now()},
	)

	summaries, err := NewAggregator(repo, stubUsers{}).Summarize(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestSummarize_Errors(t *testing.T) {
	t.Run("store error", func(t *testing.T) {
		repo := &database.MockRepository{}
		defer repo.AssertExpectations(t)
		repo.On("ListMessagesByParticipant", "u1").Return(nil, errors.New("db down")).Once()

		_, err := NewAggregator(repo, stubUsers{}).Summarize(context.Background(), "u1")
		assert.Error(t, err)
	})

	t.Run("lookup error", func(t *testing.T) {
		repo := newMessageRepo(t,
			database.Message{Seq: 1, ConversationId: Resolve("u1", "u2"), SenderId: "u1", ReceiverId: "u2", Content: "x", CreatedAt: time.Now()},
		)

		_, err := NewAggregator(repo, failingUsers{}).Summarize(context.Background(), "u1")
		assert.Error(t, err)
	})
}
