package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-crudder/internal/auth"
	"github.com/npezzotti/go-crudder/internal/conversation"
	"github.com/npezzotti/go-crudder/internal/database"
	"github.com/npezzotti/go-crudder/internal/stats"
	"github.com/npezzotti/go-crudder/internal/types"
	"go.uber.org/zap"
)

var ErrShuttingDown = errors.New("chat server is shutting down")

type Authenticator interface {
	Verify(ctx context.Context, token string) (types.User, error)
}

type UserLookup interface {
	Lookup(ctx context.Context, id string) (types.User, error)
}

// ChatServer is the realtime gateway. It owns the room registry and every
// live session, and turns inbound events into store writes and broadcasts.
type ChatServer struct {
	log          *zap.SugaredLogger
	registry     *Registry
	messages     database.MessageStore
	users        UserLookup
	auth         Authenticator
	stats        stats.StatsProvider
	storeTimeout time.Duration

	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	closed      bool
	wg          sync.WaitGroup
}

func NewChatServer(logger *zap.SugaredLogger, messages database.MessageStore, users UserLookup,
	auth Authenticator, su stats.StatsProvider, storeTimeout time.Duration) (*ChatServer, error) {
	if storeTimeout <= 0 {
		return nil, fmt.Errorf("store timeout must be positive")
	}

	for _, name := range []string{
		stats.NumActiveSessions,
		stats.NumAuthenticatedSessions,
		stats.NumMessagesPersisted,
		stats.NumNotificationsPublished,
		stats.NumDeliveryMisses,
	} {
		su.RegisterMetric(name)
	}

	return &ChatServer{
		log:          logger,
		registry:     NewRegistry(logger, su),
		messages:     messages,
		users:        users,
		auth:         auth,
		stats:        su,
		storeTimeout: storeTimeout,
		clients:      make(map[*Client]struct{}),
	}, nil
}

func (cs *ChatServer) Registry() *Registry {
	return cs.registry
}

// Serve registers a new session for conn and starts its pumps. When token is
// non-empty the session is authenticated up front; a bad token leaves it
// anonymous.
func (cs *ChatServer) Serve(conn *websocket.Conn, token string) (*Client, error) {
	c := NewClient(conn, cs, cs.log)
	if err := cs.RegisterClient(c); err != nil {
		conn.Close()
		return nil, err
	}

	if token != "" {
		if _, err := cs.authenticateClient(c, token); err != nil {
			c.log.Infow("handshake credential rejected, session is anonymous", "error", err)
		}
	}

	go c.Write()
	go c.Read()

	return c, nil
}

func (cs *ChatServer) RegisterClient(c *Client) error {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if cs.closed {
		return ErrShuttingDown
	}

	cs.clients[c] = struct{}{}
	cs.wg.Add(1)
	cs.stats.Incr(stats.NumActiveSessions)
	c.log.Debug("session connected")

	return nil
}

func (cs *ChatServer) unregisterClient(c *Client) {
	cs.registry.LeaveAll(c)
	c.stopClient()

	cs.clientsLock.Lock()
	_, ok := cs.clients[c]
	delete(cs.clients, c)
	cs.clientsLock.Unlock()

	if !ok {
		return
	}

	cs.stats.Decr(stats.NumActiveSessions)
	if c.user != nil {
		cs.stats.Decr(stats.NumAuthenticatedSessions)
	}
	c.log.Debug("session disconnected")
	cs.wg.Done()
}

// Shutdown stops every session and waits until they have all left their
// rooms or ctx is done. No new sessions are accepted afterwards.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.clientsLock.Lock()
	cs.closed = true
	cs.log.Infow("stopping sessions", "count", len(cs.clients))
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for sessions: %w", ctx.Err())
	}
}

func (cs *ChatServer) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cs.storeTimeout)
}

func (cs *ChatServer) authenticateClient(c *Client, token string) (types.User, error) {
	ctx, cancel := cs.storeContext()
	defer cancel()

	user, err := cs.auth.Verify(ctx, token)
	if err != nil {
		return types.User{}, err
	}

	// Ids outside the participant alphabet would make conversation ids collide.
	if !conversation.ValidParticipantId(user.Id) {
		return types.User{}, fmt.Errorf("%w: invalid user id %q", auth.ErrUnauthenticated, user.Id)
	}

	c.user = &user
	cs.registry.Join(user.Id, c)
	cs.stats.Incr(stats.NumAuthenticatedSessions)
	c.log.Infow("session authenticated", "user_id", user.Id)

	return user, nil
}

func (cs *ChatServer) authenticate(c *Client, msg *ClientMessage) {
	if c.user != nil {
		c.queueMessage(ErrInvalid(msg.Id, "already authenticated"))
		return
	}

	user, err := cs.authenticateClient(c, msg.Authenticate.Token)
	if err != nil {
		c.log.Infow("authentication failed", "error", err)
		c.queueMessage(ErrUnauthenticated(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"user": user}))
}

// resolveTarget validates targetId and returns the conversation between the
// session's user and the target. It queues an error response and returns
// false when the target is unusable.
func (cs *ChatServer) resolveTarget(ctx context.Context, c *Client, msgId int, targetId string) (string, bool) {
	if targetId == "" {
		c.queueMessage(ErrInvalid(msgId, "missing target id"))
		return "", false
	}

	if !conversation.ValidParticipantId(targetId) || targetId == c.user.Id {
		c.queueMessage(ErrInvalid(msgId, "invalid target id"))
		return "", false
	}

	if _, err := cs.users.Lookup(ctx, targetId); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.queueMessage(ErrUserNotFound(msgId))
		} else {
			c.log.Errorw("lookup target", "target_id", targetId, "error", err)
			c.queueMessage(ErrInternalError(msgId))
		}
		return "", false
	}

	return conversation.Resolve(c.user.Id, targetId), true
}

func (cs *ChatServer) joinRoom(c *Client, msg *ClientMessage) {
	if c.user == nil {
		c.queueMessage(ErrUnauthenticated(msg.Id))
		return
	}

	ctx, cancel := cs.storeContext()
	defer cancel()

	convId, ok := cs.resolveTarget(ctx, c, msg.Id, msg.JoinRoom.TargetId)
	if !ok {
		return
	}

	cs.registry.Join(convId, c)
	c.log.Debugw("joined conversation", "conversation_id", convId)
	c.queueMessage(NoErrOK(msg.Id, map[string]any{"conversation_id": convId}))
}

// sendMessage persists the message and only then broadcasts it to the
// conversation room and the receiver's personal room. Sending joins the
// sender to the conversation room if it has not joined already.
func (cs *ChatServer) sendMessage(c *Client, msg *ClientMessage) {
	if c.user == nil {
		c.queueMessage(ErrUnauthenticated(msg.Id))
		return
	}

	req := msg.SendMessage
	if strings.TrimSpace(req.Content) == "" {
		c.queueMessage(ErrInvalid(msg.Id, "content cannot be empty"))
		return
	}

	ctx, cancel := cs.storeContext()
	defer cancel()

	convId, ok := cs.resolveTarget(ctx, c, msg.Id, req.TargetId)
	if !ok {
		return
	}
	cs.registry.Join(convId, c)

	stored, err := cs.messages.AppendMessage(ctx, database.Message{
		ConversationId: convId,
		SenderId:       c.user.Id,
		ReceiverId:     req.TargetId,
		Content:        req.Content,
		Status:         database.MessageStatusSent,
	})
	if err != nil {
		c.log.Errorw("persist message", "conversation_id", convId, "error", fmt.Errorf("%w: %v", ErrStorage, err))
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}
	cs.stats.Incr(stats.NumMessagesPersisted)

	out := types.MessageFromModel(stored)
	deliveredAt := Now()
	out.DeliveredAt = &deliveredAt

	c.queueMessage(NoErrAccepted(msg.Id, map[string]any{"message": out}))

	n := cs.registry.Broadcast(MessageReceived(out), convId, req.TargetId)
	c.log.Debugw("message broadcast", "conversation_id", convId, "sessions", n)
}
