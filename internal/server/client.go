package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-crudder/internal/types"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingInterval       = (pongWait * 9) / 10
	maxMessageSize     = 8192
	sendBufferSize     = 256
	maxMalformedFrames = 5
)

// Client is one live connection. Its inbound events are handled in order on
// the Read goroutine; outbound events are queued on send and written by the
// Write goroutine.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *zap.SugaredLogger
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once

	// user is nil until the session authenticates. Only the Read goroutine
	// changes it after registration.
	user *types.User
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *zap.SugaredLogger) *Client {
	id := shortid.MustGenerate()

	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l.With("session_id", id),
		send:       make(chan *ServerMessage, sendBufferSize),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) User() (types.User, bool) {
	if c.user == nil {
		return types.User{}, false
	}
	return *c.user, true
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Errorw("failed to serialize message", "error", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.chatServer.unregisterClient(c)
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	malformed := 0
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warnw("ws read", "error", err)
			}
			return
		}

		msg, err := parseClientMessage(raw)
		if err != nil {
			malformed++
			c.log.Debugw("malformed frame", "error", err, "count", malformed)

			id := 0
			if msg != nil {
				id = msg.Id
			}
			c.queueMessage(ErrInvalidMessage(id))

			if malformed >= maxMalformedFrames {
				c.log.Infow("closing session after repeated malformed frames", "count", malformed)
				return
			}
			continue
		}
		malformed = 0
		msg.Timestamp = Now()

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Authenticate != nil:
		c.chatServer.authenticate(c, msg)
	case msg.JoinRoom != nil:
		c.chatServer.joinRoom(c, msg)
	case msg.SendMessage != nil:
		c.chatServer.sendMessage(c, msg)
	}
}

// queueMessage hands msg to the Write goroutine without blocking. It
// reports false when the session is stopping or its queue is full.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
			c.log.Warnw("write message", "error", err)
		}
		return false
	}

	return true
}

// stopClient signals the Write goroutine to close the connection, which in
// turn ends Read. Safe to call more than once and from any goroutine.
func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}
