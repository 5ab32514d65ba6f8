package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/npezzotti/go-crudder/internal/types"
)

var (
	ErrValidation = errors.New("validation error")
	ErrStorage    = errors.New("storage error")
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is an inbound event. Exactly one variant must be set.
type ClientMessage struct {
	BaseMessage
	Authenticate *Authenticate `json:"authenticate,omitempty"`
	JoinRoom     *JoinRoom     `json:"join_room,omitempty"`
	SendMessage  *SendMessage  `json:"send_message,omitempty"`
}

type Authenticate struct {
	Token string `json:"token"`
}

type JoinRoom struct {
	TargetId string `json:"target_id"`
}

type SendMessage struct {
	TargetId string `json:"target_id"`
	Content  string `json:"content"`
}

func (m *ClientMessage) variants() int {
	n := 0
	if m.Authenticate != nil {
		n++
	}
	if m.JoinRoom != nil {
		n++
	}
	if m.SendMessage != nil {
		n++
	}
	return n
}

// parseClientMessage decodes a frame and checks that it carries exactly one
// known variant.
func parseClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if n := msg.variants(); n != 1 {
		return &msg, fmt.Errorf("%w: expected one event, got %d", ErrValidation, n)
	}

	return &msg, nil
}

// ServerMessage is an outbound event. Exactly one variant is set.
type ServerMessage struct {
	BaseMessage
	Response        *Response          `json:"response,omitempty"`
	MessageReceived *types.Message     `json:"message_received,omitempty"`
	NotificationNew *NotificationEvent `json:"notification_new,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type NotificationEvent struct {
	Id            string    `json:"id"`
	Kind          string    `json:"kind"`
	SenderId      string    `json:"sender_id"`
	SenderDisplay string    `json:"sender_display"`
	PostId        string    `json:"post_id,omitempty"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

func MessageReceived(msg types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage:     BaseMessage{Timestamp: Now()},
		MessageReceived: &msg,
	}
}

func NotificationNew(n NotificationEvent) *ServerMessage {
	return &ServerMessage{
		BaseMessage:     BaseMessage{Timestamp: Now()},
		NotificationNew: &n,
	}
}

func response(id, code int, errText string, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errText,
			Data:         data,
		},
	}
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return response(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int, data map[string]any) *ServerMessage {
	return response(id, http.StatusAccepted, "", data)
}

func ErrInvalid(id int, reason string) *ServerMessage {
	return response(id, http.StatusBadRequest, reason, nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	if id < 0 {
		id = 0
	}
	return response(id, http.StatusBadRequest, "invalid message format", nil)
}

func ErrUnauthenticated(id int) *ServerMessage {
	return response(id, http.StatusUnauthorized, "unauthenticated", nil)
}

func ErrUserNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "user not found", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return response(id, http.StatusInternalServerError, "internal server error", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return response(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
