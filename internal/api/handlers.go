package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-crudder/internal/auth"
	"github.com/npezzotti/go-crudder/internal/conversation"
	"github.com/npezzotti/go-crudder/internal/types"
)

const maxHistoryLimit = 1000

type CreateEventRequest struct {
	Kind        string `json:"kind"`
	RecipientId string `json:"recipient_id"`
	PostId      string `json:"post_id,omitempty"`
}

func (s *CrudderApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("json encode", "error", err)
	}
}

func (s *CrudderApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Errorw("health check failed", "error", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *CrudderApp) session(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *CrudderApp) getConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	convId := r.PathValue("conversationId")
	if _, _, ok := conversation.Participants(convId); !ok {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !conversation.Includes(convId, user.Id) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 || limit > maxHistoryLimit {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := s.db.ListMessagesByConversation(r.Context(), convId, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.MessagesFromModels(messages))
}

func (s *CrudderApp) getConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	summaries, err := s.summaries.Summarize(r.Context(), user.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, summaries)
}

func (s *CrudderApp) getNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	stored, err := s.db.ListNotificationsByRecipient(r.Context(), user.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	senders := make(map[string]types.User)
	notifications := make([]types.Notification, 0, len(stored))
	for _, n := range stored {
		sender, ok := senders[n.SenderId]
		if !ok {
			sender, err = s.users.Lookup(r.Context(), n.SenderId)
			if err != nil {
				// deleted or unreachable senders are shown by id only
				s.log.Debugw("sender lookup", "sender_id", n.SenderId, "error", err)
				sender = types.User{Id: n.SenderId}
			}
			senders[n.SenderId] = sender
		}

		notifications = append(notifications, types.Notification{
			Id:          n.Id,
			RecipientId: n.RecipientId,
			Sender:      sender,
			Kind:        n.Kind,
			PostId:      n.PostId,
			IsRead:      n.IsRead,
			CreatedAt:   n.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, notifications)
}

func (s *CrudderApp) createEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Kind == "" || req.RecipientId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	n, err := s.publisher.Publish(r.Context(), req.Kind, user.Id, req.RecipientId, req.PostId)
	if err != nil {
		errResp := errorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, n)
}

// serveWs upgrades the request to the realtime channel. A credential on the
// handshake is optional; without one the session starts anonymous.
func (s *CrudderApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}

	token, _ := auth.TokenFromRequest(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Infow("error upgrading connection", "error", err)
		return
	}

	if _, err := s.cs.Serve(conn, token); err != nil {
		s.log.Warnw("rejecting session", "error", err)
	}
}
