package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-crudder/internal/database"
	"github.com/npezzotti/go-crudder/internal/server"
	"github.com/npezzotti/go-crudder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeApiError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	var apiErr ApiError
	err := json.NewDecoder(rr.Body).Decode(&apiErr)
	require.NoError(t, err, "failed to decode ApiError response")
	assert.Equal(t, apiErr.StatusCode, rr.Code, "expected status code to match")
	return apiErr
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name: "successful health check",
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, d := newTestApp(t)
			d.repo.On("Ping").Return(tc.mockErr).Once()

			rr := httptest.NewRecorder()
			app.healthCheck(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func Test_session(t *testing.T) {
	app, _ := newTestApp(t)

	t.Run("returns caller", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.session(rr, withUser(httptest.NewRequest(http.MethodGet, "/api/auth/session", nil), alice))

		var user types.User
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&user))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, alice, user)
	})

	t.Run("no user in context", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.session(rr, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))

		assert.Equal(t, *NewUnauthorizedError(), decodeApiError(t, rr))
	})
}

func Test_getConversation(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	history := []database.Message{
		{Id: "m1", Seq: 1, ConversationId: "u1_u2", SenderId: "u1", ReceiverId: "u2", Content: "a", Status: "sent", CreatedAt: created},
		{Id: "m2", Seq: 2, ConversationId: "u1_u2", SenderId: "u2", ReceiverId: "u1", Content: "b", Status: "sent", CreatedAt: created.Add(time.Second)},
	}

	tcases := []struct {
		name        string
		path        string
		user        types.User
		limit       int
		mockCall    bool
		mockMsgs    []database.Message
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name:     "returns ordered history",
			path:     "/api/conversation/u1_u2",
			user:     alice,
			mockCall: true,
			mockMsgs: history,
		},
		{
			name:     "empty history is an empty list",
			path:     "/api/conversation/u1_u2",
			user:     bob,
			mockCall: true,
			mockMsgs: nil,
		},
		{
			name:     "limit is passed to the store",
			path:     "/api/conversation/u1_u2?limit=1",
			user:     alice,
			limit:    1,
			mockCall: true,
			mockMsgs: history[1:],
		},
		{
			name:        "malformed id",
			path:        "/api/conversation/u1",
			user:        alice,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "non canonical id",
			path:        "/api/conversation/u2_u1",
			user:        alice,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "caller is not a participant",
			path:        "/api/conversation/u2_u3",
			user:        alice,
			expectedErr: NewForbiddenError(),
		},
		{
			name:        "bad limit",
			path:        "/api/conversation/u1_u2?limit=abc",
			user:        alice,
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "negative limit",
			path:        "/api/conversation/u1_u2?limit=-1",
			user:        alice,
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "store error",
			path:        "/api/conversation/u1_u2",
			user:        alice,
			mockCall:    true,
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, d := newTestApp(t)
			if tc.mockCall {
				d.repo.On("ListMessagesByConversation", "u1_u2", tc.limit).Return(tc.mockMsgs, tc.mockErr).Once()
			}

			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.Header.Set("Authorization", "Bearer token-"+tc.user.Id)
			rr := httptest.NewRecorder()
			app.Handler().ServeHTTP(rr, req)

			if tc.expectedErr != nil {
				assert.Equal(t, *tc.expectedErr, decodeApiError(t, rr), "expected ApiError to match")
				return
			}

			require.Equal(t, http.StatusOK, rr.Code)
			var msgs []types.Message
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&msgs))
			assert.NotNil(t, msgs, "expected a JSON array, not null")
			assert.Equal(t, types.MessagesFromModels(tc.mockMsgs), msgs)
		})
	}
}

func Test_getConversations(t *testing.T) {
	t.Run("returns summaries", func(t *testing.T) {
		app, d := newTestApp(t)
		summaries := []types.ConversationSummary{{
			ConversationId:  "u1_u2",
			LastMessage:     "b",
			LastMessageTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			SenderId:        "u2",
			ReceiverId:      "u1",
			User:            bob,
		}}
		d.summaries.On("Summarize", "u1").Return(summaries, nil).Once()

		rr := httptest.NewRecorder()
		app.getConversations(rr, withUser(httptest.NewRequest(http.MethodGet, "/api/conversations", nil), alice))

		require.Equal(t, http.StatusOK, rr.Code)
		var got []types.ConversationSummary
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, summaries, got)
	})

	t.Run("aggregator error", func(t *testing.T) {
		app, d := newTestApp(t)
		d.summaries.On("Summarize", "u1").Return(nil, errors.New("db error")).Once()

		rr := httptest.NewRecorder()
		app.getConversations(rr, withUser(httptest.NewRequest(http.MethodGet, "/api/conversations", nil), alice))

		assert.Equal(t, *NewInternalServerError(nil), decodeApiError(t, rr))
	})
}

func Test_getNotifications(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("populates sender identity", func(t *testing.T) {
		app, d := newTestApp(t)
		d.repo.On("ListNotificationsByRecipient", "u2").Return([]database.Notification{
			{Id: "n2", RecipientId: "u2", SenderId: "u1", Kind: "like", PostId: "p1", CreatedAt: created.Add(time.Minute)},
			{Id: "n1", RecipientId: "u2", SenderId: "gone", Kind: "follow", CreatedAt: created},
		}, nil).Once()

		rr := httptest.NewRecorder()
		app.getNotifications(rr, withUser(httptest.NewRequest(http.MethodGet, "/api/notifications", nil), bob))

		require.Equal(t, http.StatusOK, rr.Code)
		var got []types.Notification
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		require.Len(t, got, 2)
		assert.Equal(t, "n2", got[0].Id, "expected store order to be kept")
		assert.Equal(t, alice, got[0].Sender)
		assert.Equal(t, "p1", got[0].PostId)
		assert.Equal(t, types.User{Id: "gone"}, got[1].Sender, "expected unknown sender to fall back to id")
	})

	t.Run("empty list", func(t *testing.T) {
		app, d := newTestApp(t)
		d.repo.On("ListNotificationsByRecipient", "u2").Return(nil, nil).Once()

		rr := httptest.NewRecorder()
		app.getNotifications(rr, withUser(httptest.NewRequest(http.MethodGet, "/api/notifications", nil), bob))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "[]\n", rr.Body.String())
	})

	t.Run("store error", func(t *testing.T) {
		app, d := newTestApp(t)
		d.repo.On("ListNotificationsByRecipient", "u2").Return(nil, errors.New("db error")).Once()

		rr := httptest.NewRecorder()
		app.getNotifications(rr, withUser(httptest.NewRequest(http.MethodGet, "/api/notifications", nil), bob))

		assert.Equal(t, *NewInternalServerError(nil), decodeApiError(t, rr))
	})
}

func Test_createEvent(t *testing.T) {
	tcases := []struct {
		name        string
		body        string
		publishes   bool
		publishErr  error
		expected    int
		expectedErr *ApiError
	}{
		{
			name:      "publishes follow",
			body:      `{"kind":"follow","recipient_id":"u2"}`,
			publishes: true,
			expected:  http.StatusCreated,
		},
		{
			name:        "invalid json",
			body:        `{"kind":`,
			expected:    http.StatusBadRequest,
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "missing recipient",
			body:        `{"kind":"follow"}`,
			expected:    http.StatusBadRequest,
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "validation error",
			body:        `{"kind":"follow","recipient_id":"u2"}`,
			publishes:   true,
			publishErr:  fmt.Errorf("%w: bad kind", server.ErrValidation),
			expected:    http.StatusBadRequest,
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "unknown recipient",
			body:        `{"kind":"follow","recipient_id":"u2"}`,
			publishes:   true,
			publishErr:  database.ErrNotFound,
			expected:    http.StatusNotFound,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "storage error",
			body:        `{"kind":"follow","recipient_id":"u2"}`,
			publishes:   true,
			publishErr:  fmt.Errorf("%w: db down", server.ErrStorage),
			expected:    http.StatusInternalServerError,
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app, d := newTestApp(t)
			if tc.publishes {
				d.publisher.On("Publish", "follow", "u1", "u2", "").
					Return(types.Notification{Id: "n1", RecipientId: "u2", Sender: alice, Kind: "follow"}, tc.publishErr).Once()
			}

			req := withUser(httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewBufferString(tc.body)), alice)
			rr := httptest.NewRecorder()
			app.createEvent(rr, req)

			assert.Equal(t, tc.expected, rr.Code)
			if tc.expectedErr != nil {
				assert.Equal(t, *tc.expectedErr, decodeApiError(t, rr))
				return
			}

			var n types.Notification
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&n))
			assert.Equal(t, "n1", n.Id)
		})
	}
}

func Test_serveWs(t *testing.T) {
	app, _ := newTestApp(t)

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()
	defer app.cs.Shutdown(t.Context())

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("authenticated handshake", func(t *testing.T) {
		header := http.Header{}
		header.Set("Authorization", "Bearer token-u1")

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

		require.Eventually(t, func() bool { return app.cs.Registry().MemberCount("u1") == 1 },
			time.Second, 10*time.Millisecond, "expected session in the personal room")
	})

	t.Run("anonymous handshake", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]any{"id": 1, "join_room": map[string]any{"target_id": "u2"}}))
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))

		var msg server.ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.NotNil(t, msg.Response)
		assert.Equal(t, http.StatusUnauthorized, msg.Response.ResponseCode)
	})

	t.Run("disallowed origin", func(t *testing.T) {
		header := http.Header{}
		header.Set("Origin", "http://evil.example")

		_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
