package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-crudder/internal/config"
	"github.com/npezzotti/go-crudder/internal/database"
	"github.com/npezzotti/go-crudder/internal/server"
	"github.com/npezzotti/go-crudder/internal/types"
	"go.uber.org/zap"
)

type Verifier interface {
	Verify(ctx context.Context, token string) (types.User, error)
}

type UserLookup interface {
	Lookup(ctx context.Context, id string) (types.User, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, userId string) ([]types.ConversationSummary, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, kind, senderId, recipientId, postId string) (types.Notification, error)
}

// Deps groups the collaborators the HTTP layer calls into.
type Deps struct {
	ChatServer *server.ChatServer
	Repository database.Repository
	Verifier   Verifier
	Users      UserLookup
	Summaries  Summarizer
	Publisher  EventPublisher
}

type CrudderApp struct {
	log            *zap.SugaredLogger
	db             database.Repository
	cs             *server.ChatServer
	verifier       Verifier
	users          UserLookup
	summaries      Summarizer
	publisher      EventPublisher
	allowedOrigins []string
	srv            *http.Server
}

func NewCrudderApp(mux *http.ServeMux, logger *zap.SugaredLogger, deps Deps, cfg *config.Config) *CrudderApp {
	s := &CrudderApp{
		log:            logger,
		db:             deps.Repository,
		cs:             deps.ChatServer,
		verifier:       deps.Verifier,
		users:          deps.Users,
		summaries:      deps.Summaries,
		publisher:      deps.Publisher,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/conversation/{conversationId}", s.authMiddleware(s.getConversation))
	mux.HandleFunc("GET /api/conversations", s.authMiddleware(s.getConversations))
	mux.HandleFunc("GET /api/notifications", s.authMiddleware(s.getNotifications))
	mux.HandleFunc("POST /api/events", s.authMiddleware(s.createEvent))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *CrudderApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *CrudderApp) Start() error {
	s.log.Infow("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *CrudderApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
