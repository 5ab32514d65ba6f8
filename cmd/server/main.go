package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-crudder/internal/api"
	"github.com/npezzotti/go-crudder/internal/auth"
	"github.com/npezzotti/go-crudder/internal/config"
	"github.com/npezzotti/go-crudder/internal/conversation"
	"github.com/npezzotti/go-crudder/internal/database"
	"github.com/npezzotti/go-crudder/internal/directory"
	"github.com/npezzotti/go-crudder/internal/events"
	"github.com/npezzotti/go-crudder/internal/server"
	"github.com/npezzotti/go-crudder/internal/stats"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	addr       string
	envFile    string
	seedUsers  string
	issueToken string
	tokenTTL   time.Duration
)

func newLogger(level string) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if level == "debug" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func openRepository(cfg *config.Config, logger *zap.SugaredLogger) (database.Repository, error) {
	switch cfg.StoreDriver {
	case config.DriverBadger:
		repo, err := database.NewBadgerRepository(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		if seedUsers != "" {
			n, err := seedBadgerUsers(repo, seedUsers)
			if err != nil {
				repo.Close()
				return nil, fmt.Errorf("seed users: %w", err)
			}
			logger.Infow("seeded users", "count", n)
		}
		return repo, nil
	default:
		repo, err := database.NewPgRepository(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(); err != nil {
			repo.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return repo, nil
	}
}

func newProfileCache(cfg *config.Config, logger *zap.SugaredLogger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnw("redis ping failed, profile cache will degrade to the store", "error", err)
	}

	return client
}

func main() {
	flag.StringVar(&addr, "addr", "", "server address, overrides SERVER_ADDR")
	flag.StringVar(&envFile, "env-file", ".env", "file of environment variables to load")
	flag.StringVar(&seedUsers, "seed-users", "", "JSON file of users to load into the badger store")
	flag.StringVar(&issueToken, "issue-token", "", "print an access token for the given user id and exit")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load(envFile)
	if err != nil {
		log.Fatal("config: ", err)
	}
	if addr != "" {
		cfg.ServerAddr = addr
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("logger: ", err)
	}
	defer logger.Sync()

	if issueToken != "" {
		if !conversation.ValidParticipantId(issueToken) {
			logger.Fatalw("issue token", "error", "invalid user id", "user_id", issueToken)
		}
		token, err := auth.NewVerifier(cfg.SigningKey, nil).IssueToken(issueToken, tokenTTL)
		if err != nil {
			logger.Fatalw("issue token", "error", err)
		}
		fmt.Println(token)
		return
	}

	if code := serve(cfg, logger); code != 0 {
		logger.Sync()
		os.Exit(code)
	}
}

// serve runs the service until a signal, a listener failure or the loss of
// social event intake, and returns the process exit code.
func serve(cfg *config.Config, logger *zap.SugaredLogger) int {
	repo, err := openRepository(cfg, logger)
	if err != nil {
		logger.Fatalw("open store", "driver", cfg.StoreDriver, "error", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Errorw("store close", "error", err)
		}
	}()

	cache := newProfileCache(cfg, logger)
	if cache != nil {
		defer cache.Close()
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	users := directory.New(logger.Named("directory"), repo, cache, cfg.ProfileCacheTTL)
	verifier := auth.NewVerifier(cfg.SigningKey, repo)

	chatServer, err := server.NewChatServer(logger.Named("chat"), repo, users, verifier, statsUpdater, cfg.StoreTimeout)
	if err != nil {
		logger.Fatalw("new chat server", "error", err)
	}
	publisher := server.NewPublisher(logger.Named("publisher"), repo, users, chatServer.Registry(), statsUpdater)

	srv := api.NewCrudderApp(mux, logger.Named("api"), api.Deps{
		ChatServer: chatServer,
		Repository: repo,
		Verifier:   verifier,
		Users:      users,
		Summaries:  conversation.NewAggregator(repo, users),
		Publisher:  publisher,
	}, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		consumer    *events.Consumer
		consumerErr <-chan error
	)
	if cfg.AmqpURL != "" {
		consumer = events.NewConsumer(logger.Named("events"), cfg.AmqpURL, cfg.AmqpQueue, publisher, cfg.StoreTimeout)
		if err := consumer.Start(ctx); err != nil {
			logger.Fatalw("start social event consumer", "error", err)
		}
		consumerErr = consumer.Err()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("server", "error", err)
			exitCode = 1
		}
	case err := <-consumerErr:
		logger.Errorw("social event consumer stopped, shutting down", "error", err)
		exitCode = 1
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Errorw("HTTP server shutdown", "error", err)
	}

	if consumer != nil {
		stop()
		if err := consumer.Close(); err != nil {
			logger.Warnw("social event consumer close", "error", err)
		}
	}

	logger.Info("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Errorw("chat server shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return exitCode
}
