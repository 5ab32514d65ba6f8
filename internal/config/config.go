package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

type Config struct {
	ServerAddr     string   `env:"SERVER_ADDR" envDefault:"localhost:8000"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver  string        `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseDSN  string        `env:"DATABASE_DSN" envDefault:"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"`
	BadgerPath   string        `env:"BADGER_PATH" envDefault:"./data"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	SigningSecret string `env:"SIGNING_KEY"`
	SigningKey    []byte `env:"-"`

	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	ProfileCacheTTL time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"5m"`

	AmqpURL   string `env:"AMQP_URL"`
	AmqpQueue string `env:"AMQP_QUEUE" envDefault:"social.events"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

// Load reads the configuration from the environment. When envFile is set its
// variables are loaded first; a missing file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and decodes the signing key.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database DSN cannot be empty")
		}
	case DriverBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("badger path cannot be empty")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}

	if c.SigningSecret == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = signingKey

	return nil
}
