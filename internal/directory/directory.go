package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-crudder/internal/database"
	"github.com/npezzotti/go-crudder/internal/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix    = "profile:"
	cacheTimeout = 500 * time.Millisecond
)

// Directory resolves user ids to display identities. When a Redis client is
// configured lookups are read through a TTL cache; a cache failure degrades to
// the user store instead of failing the lookup.
type Directory struct {
	log   *zap.SugaredLogger
	users database.UserStore
	cache *redis.Client
	ttl   time.Duration
}

func New(logger *zap.SugaredLogger, users database.UserStore, cache *redis.Client, ttl time.Duration) *Directory {
	return &Directory{
		log:   logger,
		users: users,
		cache: cache,
		ttl:   ttl,
	}
}

func (d *Directory) Lookup(ctx context.Context, id string) (types.User, error) {
	if user, ok := d.cached(ctx, id); ok {
		return user, nil
	}

	dbUser, err := d.users.GetUserById(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.User{}, fmt.Errorf("user %q: %w", id, database.ErrNotFound)
		}
		return types.User{}, fmt.Errorf("get user %q: %w", id, err)
	}

	user := types.UserFromModel(dbUser)
	d.store(ctx, user)

	return user, nil
}

func (d *Directory) cached(ctx context.Context, id string) (types.User, bool) {
	if d.cache == nil {
		return types.User{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	raw, err := d.cache.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.log.Warnw("profile cache get", "user_id", id, "error", err)
		}
		return types.User{}, false
	}

	var user types.User
	if err := json.Unmarshal(raw, &user); err != nil {
		d.log.Warnw("profile cache decode", "user_id", id, "error", err)
		return types.User{}, false
	}

	return user, true
}

func (d *Directory) store(ctx context.Context, user types.User) {
	if d.cache == nil {
		return
	}

	raw, err := json.Marshal(user)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	if err := d.cache.Set(ctx, keyPrefix+user.Id, raw, d.ttl).Err(); err != nil {
		d.log.Warnw("profile cache set", "user_id", user.Id, "error", err)
	}
}
