package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces lock keys in a shared Redis
const DefaultKeyPrefix = "icsrlink:lock:"

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared across replicas
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption configures Redis
type RedisOption func(*Redis)

// WithKeyPrefix replaces DefaultKeyPrefix
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis wraps an existing client
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial connects to addr and verifies the connection
func Dial(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "failed to connect to Redis", goerr.V("addr", addr))
	}
	return NewRedis(client), nil
}

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	fullKey := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to acquire lock", goerr.V("key", fullKey))
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{fullKey}, token).Err(); err != nil {
			return goerr.Wrap(err, "failed to release lock", goerr.V("key", fullKey))
		}
		return nil
	}
	return unlock, true, nil
}

// Close closes the underlying client
func (r *Redis) Close() error {
	return r.client.Close()
}
