package lookupcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a shared lookup cache backend, grounded on the teacher's
// queue/redis/queue.go client-construction pattern (env-var fallback,
// ParseURL, ping-on-connect) but storing JSON-encoded lookup results under
// a key prefix instead of a job queue.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// Config mirrors queue/redis.Config's shape for this cache's connection.
type Config struct {
	RedisURL  string
	KeyPrefix string
}

// NewRedis connects to cfg.RedisURL (defaulting to "redis://localhost:6379"
// when empty) and verifies connectivity with a Ping, matching
// queue/redis.NewQueue's construction sequence.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	url := cfg.RedisURL
	if url == "" {
		url = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "rulesengine:lookup:"
	}
	return &Redis{client: client, keyPrefix: prefix}, nil
}

// NewRedisFromClient wraps an already-constructed client, used by tests
// against miniredis.
func NewRedisFromClient(client *redis.Client, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = "rulesengine:lookup:"
	}
	return &Redis{client: client, keyPrefix: keyPrefix}
}

func (r *Redis) fullKey(key string) string {
	return r.keyPrefix + key
}

func (r *Redis) Get(key string) (interface{}, bool) {
	ctx := context.Background()
	raw, err := r.client.Get(ctx, r.fullKey(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil, false
		}
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false
	}
	return v, true
}

func (r *Redis) Set(key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	ctx := context.Background()
	r.client.Set(ctx, r.fullKey(key), raw, ttl)
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
