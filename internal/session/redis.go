package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the JSON-encoded session list
const DefaultRedisKey = "defra-id-stub:sessions"

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisAdapter stores the session list under a single key
type RedisAdapter struct {
	client redis.UniversalClient
	key    string
}

// NewRedisAdapter connects using a redis:// URL and verifies the connection
func NewRedisAdapter(ctx context.Context, redisURL, key string) (*RedisAdapter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisAdapterWithClient(client, key), nil
}

// NewRedisAdapterWithClient wraps an existing client
func NewRedisAdapterWithClient(client redis.UniversalClient, key string) *RedisAdapter {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisAdapter{client: client, key: key}
}

// Load reads the list; a missing key is an empty list
func (a *RedisAdapter) Load(ctx context.Context) ([]Session, error) {
	data, err := a.client.Get(ctx, a.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return sessions, nil
}

// Save overwrites the key
func (a *RedisAdapter) Save(ctx context.Context, sessions []Session) error {
	if sessions == nil {
		sessions = []Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	if err := a.client.Set(ctx, a.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	return nil
}

// Close closes the client
func (a *RedisAdapter) Close() error {
	return a.client.Close()
}
