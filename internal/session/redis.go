package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lead-qualifier/internal/domain"
)

const keyPrefix = "qualify:session:"

// redisAPI is the subset of *redis.Client used by RedisStore.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisStore keeps each session as a JSON value with an expiry. SET replaces
// the value and resets the expiry; GET leaves it alone.
type RedisStore struct {
	api redisAPI
	ttl time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(api redisAPI, ttl time.Duration) (*RedisStore, error) {
	if api == nil {
		return nil, errors.New("session: redis client must not be nil")
	}
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}
	return &RedisStore{api: api, ttl: ttl}, nil
}

// DialRedis parses a redis:// URL and pings the server.
func DialRedis(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("session: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: ping redis: %w", err)
	}
	return NewRedisStore(client, ttl)
}

func redisKey(phone string) string {
	return keyPrefix + domain.NormalizePhone(phone)
}

func (r *RedisStore) Get(ctx context.Context, phone string) (domain.Session, bool, error) {
	raw, err := r.api.Get(ctx, redisKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("session: redis get: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Session{}, false, fmt.Errorf("session: decode session: %w", err)
	}
	if s.Responses == nil {
		s.Responses = map[string]domain.Response{}
	}
	return s, true, nil
}

func (r *RedisStore) Put(ctx context.Context, s domain.Session) error {
	s.Phone = domain.NormalizePhone(s.Phone)
	if s.Phone == "" {
		return errors.New("session: phone must not be empty")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode session: %w", err)
	}
	if err := r.api.Set(ctx, redisKey(s.Phone), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, phone string) error {
	if err := r.api.Del(ctx, redisKey(phone)).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.api.Close()
}
