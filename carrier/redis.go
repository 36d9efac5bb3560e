// Package carrier holds RegistrationCarrier stores shared across server instances.
package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	onboard "github.com/goliatone/go-onboard"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "onboard:carrier:"

// Cmdable is the subset of the go-redis client the store needs.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps carriers as JSON values that expire with the invite TTL.
type RedisStore struct {
	client Cmdable
	prefix string
	ttl    time.Duration
}

type Option func(*RedisStore)

func WithPrefix(prefix string) Option {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewRedisStore(client Cmdable, opts ...Option) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: defaultPrefix,
		ttl:    onboard.DefaultInviteTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

var _ onboard.CarrierStore = (*RedisStore)(nil)

// Read returns nil, nil for unknown or expired keys.
func (s *RedisStore) Read(ctx context.Context, key string) (*onboard.RegistrationCarrier, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read registration carrier")
	}

	out := &onboard.RegistrationCarrier{}
	if err := json.Unmarshal(raw, out); err != nil {
		// a corrupt value is treated as a lost flow
		return nil, nil
	}
	return out, nil
}

func (s *RedisStore) Write(ctx context.Context, key string, carrier *onboard.RegistrationCarrier) error {
	if carrier == nil {
		return s.Destroy(ctx, key)
	}

	raw, err := json.Marshal(carrier)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode registration carrier")
	}

	if err := s.client.Set(ctx, s.key(key), raw, s.ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store registration carrier")
	}
	return nil
}

func (s *RedisStore) Destroy(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to destroy registration carrier")
	}
	return nil
}

func (s *RedisStore) key(key string) string {
	return fmt.Sprintf("%s%s", s.prefix, key)
}
