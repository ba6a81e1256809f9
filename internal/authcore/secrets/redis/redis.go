// Package redis implements secrets.Store on top of a Redis server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openkettle/authcore/internal/authcore/secrets"
)

type Store struct {
	client redis.UniversalClient
}

var _ secrets.Store = (*Store)(nil)

// New dials addr and verifies the connection before returning.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", secrets.ErrUnavailable, err)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client. Used by tests with miniredis.
func NewFromClient(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return val, nil
	case errors.Is(err, redis.Nil):
		return "", secrets.ErrNotFound
	default:
		return "", fmt.Errorf("%w: %v", secrets.ErrUnavailable, err)
	}
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", secrets.ErrUnavailable, err)
	}
	return nil
}

// Delete removes all keys in a single MULTI/EXEC so a consume either clears
// every related key or none of them.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", secrets.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Increment(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", secrets.ErrUnavailable, err)
	}
	return n, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", secrets.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", secrets.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
