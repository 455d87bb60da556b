package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	Header     = "Idempotency-Key"
	keyPrefix  = "idempotency:order:"
	pending    = "pending"
	DefaultTTL = 24 * time.Hour
)

// Store remembers which order a client-supplied key produced.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func Key(userID, clientKey string) string {
	return keyPrefix + userID + ":" + clientKey
}

// Reserve claims key. When the key is already taken it returns the order id
// recorded for it, or an empty string while the first request is in flight.
func (s *Store) Reserve(ctx context.Context, key string) (orderID string, reserved bool, err error) {
	ok, err := s.client.SetNX(ctx, key, pending, s.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}

	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; let the caller retry
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	if v == pending {
		return "", false, nil
	}
	return v, false, nil
}

func (s *Store) Complete(ctx context.Context, key, orderID string) error {
	return s.client.Set(ctx, key, orderID, s.ttl).Err()
}

func (s *Store) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
