// Package redis stores carts in Redis.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

var _ cart.Store = (*CartStore)(nil)

// CartStore keeps each cart in a hash of product id to quantity. The key
// expires ttl after the last write.
type CartStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCartStore creates a CartStore.
func NewCartStore(client redis.UniversalClient, ttl time.Duration) *CartStore {
	return &CartStore{client: client, ttl: ttl}
}

func cartKey(userID string) string {
	return "cart:" + userID
}

// Lines returns the lines of the user's cart.
func (s *CartStore) Lines(ctx context.Context, userID string) ([]cart.Line, error) {
	fields, err := s.client.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "hgetall")
	}

	lines := make([]cart.Line, 0, len(fields))
	for id, raw := range fields {
		q, err := strconv.Atoi(raw)
		if err != nil || q < 1 {
			continue
		}
		lines = append(lines, cart.Line{ProductID: id, Quantity: q})
	}
	return lines, nil
}

// SetQuantity stores quantity for productID.
func (s *CartStore) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	key := cartKey(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, productID, quantity)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "hset")
	}
	return nil
}

// Remove deletes productID from the cart.
func (s *CartStore) Remove(ctx context.Context, userID, productID string) error {
	if err := s.client.HDel(ctx, cartKey(userID), productID).Err(); err != nil {
		return errors.Wrap(err, "hdel")
	}
	return nil
}

// Clear deletes the cart.
func (s *CartStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, cartKey(userID)).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}
