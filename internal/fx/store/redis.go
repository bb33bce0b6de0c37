package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"flowlend/internal/fx"
	dErrors "flowlend/pkg/domain-errors"
)

const priceKey = "fx:price:latest"

// RedisStore shares the latest price observation across instances. The
// oracle feeder writes, converters read; no TTL is set because staleness is
// judged against the observation timestamp, not key expiry.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Latest(ctx context.Context) (*fx.Price, error) {
	raw, err := s.client.Get(ctx, priceKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, dErrors.New(dErrors.CodeStalePrice, "no exchange rate has been observed yet")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read exchange rate")
	}

	var price fx.Price
	if err := json.Unmarshal([]byte(raw), &price); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode exchange rate")
	}
	return &price, nil
}

func (s *RedisStore) Put(ctx context.Context, price fx.Price) error {
	raw, err := json.Marshal(price)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode exchange rate")
	}
	if err := s.client.Set(ctx, priceKey, raw, 0).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store exchange rate")
	}
	return nil
}
