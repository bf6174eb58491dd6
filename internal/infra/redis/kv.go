package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"comment-refiner/internal/domain"
	"comment-refiner/internal/domain/ports/repository"
	"comment-refiner/internal/infra/metrics"
)

var _ repository.KVStore = (*KV)(nil)

// KV is the session byte store. Every write refreshes the key's TTL, so idle sessions expire.
type KV struct {
	client RedisClient
	ttl    time.Duration
}

func NewKV(client RedisClient, ttl time.Duration) *KV {
	return &KV{client: client, ttl: ttl}
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := k.client.GetBytes(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		metrics.IncCacheRequest("session", "miss")
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	metrics.IncCacheRequest("session", "hit")
	return b, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	if err := k.client.Set(ctx, key, value, k.ttl); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
