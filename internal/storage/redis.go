package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisGateway is an optional pluggable Storage Gateway backend for
// deployments that want durability and a shared backing store (still
// single-process per spec's Non-goals — redis here is a persistence
// choice, not a path to horizontal scale-out with shared state).
type RedisGateway struct {
	client *redis.Client
}

// NewRedisGateway dials the given Redis URL (e.g. "redis://host:6379/0").
func NewRedisGateway(url string) (*RedisGateway, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisGateway{client: redis.NewClient(opt)}, nil
}

func (g *RedisGateway) Load(ctx context.Context, key string, out any) error {
	raw, err := g.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return nil // read errors surface as "not found -> default", per spec §4.1
	}
	return json.Unmarshal(raw, out)
}

func (g *RedisGateway) Save(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return g.client.Set(ctx, key, raw, 0).Err()
}

func (g *RedisGateway) Delete(ctx context.Context, key string) error {
	return g.client.Del(ctx, key).Err()
}

// Close releases the underlying connection pool.
func (g *RedisGateway) Close() error {
	return g.client.Close()
}
