package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier adapts github.com/redis/go-redis/v9 to the DurableTier
// interface, adapted directly from the teacher's internal/cache's
// GoRedisAdapter/NewGoRedisClient.
type RedisTier struct {
	client *redis.Client
}

// NewRedisTier parses redisURL and pings the server with a bounded timeout
// before returning, so startup fails fast on a misconfigured durable tier
// (mirroring internal/cache/redis_adapter.go's NewGoRedisClient).
func NewRedisTier(redisURL string) (*RedisTier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisTier{client: client}, nil
}

func (r *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisTier) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisTier) Keys(ctx context.Context, prefix string) ([]string, error) {
	return r.client.Keys(ctx, prefix+"*").Result()
}

func (r *RedisTier) Close() error {
	return r.client.Close()
}
