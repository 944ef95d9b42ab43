package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Remote is the shared tier behind the in-process cache. A nil Remote
// means the deployment runs without one; every caller treats Remote
// failures as misses.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) error
	Ping(ctx context.Context) error
	Close() error
}

// redisRemote backs Remote with a Redis instance.
type redisRemote struct {
	client *redis.Client
}

// NewRedisRemote connects to the Redis URL, e.g.
// redis://localhost:6379/0.
func NewRedisRemote(url string) (Remote, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &redisRemote{client: redis.NewClient(opts)}, nil
}

func (r *redisRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *redisRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisRemote) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// DeletePattern removes keys matching a glob pattern using SCAN, so
// large keyspaces are walked incrementally instead of blocking Redis.
func (r *redisRemote) DeletePattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 256).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 256 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.client.Del(ctx, batch...).Err()
	}
	return nil
}

func (r *redisRemote) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisRemote) Close() error {
	return r.client.Close()
}
