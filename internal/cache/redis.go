package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"
	cb "github.com/sony/gobreaker"
)

const redisTimeout = 500 * time.Millisecond

// RedisCache stores payloads in Redis behind a circuit breaker so a slow or
// unavailable Redis turns into cache misses instead of stalled requests
type RedisCache struct {
	client  redis.Cmdable
	prefix  string
	breaker *cb.CircuitBreaker
}

// NewRedis connects a Redis cache for opts
func NewRedis(opts Options) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr: opts.RedisAddr,
		DB:   opts.RedisDB,
	})
	return NewRedisWithClient(client, opts)
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client redis.Cmdable, opts Options) *RedisCache {
	return &RedisCache{
		client:  client,
		prefix:  opts.KeyPrefix,
		breaker: newBreaker("redis-cache", opts.BreakerFailures, opts.BreakerTimeout),
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	v, err := r.breaker.Execute(func() (interface{}, error) {
		b, err := r.client.Get(ctx, r.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			// a miss is not a failure for the breaker
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	if v == nil {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return b, b != nil, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, r.prefix+key, val, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCache) Name() string { return BackendRedis }

// State exposes the breaker state for health reporting
func (r *RedisCache) State() string {
	return r.breaker.State().String()
}

func newBreaker(name string, failures uint32, timeout time.Duration) *cb.CircuitBreaker {
	if failures == 0 {
		failures = 3
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = timeout
	st.ReadyToTrip = func(counts cb.Counts) bool {
		return counts.ConsecutiveFailures >= failures
	}
	return cb.NewCircuitBreaker(st)
}

// Close releases the underlying client connections
func (r *RedisCache) Close() error {
	if closer, ok := r.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
