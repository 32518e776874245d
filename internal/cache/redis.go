package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/pkg/circuitbreaker"
)

const scanBatch = 200

// RedisTier is the shared out-of-process tier. Every call runs under a short
// timeout and behind a circuit breaker so a sick redis fails fast.
type RedisTier struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
	now     func() time.Time
}

type RedisTierConfig struct {
	Prefix          string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	Now             func() time.Time
}

// NewRedisTier requires a non-empty prefix: Clear deletes everything under
// it, and the database may be shared with other applications.
func NewRedisTier(client redis.UniversalClient, cfg RedisTierConfig) (*RedisTier, error) {
	if cfg.Prefix == "" {
		return nil, ErrEmptyPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 150 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RedisTier{
		client:  client,
		prefix:  cfg.Prefix,
		timeout: cfg.Timeout,
		now:     cfg.Now,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "cache-redis",
			MaxFailures: cfg.BreakerFailures,
			Timeout:     cfg.BreakerCooldown,
			Now:         cfg.Now,
		}),
	}, nil
}

func (r *RedisTier) remoteKey(key string) string {
	return r.prefix + key
}

// BreakerState is exposed for readiness reporting.
func (r *RedisTier) BreakerState() circuitbreaker.State {
	return r.breaker.State()
}

func (r *RedisTier) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.breaker.Execute(func() error {
		opCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return fn(opCtx)
	})
}

// Get returns the entry and its remaining lifetime. ExpiresAt is zero for a
// key without expiry. A missing key yields errMiss.
func (r *RedisTier) Get(ctx context.Context, key string) (model.CacheEntry, error) {
	var (
		value []byte
		pttl  time.Duration
		miss  bool
	)

	err := r.do(ctx, func(ctx context.Context) error {
		pipe := r.client.Pipeline()
		get := pipe.Get(ctx, r.remoteKey(key))
		ttl := pipe.PTTL(ctx, r.remoteKey(key))
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		b, err := get.Bytes()
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		value = b
		pttl = ttl.Val()
		return nil
	})
	if err != nil {
		return model.CacheEntry{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	// -2 means the key vanished between GET and PTTL.
	if miss || pttl == -2 {
		return model.CacheEntry{}, errMiss
	}

	now := r.now()
	entry := model.CacheEntry{
		Key:          key,
		Value:        value,
		LastAccessAt: now,
		SizeBytes:    len(key) + len(value),
	}
	if pttl > 0 {
		entry.ExpiresAt = now.Add(pttl)
	}
	return entry, nil
}

func (r *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := r.do(ctx, func(ctx context.Context) error {
		return r.client.Set(ctx, r.remoteKey(key), value, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete is idempotent; deleting an absent key succeeds.
func (r *RedisTier) Delete(ctx context.Context, key string) error {
	err := r.do(ctx, func(ctx context.Context) error {
		return r.client.Del(ctx, r.remoteKey(key)).Err()
	})
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Clear deletes every key under the prefix and returns how many went away.
// It runs under the caller's context rather than the per-op timeout.
func (r *RedisTier) Clear(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis del batch: %w", err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
