package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/pkg/logger"
	"github.com/jwalitptl/towndir/pkg/messaging"
	"github.com/jwalitptl/towndir/pkg/metrics"
)

// Loader is the authoritative read behind the cache. It returns ErrNotFound
// when the row does not exist.
type Loader interface {
	Load(ctx context.Context, key string) ([]byte, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, key string) ([]byte, error)

func (f LoaderFunc) Load(ctx context.Context, key string) ([]byte, error) {
	return f(ctx, key)
}

type Config struct {
	KeyPrefix           string
	MemoryTTL           time.Duration
	RedisTTL            time.Duration
	MemoryMaxEntries    int
	MemoryMaxBytes      int64
	RemoteTimeout       time.Duration
	InvalidationRetries int
	// InvalidationBackoff is the first wait between remote delete attempts.
	InvalidationBackoff time.Duration
	BreakerFailures     int
	BreakerCooldown     time.Duration
	InvalidationChannel string
}

func (c Config) withDefaults() Config {
	if c.MemoryTTL <= 0 {
		c.MemoryTTL = 5 * time.Minute
	}
	if c.RedisTTL <= 0 {
		c.RedisTTL = time.Hour
	}
	if c.MemoryMaxEntries <= 0 {
		c.MemoryMaxEntries = 10000
	}
	if c.InvalidationRetries < 0 {
		c.InvalidationRetries = 0
	}
	if c.InvalidationBackoff <= 0 {
		c.InvalidationBackoff = 25 * time.Millisecond
	}
	if c.InvalidationChannel == "" {
		c.InvalidationChannel = "towndir:cache:invalidate"
	}
	return c
}

type options struct {
	redis   redis.UniversalClient
	broker  messaging.Broker
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

type Option func(*options)

// WithRedis enables the remote tier.
func WithRedis(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithBroker broadcasts invalidations to peer processes and lets Listen
// receive theirs.
func WithBroker(b messaging.Broker) Option {
	return func(o *options) { o.broker = b }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// invalidation is the pub/sub payload exchanged between processes.
type invalidation struct {
	Origin string `json:"origin"`
	Key    string `json:"key,omitempty"`
	All    bool   `json:"all,omitempty"`
}

// Manager serves read-through lookups across memory, redis and the
// database. One Manager is built per process and shared by every handler.
type Manager struct {
	cfg     Config
	id      string
	memory  *MemoryTier
	remote  *RedisTier
	loader  Loader
	broker  messaging.Broker
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
	stats   *statsRecorder
	group   singleflight.Group

	// epochs guards against a load that started before an invalidation
	// writing its result back after it.
	epochMu sync.Mutex
	epochs  map[string]uint64
}

func NewManager(cfg Config, loader Loader, opts ...Option) (*Manager, error) {
	if loader == nil {
		return nil, errors.New("cache: loader is required")
	}
	cfg = cfg.withDefaults()
	if cfg.MemoryTTL > cfg.RedisTTL {
		return nil, fmt.Errorf("cache: memory ttl %s exceeds redis ttl %s", cfg.MemoryTTL, cfg.RedisTTL)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New("towndir")
	}
	if o.log == nil {
		o.log = logger.Nop()
	}

	memory, err := NewMemoryTier(cfg.MemoryMaxEntries, cfg.MemoryMaxBytes, o.now)
	if err != nil {
		return nil, err
	}
	stats, err := newStatsRecorder(cfg.MemoryMaxEntries, o.now())
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		id:      uuid.NewString(),
		memory:  memory,
		loader:  loader,
		broker:  o.broker,
		metrics: o.metrics,
		log:     o.log,
		now:     o.now,
		stats:   stats,
		epochs:  make(map[string]uint64),
	}
	if o.redis != nil {
		m.remote, err = NewRedisTier(o.redis, RedisTierConfig{
			Prefix:          cfg.KeyPrefix,
			Timeout:         cfg.RemoteTimeout,
			BreakerFailures: cfg.BreakerFailures,
			BreakerCooldown: cfg.BreakerCooldown,
			Now:             o.now,
		})
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Get returns the value for key and the tier that answered. The returned
// slice is shared and must not be modified.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, model.Tier, error) {
	if key == "" {
		return nil, 0, ErrInvalidKey
	}

	now := m.now()
	if e, ok := m.memory.Get(key); ok {
		m.recordHit(model.TierMemory, key, now)
		return e.Value, model.TierMemory, nil
	}
	m.recordMiss(model.TierMemory, key, now)

	if m.remote != nil {
		epoch := m.epoch(key)
		entry, err := m.remote.Get(ctx, key)
		switch {
		case err == nil:
			m.recordHit(model.TierRedis, key, now)
			m.backfillMemory(key, entry, epoch)
			return entry.Value, model.TierRedis, nil
		case errors.Is(err, errMiss):
			m.recordMiss(model.TierRedis, key, now)
		default:
			m.recordMiss(model.TierRedis, key, now)
			m.remoteError("get", key, err)
		}
	}

	m.stats.uncached(key, now)
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.load(ctx, key)
	})
	if err != nil {
		return nil, 0, err
	}
	return v.([]byte), model.TierDatabase, nil
}

// GetJSON decodes the cached value for key into T.
func GetJSON[T any](ctx context.Context, m *Manager, key string) (T, model.Tier, error) {
	var out T
	raw, tier, err := m.Get(ctx, key)
	if err != nil {
		return out, 0, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, tier, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return out, tier, nil
}

func (m *Manager) load(ctx context.Context, key string) ([]byte, error) {
	epoch := m.epoch(key)

	m.stats.query(key, m.now())
	m.metrics.CacheDatabaseQueries.Inc()

	value, err := m.loader.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	if m.epoch(key) == epoch {
		m.fill(ctx, key, value, epoch)
	}
	return value, nil
}

// Set writes key to both tiers with their own TTLs. A redis failure is
// returned after the memory tier has been written.
func (m *Manager) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	return m.fill(ctx, key, value, m.epoch(key))
}

// fill backfills redis then memory, and undoes both if an invalidation of
// key raced with the write.
func (m *Manager) fill(ctx context.Context, key string, value []byte, epoch uint64) error {
	var remoteErr error
	if m.remote != nil {
		if err := m.remote.Set(ctx, key, value, m.cfg.RedisTTL); err != nil {
			m.remoteError("set", key, err)
			remoteErr = err
		}
	}

	m.memory.Set(key, value, m.cfg.MemoryTTL)
	m.observeMemory()

	if m.epoch(key) != epoch {
		m.memory.Delete(key)
		if m.remote != nil && remoteErr == nil {
			if err := m.remote.Delete(ctx, key); err != nil {
				m.remoteError("del", key, err)
			}
		}
		m.observeMemory()
	}
	return remoteErr
}

func (m *Manager) backfillMemory(key string, entry model.CacheEntry, epoch uint64) {
	ttl := m.cfg.MemoryTTL
	if !entry.ExpiresAt.IsZero() {
		if remaining := entry.RemainingTTL(m.now()); remaining < ttl {
			ttl = remaining
		}
	}

	m.memory.Set(key, entry.Value, ttl)
	if m.epoch(key) != epoch {
		m.memory.Delete(key)
	}
	m.observeMemory()
}

// Invalidate removes key from every tier before returning. Invalidating an
// absent key succeeds. A remote delete that still fails after bounded
// retries yields an error wrapping ErrInvalidationIncomplete.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	m.bumpEpoch(key)
	m.group.Forget(key)
	m.memory.Delete(key)

	var err error
	if m.remote != nil {
		err = m.retryRemote(ctx, func() error {
			return m.remote.Delete(ctx, key)
		})
		// A concurrent redis hit may have backfilled memory meanwhile.
		m.memory.Delete(key)
	}
	m.observeMemory()
	m.broadcast(ctx, invalidation{Key: key})

	if err != nil {
		m.metrics.CacheInvalidationFailures.Inc()
		m.log.Error(err, "cache invalidation incomplete", "key", key)
		return fmt.Errorf("%w: %s: %v", ErrInvalidationIncomplete, key, err)
	}
	m.metrics.CacheInvalidations.Inc()
	return nil
}

// InvalidateCascade invalidates every key that embeds ref. All keys are
// attempted even when one fails; failures are joined.
func (m *Manager) InvalidateCascade(ctx context.Context, ref model.EntityRef) error {
	keys, err := CascadeKeys(ref)
	if err != nil {
		return err
	}

	var errs []error
	for _, key := range keys {
		if err := m.Invalidate(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) retryRemote(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.InvalidationBackoff
	b.MaxInterval = 20 * m.cfg.InvalidationBackoff
	b.MaxElapsedTime = 0

	return backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(m.cfg.InvalidationRetries)),
		ctx,
	))
}

// Clear empties one tier and returns how many entries went away. The
// database tier cannot be cleared.
func (m *Manager) Clear(ctx context.Context, tier model.Tier) (int64, error) {
	switch tier {
	case model.TierMemory:
		n := int64(m.memory.Len())
		m.memory.Purge()
		m.observeMemory()
		m.broadcast(ctx, invalidation{All: true})
		m.log.Info("memory tier cleared", "entries", n)
		return n, nil
	case model.TierRedis:
		if m.remote == nil {
			return 0, fmt.Errorf("%w: redis tier is not configured", ErrUnsupportedTier)
		}
		n, err := m.remote.Clear(ctx)
		if err != nil {
			m.remoteError("clear", "*", err)
			return n, err
		}
		m.log.Info("redis tier cleared", "entries", n)
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedTier, tier)
	}
}

// Stats snapshots the counters along with the live memory entries.
func (m *Manager) Stats() model.CacheStats {
	return m.stats.snapshot(m.memory, m.now())
}

// ResetStats zeroes every counter. Cached entries are kept.
func (m *Manager) ResetStats() {
	m.stats.reset(m.now())
}

// RemoteState reports the redis breaker state, or "disabled".
func (m *Manager) RemoteState() string {
	if m.remote == nil {
		return "disabled"
	}
	return m.remote.BreakerState().String()
}

// Listen subscribes to invalidations broadcast by peer processes and drops
// the named keys from the local memory tier until ctx is done.
func (m *Manager) Listen(ctx context.Context) error {
	if m.broker == nil {
		return nil
	}

	msgs, err := m.broker.Subscribe(ctx, m.cfg.InvalidationChannel)
	if err != nil {
		return fmt.Errorf("cache: listen for invalidations: %w", err)
	}

	go func() {
		for payload := range msgs {
			var msg invalidation
			if err := json.Unmarshal(payload, &msg); err != nil {
				m.log.Warn("dropping malformed invalidation", "error", err.Error())
				continue
			}
			if msg.Origin == m.id {
				continue
			}
			m.applyPeerInvalidation(msg)
		}
	}()
	return nil
}

func (m *Manager) applyPeerInvalidation(msg invalidation) {
	if msg.All {
		m.memory.Purge()
	} else if msg.Key != "" {
		m.bumpEpoch(msg.Key)
		m.memory.Delete(msg.Key)
	}
	m.observeMemory()
}

func (m *Manager) broadcast(ctx context.Context, msg invalidation) {
	if m.broker == nil {
		return
	}
	msg.Origin = m.id
	if err := m.broker.Publish(ctx, m.cfg.InvalidationChannel, msg); err != nil {
		m.remoteError("publish", msg.Key, err)
	}
}

func (m *Manager) epoch(key string) uint64 {
	m.epochMu.Lock()
	defer m.epochMu.Unlock()
	return m.epochs[key]
}

func (m *Manager) bumpEpoch(key string) {
	m.epochMu.Lock()
	defer m.epochMu.Unlock()
	m.epochs[key]++
}

func (m *Manager) recordHit(tier model.Tier, key string, now time.Time) {
	m.stats.hit(tier, key, now)
	m.metrics.CacheHits.WithLabelValues(tier.String()).Inc()
}

func (m *Manager) recordMiss(tier model.Tier, key string, now time.Time) {
	m.stats.miss(tier, key, now)
	m.metrics.CacheMisses.WithLabelValues(tier.String()).Inc()
}

func (m *Manager) remoteError(op, key string, err error) {
	m.metrics.CacheRemoteErrors.WithLabelValues(op).Inc()
	m.log.Warn("redis tier degraded", "operation", op, "key", key, "error", err.Error())
}

func (m *Manager) observeMemory() {
	m.metrics.CacheMemoryBytes.Set(float64(m.memory.Bytes()))
}
