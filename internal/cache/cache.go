// Package cache implements a two-tier read cache: an in-process map in front of
// a durable key-value store, with per-call TTLs and cache-aside loading.
//
// Durable-tier failures (quota, malformed records, I/O) never reach the caller.
// Reads degrade to a miss and writes degrade to memory-only.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"proposalsync/internal/durable"
)

const (
	// DefaultNamespace prefixes every durable key the cache owns.
	DefaultNamespace = "proposalsync:cache:"
	DefaultTTL       = 5 * time.Minute
)

const (
	TierMemory  = "memory"
	TierDurable = "durable"
)

// Metrics receives cache events.
type Metrics interface {
	Hit(tier string)
	Miss()
	DurableFailure(op string)
}

// NoopMetrics ignores every event.
type NoopMetrics struct{}

func (NoopMetrics) Hit(string)            {}
func (NoopMetrics) Miss()                 {}
func (NoopMetrics) DurableFailure(string) {}

type Config struct {
	// Store is the durable tier. Nil keeps the cache memory-only.
	Store      durable.Store
	Namespace  string
	DefaultTTL time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
	Metrics    Metrics
}

type entry struct {
	value     any
	writtenAt time.Time
	expiresAt time.Time
}

func (e entry) live(now time.Time) bool {
	return now.Before(e.expiresAt)
}

// record is the durable encoding of an entry. Timestamps are unix milliseconds.
type record struct {
	Value     json.RawMessage `json:"value"`
	WrittenAt int64           `json:"writtenAt"`
	ExpiresAt int64           `json:"expiresAt"`
}

type Cache struct {
	mu         sync.Mutex
	memory     map[string]entry
	store      durable.Store
	namespace  string
	defaultTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    Metrics
	flights    singleflight.Group
}

func New(cfg Config) *Cache {
	c := &Cache{
		memory:     make(map[string]entry),
		store:      cfg.Store,
		namespace:  cfg.Namespace,
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Now,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if c.namespace == "" {
		c.namespace = DefaultNamespace
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = DefaultTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = NoopMetrics{}
	}
	return c
}

type options struct {
	ttl        time.Duration
	memory     bool
	persistent bool
}

// Option adjusts a single cache call.
type Option func(*options)

// WithTTL sets the lifetime of a written entry. Non-positive values fall back
// to the cache default.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithoutMemory skips the in-process tier.
func WithoutMemory() Option {
	return func(o *options) { o.memory = false }
}

// WithoutPersistent skips the durable tier.
func WithoutPersistent() Option {
	return func(o *options) { o.persistent = false }
}

func (c *Cache) resolve(opts []Option) options {
	o := options{ttl: c.defaultTTL, memory: true, persistent: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = c.defaultTTL
	}
	if c.store == nil {
		o.persistent = false
	}
	return o
}

// Namespace returns the durable key prefix owned by the cache.
func (c *Cache) Namespace() string {
	return c.namespace
}

// Get returns the live value cached under key. The memory tier is consulted
// first; a live durable hit repopulates the memory tier when it is enabled for
// the call. A cached value whose type is not T counts as a miss.
func Get[T any](ctx context.Context, c *Cache, key string, opts ...Option) (T, bool) {
	var zero T
	o := c.resolve(opts)
	now := c.now()

	if o.memory {
		if value, ok := c.memoryGet(key, now); ok {
			if typed, ok := value.(T); ok {
				c.metrics.Hit(TierMemory)
				return typed, true
			}
		}
	}

	if o.persistent {
		if rec, ok := c.durableGet(ctx, key, now); ok {
			var value T
			if err := json.Unmarshal(rec.Value, &value); err != nil {
				c.logger.Warn("cache durable value does not decode", "key", key, "err", err)
				c.metrics.DurableFailure("decode")
			} else {
				if o.memory {
					c.memoryPut(key, entry{
						value:     value,
						writtenAt: time.UnixMilli(rec.WrittenAt),
						expiresAt: time.UnixMilli(rec.ExpiresAt),
					})
				}
				c.metrics.Hit(TierDurable)
				return value, true
			}
		}
	}

	c.metrics.Miss()
	return zero, false
}

// Set writes value to every enabled tier with expiresAt = now + ttl. A failed
// durable write is logged and dropped; the memory tier still serves the value.
func Set[T any](ctx context.Context, c *Cache, key string, value T, opts ...Option) {
	o := c.resolve(opts)
	now := c.now()
	expiresAt := now.Add(o.ttl)

	if o.memory {
		c.memoryPut(key, entry{value: value, writtenAt: now, expiresAt: expiresAt})
	}
	if !o.persistent {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value does not encode", "key", key, "err", err)
		c.metrics.DurableFailure("encode")
		return
	}
	raw, err := json.Marshal(record{
		Value:     payload,
		WrittenAt: now.UnixMilli(),
		ExpiresAt: expiryMillis(expiresAt),
	})
	if err != nil {
		c.metrics.DurableFailure("encode")
		return
	}
	if err := c.store.SetItem(ctx, c.namespace+key, string(raw)); err != nil {
		if errors.Is(err, durable.ErrQuotaExceeded) {
			c.logger.Warn("cache durable tier is full, keeping entry in memory only", "key", key)
		} else {
			c.logger.Warn("cache durable write failed", "key", key, "err", err)
		}
		c.metrics.DurableFailure("write")
	}
}

// GetOrFetch returns the cached value for key, or calls fetch on a miss and
// caches its result with the same options. Concurrent misses on one key share
// a single fetch, which runs with the first caller's context. Fetch errors are
// returned unmodified and nothing is cached.
func GetOrFetch[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) (T, error), opts ...Option) (T, error) {
	var zero T
	if value, ok := Get[T](ctx, c, key, opts...); ok {
		return value, nil
	}

	result, err, _ := c.flights.Do(key, func() (any, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		Set(ctx, c, key, value, opts...)
		return value, nil
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	value, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("cache key %q holds %T, not the requested type", key, result)
	}
	return value, nil
}

// Invalidate removes key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.memory, key)
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.RemoveItem(ctx, c.namespace+key); err != nil {
		c.logger.Warn("cache durable remove failed", "key", key, "err", err)
		c.metrics.DurableFailure("remove")
	}
}

// Clear empties the memory tier and removes every durable key under the cache
// namespace. Keys outside the namespace are left alone.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.memory = make(map[string]entry)
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	keys, err := c.store.Keys(ctx, c.namespace)
	if err != nil {
		c.logger.Warn("cache durable listing failed", "err", err)
		c.metrics.DurableFailure("list")
		return
	}
	for _, key := range keys {
		if err := c.store.RemoveItem(ctx, key); err != nil {
			c.logger.Warn("cache durable remove failed", "key", key, "err", err)
			c.metrics.DurableFailure("remove")
		}
	}
}

// Purge drops expired and unreadable entries from both tiers and reports how
// many durable records were removed.
func (c *Cache) Purge(ctx context.Context) int {
	now := c.now()
	c.mu.Lock()
	for key, ent := range c.memory {
		if !ent.live(now) {
			delete(c.memory, key)
		}
	}
	c.mu.Unlock()

	if c.store == nil {
		return 0
	}
	keys, err := c.store.Keys(ctx, c.namespace)
	if err != nil {
		c.metrics.DurableFailure("list")
		return 0
	}
	removed := 0
	for _, storeKey := range keys {
		raw, ok, err := c.store.GetItem(ctx, storeKey)
		if err != nil || !ok {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err == nil && now.Before(time.UnixMilli(rec.ExpiresAt)) {
			continue
		}
		if err := c.store.RemoveItem(ctx, storeKey); err == nil {
			removed++
		}
	}
	return removed
}

func (c *Cache) memoryGet(key string, now time.Time) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.memory[key]
	if !ok {
		return nil, false
	}
	if !ent.live(now) {
		delete(c.memory, key)
		return nil, false
	}
	return ent.value, true
}

func (c *Cache) memoryPut(key string, ent entry) {
	c.mu.Lock()
	c.memory[key] = ent
	c.mu.Unlock()
}

// durableGet reads and validates the durable record for key. Expired and
// malformed records are removed.
func (c *Cache) durableGet(ctx context.Context, key string, now time.Time) (record, bool) {
	storeKey := c.namespace + key
	raw, ok, err := c.store.GetItem(ctx, storeKey)
	if err != nil {
		c.logger.Warn("cache durable read failed", "key", key, "err", err)
		c.metrics.DurableFailure("read")
		return record{}, false
	}
	if !ok {
		return record{}, false
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.ExpiresAt == 0 {
		c.logger.Warn("cache durable record is malformed", "key", key)
		c.metrics.DurableFailure("decode")
		_ = c.store.RemoveItem(ctx, storeKey)
		return record{}, false
	}
	if !now.Before(time.UnixMilli(rec.ExpiresAt)) {
		if err := c.store.RemoveItem(ctx, storeKey); err != nil {
			c.metrics.DurableFailure("remove")
		}
		return record{}, false
	}
	return rec, true
}

// expiryMillis rounds up to the next millisecond so a durable record never
// expires before the entry it was written for.
func expiryMillis(t time.Time) int64 {
	ms := t.UnixMilli()
	if time.UnixMilli(ms).Before(t) {
		ms++
	}
	return ms
}
