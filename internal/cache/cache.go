// Package cache memoizes computed results by input digest. The engine itself
// never caches; callers opt in through this package.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Cache stores opaque payloads with a TTL
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Name() string
}

// Backend names accepted by New
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Memory backend limits used when Options leaves them unset
const (
	DefaultMaxEntries = 10000
	DefaultSweepEvery = time.Minute
)

// Options selects and configures a backend
type Options struct {
	Backend         string
	MaxEntries      int
	RedisAddr       string
	RedisDB         int
	KeyPrefix       string
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// New builds the cache described by opts
func New(opts Options) (Cache, error) {
	switch opts.Backend {
	case "", BackendNone:
		return Noop{}, nil
	case BackendMemory:
		return NewMemoryWithLimits(opts.MaxEntries, DefaultSweepEvery), nil
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis cache requires an address")
		}
		return NewRedis(opts), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// Memory is a process-local cache bounded by entry count. Expired entries are
// swept by a background janitor until Close, and a full cache drops expired
// entries first, then the least recently used one.
type Memory struct {
	mu         sync.Mutex
	m          map[string]*entry
	maxEntries int
	stop       chan struct{}
	closeOnce  sync.Once
}

type entry struct {
	b        []byte
	exp      time.Time
	accessed time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.exp.IsZero() && now.After(e.exp)
}

// NewMemory returns a memory cache with the default limits
func NewMemory() *Memory {
	return NewMemoryWithLimits(DefaultMaxEntries, DefaultSweepEvery)
}

// NewMemoryWithLimits returns a memory cache holding at most maxEntries
// payloads and sweeping expired ones every sweepEvery
func NewMemoryWithLimits(maxEntries int, sweepEvery time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepEvery
	}
	c := &Memory{
		m:          make(map[string]*entry),
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go c.janitor(sweepEvery)
	return c
}

func (c *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false, nil
	}
	now := time.Now()
	if e.expired(now) {
		delete(c.m, key)
		return nil, false, nil
	}
	e.accessed = now
	return e.b, true, nil
}

func (c *Memory) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, exists := c.m[key]; !exists && len(c.m) >= c.maxEntries {
		c.removeExpired(now)
		if len(c.m) >= c.maxEntries {
			c.evictLRU()
		}
	}

	e := &entry{b: append([]byte(nil), val...), accessed: now}
	if ttl > 0 {
		e.exp = now.Add(ttl)
	}
	c.m[key] = e
	return nil
}

func (c *Memory) Name() string { return BackendMemory }

// Len returns the number of stored entries, expired ones included until swept
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Close stops the janitor; the cache stays usable
func (c *Memory) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *Memory) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			c.removeExpired(now)
			c.mu.Unlock()
		}
	}
}

// removeExpired drops every expired entry (caller must hold the lock)
func (c *Memory) removeExpired(now time.Time) {
	for key, e := range c.m {
		if e.expired(now) {
			delete(c.m, key)
		}
	}
}

// evictLRU drops the least recently used entry (caller must hold the lock)
func (c *Memory) evictLRU() {
	var oldestKey string
	var oldest time.Time
	for key, e := range c.m {
		if oldestKey == "" || e.accessed.Before(oldest) {
			oldestKey = key
			oldest = e.accessed
		}
	}
	if oldestKey != "" {
		delete(c.m, oldestKey)
	}
}

// Noop never stores anything
type Noop struct{}

func (Noop) Get(ctx context.Context, key string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error { return nil }

func (Noop) Name() string { return BackendNone }
