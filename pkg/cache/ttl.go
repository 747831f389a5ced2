package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// ttlCache expires entries a fixed duration after they are written. A
// background sweep reclaims expired entries; lookups also expire lazily
// so a stale value is never returned between sweeps.
type ttlCache[V any] struct {
	ttl     time.Duration
	rec     *recorder
	evictFn EvictCallback[V]

	mu      sync.RWMutex
	entries map[string]ttlEntry[V]

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newTTLCache[V any](ctx context.Context, ttl, sweepInterval time.Duration, opts *cacheOptions[V]) (*ttlCache[V], error) {
	rec, err := newRecorder(opts)
	if err != nil {
		return nil, err
	}

	c := &ttlCache[V]{
		ttl:     ttl,
		rec:     rec,
		evictFn: opts.evictCallback,
		entries: make(map[string]ttlEntry[V]),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.sweepLoop(ctx, sweepInterval)
	return c, nil
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Now().After(entry.expiresAt) {
		c.expire(key)
		ok = false
	}
	if !ok {
		c.rec.miss()
		var zero V
		return zero, false
	}

	c.rec.hit()
	return entry.value, true
}

// expire removes key if it is still present and still past its expiry.
// The re-check matters because a writer may have replaced the entry
// between the caller's read and this lock.
func (c *ttlCache[V]) expire(key string) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	expired := ok && time.Now().After(entry.expiresAt)
	if expired {
		delete(c.entries, key)
	}
	size := len(c.entries)
	c.mu.Unlock()

	if expired {
		c.rec.evicted(1, size)
		if c.evictFn != nil {
			c.evictFn(key, entry.value)
		}
	}
}

func (c *ttlCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	_, existed := c.entries[key]
	c.entries[key] = ttlEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
	size := len(c.entries)
	c.mu.Unlock()

	c.rec.set(size)
	return !existed, nil
}

func (c *ttlCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	entry, existed := c.entries[key]
	if existed {
		delete(c.entries, key)
	}
	size := len(c.entries)
	c.mu.Unlock()

	if existed {
		c.rec.deleted(size)
		if c.evictFn != nil {
			c.evictFn(key, entry.value)
		}
	}
	return existed, nil
}

func (c *ttlCache[V]) Clear() error {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[string]ttlEntry[V])
	c.mu.Unlock()

	c.rec.resize(0)
	if c.evictFn != nil {
		for key, entry := range old {
			c.evictFn(key, entry.value)
		}
	}
	return nil
}

func (c *ttlCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ttlCache[V]) Stats() *Statistics { return c.rec.stats }

// Close stops the sweep goroutine. It waits briefly for the goroutine
// to exit so tests can assert nothing is left running.
func (c *ttlCache[V]) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("cache sweep goroutine did not stop")
	}
}

func (c *ttlCache[V]) sweepLoop(ctx context.Context, interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

// sweep removes everything expired as of now. Eviction callbacks run
// after the lock is released.
func (c *ttlCache[V]) sweep(now time.Time) {
	var keys []string
	var values []V

	c.mu.Lock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			keys = append(keys, key)
			values = append(values, entry.value)
			delete(c.entries, key)
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	c.rec.evicted(len(keys), size)
	if c.evictFn != nil {
		for i, key := range keys {
			c.evictFn(key, values[i])
		}
	}
}
