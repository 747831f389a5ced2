package cache

import "sync"

// simpleCache holds entries until they are deleted. No expiry, no
// background goroutine.
type simpleCache[V any] struct {
	rec     *recorder
	evictFn EvictCallback[V]

	mu      sync.RWMutex
	entries map[string]V
}

func newSimpleCache[V any](opts *cacheOptions[V]) (*simpleCache[V], error) {
	rec, err := newRecorder(opts)
	if err != nil {
		return nil, err
	}
	return &simpleCache[V]{
		rec:     rec,
		evictFn: opts.evictCallback,
		entries: make(map[string]V),
	}, nil
}

func (c *simpleCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	value, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		c.rec.hit()
	} else {
		c.rec.miss()
	}
	return value, ok
}

func (c *simpleCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	_, existed := c.entries[key]
	c.entries[key] = value
	size := len(c.entries)
	c.mu.Unlock()

	c.rec.set(size)
	return !existed, nil
}

func (c *simpleCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	value, existed := c.entries[key]
	if existed {
		delete(c.entries, key)
	}
	size := len(c.entries)
	c.mu.Unlock()

	if existed {
		c.rec.deleted(size)
		if c.evictFn != nil {
			c.evictFn(key, value)
		}
	}
	return existed, nil
}

func (c *simpleCache[V]) Clear() error {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[string]V)
	c.mu.Unlock()

	c.rec.resize(0)
	if c.evictFn != nil {
		for key, value := range old {
			c.evictFn(key, value)
		}
	}
	return nil
}

func (c *simpleCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *simpleCache[V]) Stats() *Statistics { return c.rec.stats }

func (c *simpleCache[V]) Close() error { return nil }
