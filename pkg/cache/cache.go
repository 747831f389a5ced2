// Package cache provides generic, thread-safe in-process caches.
//
// Two implementations are available: a TTL cache that expires entries
// after a fixed duration with a background sweep, and a plain cache
// that holds entries until they are deleted. Both collect statistics
// and can optionally export them as Prometheus metrics. A noop cache
// backs configurations where caching is switched off.
//
// The point-in-time query layer uses the TTL variant to hold JetStream
// key history between requests, which is the workload the defaults are
// tuned for.
package cache

import (
	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
)

// Cache is a string-keyed cache of V values.
type Cache[V any] interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (V, bool)

	// Set stores value under key. It reports whether the key was new.
	Set(key string, value V) (bool, error)

	// Delete removes key. It reports whether the key was present.
	Delete(key string) (bool, error)

	// Clear drops every entry.
	Clear() error

	// Size returns the number of live entries.
	Size() int

	// Stats returns the cache's counters. The noop cache returns nil.
	Stats() *Statistics

	// Close releases any background goroutines.
	Close() error
}

// EvictCallback runs after an entry leaves the cache, whether by
// expiry, Delete, or Clear. It must not call back into the cache.
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidValue, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
