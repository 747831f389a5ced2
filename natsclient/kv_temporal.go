package natsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/irfanghat/databricks-industrial-automation-suite/pkg/cache"
)

// DefaultHistoryCacheTTL is how long a fetched KV history stays cached.
// Short on purpose: the monitor keeps writing new revisions, and a
// stale history would answer point-in-time queries with old state.
const DefaultHistoryCacheTTL = 5 * time.Second

// TemporalResolver answers "what was this key's value at time T" over
// a KV bucket with history enabled. Bucket histories are cached with a
// short TTL so a burst of queries does not hammer JetStream.
type TemporalResolver struct {
	bucket       jetstream.KeyValue
	historyCache cache.Cache[[]jetstream.KeyValueEntry]
}

// NewTemporalResolver creates a resolver over the given bucket. The
// context bounds the cache's cleanup goroutine.
func NewTemporalResolver(ctx context.Context, bucket jetstream.KeyValue) *TemporalResolver {
	return NewTemporalResolverWithCache(ctx, bucket, DefaultHistoryCacheTTL)
}

// NewTemporalResolverWithCache creates a resolver with a custom cache
// TTL, for callers whose write rate differs a lot from the monitor's
func NewTemporalResolverWithCache(
	ctx context.Context,
	bucket jetstream.KeyValue,
	cacheTTL time.Duration,
) *TemporalResolver {
	cleanupInterval := cacheTTL / 5
	if cleanupInterval < time.Second {
		cleanupInterval = time.Second
	}

	histCache, err := cache.NewTTL[[]jetstream.KeyValueEntry](ctx, cacheTTL, cleanupInterval)
	if err != nil {
		// Only reachable with a non-positive TTL, which is a
		// programming error at the call site
		panic(fmt.Sprintf("temporal resolver cache: %v", err))
	}

	return &TemporalResolver{
		bucket:       bucket,
		historyCache: histCache,
	}
}

// history returns the key's revision history, from cache when fresh.
// Errors are never cached.
func (tr *TemporalResolver) history(ctx context.Context, key string) ([]jetstream.KeyValueEntry, error) {
	if cached, found := tr.historyCache.Get(key); found {
		return cached, nil
	}

	entries, err := tr.bucket.History(ctx, key)
	if err != nil {
		return nil, err
	}

	tr.historyCache.Set(key, entries)
	return entries, nil
}

// GetAtTimestamp returns the revision that was current at targetTime.
// Times before the oldest revision return the oldest; times at or
// after the newest return the newest. Binary search over the history,
// which JetStream returns in creation order.
func (tr *TemporalResolver) GetAtTimestamp(
	ctx context.Context,
	key string,
	targetTime time.Time,
) (jetstream.KeyValueEntry, error) {
	entries, err := tr.history(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("get history: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrKVKeyNotFound
	}

	if targetTime.Before(entries[0].Created()) {
		return entries[0], nil
	}

	last := len(entries) - 1
	if !targetTime.Before(entries[last].Created()) {
		return entries[last], nil
	}

	// Floor search: the newest entry created at or before targetTime
	left, right := 0, last
	for left < right {
		mid := left + (right-left+1)/2
		if entries[mid].Created().After(targetTime) {
			right = mid - 1
		} else {
			left = mid
		}
	}

	return entries[left], nil
}

// SnapshotAtTimestamp resolves several keys at the same instant,
// reconstructing the state of a set of signals at time T. Keys with no
// history at that time are omitted from the result.
func (tr *TemporalResolver) SnapshotAtTimestamp(
	ctx context.Context,
	keys []string,
	targetTime time.Time,
) (map[string]jetstream.KeyValueEntry, error) {
	results := make(map[string]jetstream.KeyValueEntry)

	for _, key := range keys {
		entry, err := tr.GetAtTimestamp(ctx, key, targetTime)
		if err != nil {
			if err == ErrKVKeyNotFound {
				continue
			}
			return nil, fmt.Errorf("resolve %s: %w", key, err)
		}
		results[key] = entry
	}

	return results, nil
}

// GetInTimeRange returns every revision created in (start, end],
// ordered oldest first
func (tr *TemporalResolver) GetInTimeRange(
	ctx context.Context,
	key string,
	start, end time.Time,
) ([]jetstream.KeyValueEntry, error) {
	entries, err := tr.history(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	var results []jetstream.KeyValueEntry
	for _, entry := range entries {
		created := entry.Created()
		if created.After(start) && !created.After(end) {
			results = append(results, entry)
		}
	}
	return results, nil
}

// Stats exposes cache hit/miss statistics
func (tr *TemporalResolver) Stats() *cache.Statistics {
	return tr.historyCache.Stats()
}

// Close stops the cache's cleanup goroutine
func (tr *TemporalResolver) Close() error {
	return tr.historyCache.Close()
}
