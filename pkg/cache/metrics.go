package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/irfanghat/databricks-industrial-automation-suite/metric"
)

// recorder fans every cache event out to the statistics counters and,
// when configured, to Prometheus. Implementations call it instead of
// touching stats and metrics separately.
type recorder struct {
	stats *Statistics
	prom  *promExport
}

func newRecorder[V any](opts *cacheOptions[V]) (*recorder, error) {
	r := &recorder{stats: newStatistics()}
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		prom, err := newPromExport(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, err
		}
		r.prom = prom
	}
	return r, nil
}

func (r *recorder) hit() {
	r.stats.hit()
	if r.prom != nil {
		r.prom.hits.Inc()
	}
}

func (r *recorder) miss() {
	r.stats.miss()
	if r.prom != nil {
		r.prom.misses.Inc()
	}
}

func (r *recorder) set(size int) {
	r.stats.set()
	r.resize(size)
	if r.prom != nil {
		r.prom.sets.Inc()
	}
}

func (r *recorder) deleted(size int) {
	r.stats.deleted()
	r.resize(size)
	if r.prom != nil {
		r.prom.deletes.Inc()
	}
}

func (r *recorder) evicted(count, size int) {
	for i := 0; i < count; i++ {
		r.stats.evicted()
	}
	r.resize(size)
	if r.prom != nil {
		r.prom.evictions.Add(float64(count))
	}
}

func (r *recorder) resize(size int) {
	r.stats.resize(int64(size))
	if r.prom != nil {
		r.prom.size.Set(float64(size))
	}
}

// promExport holds the Prometheus collectors for one cache. The cache's
// prefix becomes the component label, so several caches can share the
// registry.
type promExport struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newPromExport(registry *metric.MetricsRegistry, prefix string) (*promExport, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "dias",
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}

	p := &promExport{
		hits:      counter("hits_total", "Cache lookups that found an entry"),
		misses:    counter("misses_total", "Cache lookups that found nothing"),
		sets:      counter("sets_total", "Cache writes"),
		deletes:   counter("deletes_total", "Explicit cache deletions"),
		evictions: counter("evictions_total", "Entries removed by expiry or Clear"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "dias",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Live entries in the cache",
		}),
	}

	for name, c := range map[string]prometheus.Counter{
		"cache_hits":      p.hits,
		"cache_misses":    p.misses,
		"cache_sets":      p.sets,
		"cache_deletes":   p.deletes,
		"cache_evictions": p.evictions,
	} {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_size", p.size); err != nil {
		return nil, err
	}

	return p, nil
}
