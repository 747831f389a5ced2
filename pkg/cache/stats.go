package cache

import (
	"sync/atomic"
	"time"
)

// Statistics holds the operation counters for one cache instance. All
// fields are atomics, so readers never contend with the cache's own
// lock.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	size      atomic.Int64
	peak      atomic.Int64

	start time.Time
}

func newStatistics() *Statistics {
	return &Statistics{start: time.Now()}
}

func (s *Statistics) hit()     { s.hits.Add(1) }
func (s *Statistics) miss()    { s.misses.Add(1) }
func (s *Statistics) set()     { s.sets.Add(1) }
func (s *Statistics) deleted() { s.deletes.Add(1) }
func (s *Statistics) evicted() { s.evictions.Add(1) }

func (s *Statistics) resize(n int64) {
	s.size.Store(n)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (s *Statistics) Hits() int64      { return s.hits.Load() }
func (s *Statistics) Misses() int64    { return s.misses.Load() }
func (s *Statistics) Sets() int64      { return s.sets.Load() }
func (s *Statistics) Deletes() int64   { return s.deletes.Load() }
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }
func (s *Statistics) Size() int64      { return s.size.Load() }
func (s *Statistics) Peak() int64      { return s.peak.Load() }

// HitRatio returns hits over total lookups, or 0 before any lookup.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Snapshot is a consistent-enough copy of the counters for logging or
// serving over HTTP.
type Snapshot struct {
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Sets      int64         `json:"sets"`
	Deletes   int64         `json:"deletes"`
	Evictions int64         `json:"evictions"`
	Size      int64         `json:"size"`
	Peak      int64         `json:"peak"`
	HitRatio  float64       `json:"hit_ratio"`
	Uptime    time.Duration `json:"uptime"`
}

func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		Hits:      s.Hits(),
		Misses:    s.Misses(),
		Sets:      s.Sets(),
		Deletes:   s.Deletes(),
		Evictions: s.Evictions(),
		Size:      s.Size(),
		Peak:      s.Peak(),
		HitRatio:  s.HitRatio(),
		Uptime:    time.Since(s.start),
	}
}
