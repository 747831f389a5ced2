package natsclient

import (
	"sync/atomic"
	"time"
)

// breaker tracks connection failures and decides when the client should
// stop dialing and back off. A round of threshold failures trips the
// breaker; each trip doubles the backoff up to maxBackoff. A successful
// operation resets everything.
type breaker struct {
	threshold  int32
	maxBackoff time.Duration

	total   atomic.Int32 // failures since last reset, exposed for status
	round   atomic.Int32 // failures in the current round
	backoff atomic.Value // time.Duration
	last    atomic.Value // time.Time of most recent failure
}

func newBreaker(threshold int32, maxBackoff time.Duration) *breaker {
	b := &breaker{threshold: threshold, maxBackoff: maxBackoff}
	b.backoff.Store(time.Second)
	b.last.Store(time.Time{})
	return b
}

// fail records one failure. It reports whether this failure tripped the
// breaker and, if so, how long to wait before probing the server again.
func (b *breaker) fail() (tripped bool, wait time.Duration) {
	b.total.Add(1)
	b.last.Store(time.Now())

	if b.round.Add(1) < b.threshold {
		return false, 0
	}

	// Round complete: trip and double the backoff for the next round.
	b.round.Store(0)
	wait = b.backoff.Load().(time.Duration)
	next := wait * 2
	if next > b.maxBackoff {
		next = b.maxBackoff
	}
	b.backoff.Store(next)

	return true, wait
}

func (b *breaker) reset() {
	b.total.Store(0)
	b.round.Store(0)
	b.backoff.Store(time.Second)
	b.last.Store(time.Time{})
}

func (b *breaker) failures() int32 {
	return b.total.Load()
}

func (b *breaker) currentBackoff() time.Duration {
	return b.backoff.Load().(time.Duration)
}

func (b *breaker) lastFailure() time.Time {
	return b.last.Load().(time.Time)
}
