// Package buffer provides a bounded ring buffer used to decouple data-change
// producers from NATS publishing without blocking the notification path.
package buffer

import (
	"errors"
	"sync"
)

// OverflowPolicy controls behavior when the buffer is full
type OverflowPolicy int

const (
	// DropOldest evicts the oldest element to make room for the new one
	DropOldest OverflowPolicy = iota
	// DropNewest rejects the incoming element
	DropNewest
)

// ErrClosed is returned for writes to a closed buffer
var ErrClosed = errors.New("buffer closed")

// ErrFull is returned when a DropNewest buffer rejects a write
var ErrFull = errors.New("buffer full")

// Ring is a fixed-capacity FIFO buffer safe for concurrent use
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	count    int
	policy   OverflowPolicy
	closed   bool
	dropped  uint64
	accepted uint64
}

// Option configures a Ring
type Option[T any] func(*Ring[T])

// WithOverflowPolicy sets the overflow policy (default DropOldest)
func WithOverflowPolicy[T any](p OverflowPolicy) Option[T] {
	return func(r *Ring[T]) {
		r.policy = p
	}
}

// NewRing creates a ring buffer with the given capacity
func NewRing[T any](capacity int, opts ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.New("buffer capacity must be positive")
	}
	r := &Ring[T]{
		items:  make([]T, capacity),
		policy: DropOldest,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Write appends an element, applying the overflow policy when full
func (r *Ring[T]) Write(v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if r.count == len(r.items) {
		if r.policy == DropNewest {
			r.dropped++
			return ErrFull
		}
		// Evict oldest
		r.head = (r.head + 1) % len(r.items)
		r.count--
		r.dropped++
	}

	r.items[(r.head+r.count)%len(r.items)] = v
	r.count++
	r.accepted++
	return nil
}

// ReadBatch removes and returns up to max elements in FIFO order
func (r *Ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max <= 0 || r.count == 0 {
		return nil
	}
	n := max
	if n > r.count {
		n = r.count
	}

	out := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		out[i] = r.items[r.head]
		r.items[r.head] = zero
		r.head = (r.head + 1) % len(r.items)
	}
	r.count -= n
	return out
}

// Len returns the number of buffered elements
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the buffer capacity
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Dropped returns the number of elements lost to overflow
func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Utilization returns the fill ratio in [0,1]
func (r *Ring[T]) Utilization() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(r.count) / float64(len(r.items))
}

// Close marks the buffer closed; buffered elements remain readable
func (r *Ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
