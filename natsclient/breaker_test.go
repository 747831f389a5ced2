package natsclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := newBreaker(3, time.Minute)

	tripped, _ := b.fail()
	assert.False(t, tripped)
	tripped, _ = b.fail()
	assert.False(t, tripped)

	tripped, wait := b.fail()
	assert.True(t, tripped)
	assert.Equal(t, time.Second, wait)
	assert.Equal(t, int32(3), b.failures())
}

func TestBreaker_BackoffDoublesPerTrip(t *testing.T) {
	b := newBreaker(1, 4*time.Second)

	waits := make([]time.Duration, 0, 4)
	for i := 0; i < 4; i++ {
		tripped, wait := b.fail()
		assert.True(t, tripped)
		waits = append(waits, wait)
	}

	// 1s, 2s, 4s, then capped at maxBackoff
	assert.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second,
	}, waits)
}

func TestBreaker_Reset(t *testing.T) {
	b := newBreaker(2, time.Minute)

	b.fail()
	b.fail()
	assert.Equal(t, int32(2), b.failures())
	assert.False(t, b.lastFailure().IsZero())

	b.reset()

	assert.Equal(t, int32(0), b.failures())
	assert.Equal(t, time.Second, b.currentBackoff())
	assert.True(t, b.lastFailure().IsZero())
}

func TestBreaker_RoundResetsAfterTrip(t *testing.T) {
	b := newBreaker(2, time.Minute)

	b.fail()
	tripped, _ := b.fail()
	assert.True(t, tripped)

	// A fresh round needs threshold failures again
	tripped, _ = b.fail()
	assert.False(t, tripped)
	tripped, _ = b.fail()
	assert.True(t, tripped)
}
