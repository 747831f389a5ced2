package natsclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestClient_BasicConnection(t *testing.T) {
	tc := NewTestClient(t, WithFastStartup())

	assert.True(t, tc.IsReady())
	assert.NotEmpty(t, tc.URL)
	assert.NotNil(t, tc.GetNativeConnection())
}

func TestTestClient_KVBuckets(t *testing.T) {
	tc := NewTestClient(t, WithKVBuckets("dias_config", "dias_monitor"))
	ctx := context.Background()

	// Pre-created buckets are bindable
	bucket, err := tc.GetKVBucket(ctx, "dias_config")
	require.NoError(t, err)

	_, err = bucket.Put(ctx, "version", []byte("1"))
	assert.NoError(t, err)

	// And additional ones can be created on demand
	_, err = tc.CreateKVBucket(ctx, "dias_extra")
	assert.NoError(t, err)
}

func TestTestClient_PubSubRoundTrip(t *testing.T) {
	tc := NewTestClient(t, WithFastStartup())
	ctx := context.Background()

	var count atomic.Int32
	err := tc.Client.Subscribe(ctx, "alerts.threshold", func(_ context.Context, _ []byte) {
		count.Add(1)
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, tc.Client.Publish(ctx, "alerts.threshold", []byte(`{"signal":"tank_ph"}`)))
	}

	assert.Eventually(t, func() bool {
		return count.Load() == 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTestClient_TerminateIdempotent(t *testing.T) {
	tc := NewTestClient(t, WithFastStartup())

	require.NoError(t, tc.Terminate())
	require.NoError(t, tc.Terminate())
	assert.False(t, tc.IsReady())
}
