//go:build integration

package natsclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKVStore(t *testing.T, bucket string) (*KVStore, *Client) {
	t.Helper()

	tc := NewTestClient(t, WithKV())
	kv, err := tc.Client.CreateKeyValueBucket(context.Background(), jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 5,
	})
	require.NoError(t, err)

	return tc.Client.NewKVStore(kv), tc.Client
}

func TestKVStore_BasicOperations(t *testing.T) {
	store, _ := newTestKVStore(t, "kv_basic_test")
	ctx := context.Background()

	// Missing key
	_, err := store.Get(ctx, "signals.boiler")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	// Put then Get round-trips value and revision
	rev, err := store.Put(ctx, "signals.boiler", []byte(`{"value":101.5}`))
	require.NoError(t, err)
	assert.Greater(t, rev, uint64(0))

	entry, err := store.Get(ctx, "signals.boiler")
	require.NoError(t, err)
	assert.Equal(t, "signals.boiler", entry.Key)
	assert.JSONEq(t, `{"value":101.5}`, string(entry.Value))
	assert.Equal(t, rev, entry.Revision)

	// Create refuses an existing key
	_, err = store.Create(ctx, "signals.boiler", []byte(`{}`))
	assert.ErrorIs(t, err, ErrKVKeyExists)

	// CAS update with stale revision fails
	_, err = store.Update(ctx, "signals.boiler", []byte(`{"value":102}`), rev+10)
	assert.ErrorIs(t, err, ErrKVRevisionMismatch)

	// CAS update with the right revision succeeds
	rev2, err := store.Update(ctx, "signals.boiler", []byte(`{"value":102}`), entry.Revision)
	require.NoError(t, err)
	assert.Greater(t, rev2, entry.Revision)

	// Delete then Get reports not found
	require.NoError(t, store.Delete(ctx, "signals.boiler"))
	_, err = store.Get(ctx, "signals.boiler")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)
}

func TestKVStore_UpdateWithRetry_CreatesMissingKey(t *testing.T) {
	store, _ := newTestKVStore(t, "kv_retry_create_test")
	ctx := context.Background()

	err := store.UpdateWithRetry(ctx, "counters.samples", func(current []byte) ([]byte, error) {
		assert.Nil(t, current)
		return []byte("1"), nil
	})
	require.NoError(t, err)

	entry, err := store.Get(ctx, "counters.samples")
	require.NoError(t, err)
	assert.Equal(t, "1", string(entry.Value))
}

func TestKVStore_UpdateWithRetry_Contention(t *testing.T) {
	store, _ := newTestKVStore(t, "kv_retry_contention_test")
	ctx := context.Background()

	_, err := store.Put(ctx, "counters.samples", []byte("0"))
	require.NoError(t, err)

	// Several writers increment the same counter concurrently; CAS
	// retry must serialize them without losing updates
	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.UpdateWithRetry(ctx, "counters.samples", func(current []byte) ([]byte, error) {
				var n int
				require.NoError(t, json.Unmarshal(current, &n))
				return json.Marshal(n + 1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entry, err := store.Get(ctx, "counters.samples")
	require.NoError(t, err)
	assert.Equal(t, "8", string(entry.Value))
}

func TestKVStore_UpdateWithRetry_NonRetryableUpdateFn(t *testing.T) {
	store, _ := newTestKVStore(t, "kv_retry_fatal_test")
	ctx := context.Background()

	calls := 0
	err := store.UpdateWithRetry(ctx, "whatever", func([]byte) ([]byte, error) {
		calls++
		return nil, errors.New("bad state")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "update function errors must not be retried")
}

func TestKVStore_UpdateWithRetry_ValueTooLarge(t *testing.T) {
	store, _ := newTestKVStore(t, "kv_retry_size_test")
	store.options.MaxValueSize = 8
	ctx := context.Background()

	err := store.UpdateWithRetry(ctx, "big", func([]byte) ([]byte, error) {
		return []byte("way more than eight bytes"), nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestKVStore_UpdateJSON(t *testing.T) {
	store, _ := newTestKVStore(t, "kv_json_test")
	ctx := context.Background()

	err := store.UpdateJSON(ctx, "components.opcua-plant", func(m map[string]any) error {
		m["enabled"] = true
		m["endpoint"] = "opc.tcp://127.0.0.1:4840/"
		return nil
	})
	require.NoError(t, err)

	err = store.UpdateJSON(ctx, "components.opcua-plant", func(m map[string]any) error {
		assert.Equal(t, true, m["enabled"])
		m["enabled"] = false
		return nil
	})
	require.NoError(t, err)

	entry, err := store.Get(ctx, "components.opcua-plant")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(entry.Value, &got))
	assert.Equal(t, false, got["enabled"])
	assert.Equal(t, "opc.tcp://127.0.0.1:4840/", got["endpoint"])
}

func TestKVStore_Watch(t *testing.T) {
	store, _ := newTestKVStore(t, "kv_watch_test")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	watcher, err := store.Watch(ctx, "components.>")
	require.NoError(t, err)
	defer watcher.Stop()

	// Drain the initial values marker
	for entry := range watcher.Updates() {
		if entry == nil {
			break
		}
	}

	_, err = store.Put(ctx, "components.modbus-pump", []byte(`{"enabled":true}`))
	require.NoError(t, err)

	select {
	case entry := <-watcher.Updates():
		require.NotNil(t, entry)
		assert.Equal(t, "components.modbus-pump", entry.Key())
	case <-ctx.Done():
		t.Fatal("no watch update received")
	}
}

func TestKVErrorHelpers(t *testing.T) {
	assert.False(t, IsKVNotFoundError(nil))
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVNotFoundError(errors.New("nats: key not found")))

	assert.False(t, IsKVConflictError(nil))
	assert.True(t, IsKVConflictError(ErrKVKeyExists))
	assert.True(t, IsKVConflictError(ErrKVRevisionMismatch))
	assert.True(t, IsKVConflictError(errors.New("wrong last sequence: 5")))
	assert.False(t, IsKVConflictError(errors.New("connection refused")))
}
