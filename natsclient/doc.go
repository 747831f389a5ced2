// Package natsclient manages the NATS connection that carries the
// bridge's telemetry. Inputs publish OPC UA and Modbus readings to
// plain subjects, the threshold monitor subscribes to them and raises
// alerts, and configuration plus monitor state are synced through
// JetStream KV buckets.
//
// # Client
//
// Client wraps a single NATS connection with reconnect policy and a
// circuit breaker. The breaker exists because the bridge runs on plant
// networks where the broker can disappear for minutes at a time; after
// a round of failed dials the client stops trying and backs off
// exponentially instead of spinning.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("dias-server"),
//		natsclient.WithCredentials("bridge", secret),
//	)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(ctx)
//
// Publish and Subscribe operate on plain subjects with at-most-once
// delivery, which is the right trade-off for high-rate readings where
// the next sample supersedes the last. PublishToStream goes through
// JetStream with acknowledgement for readings that must survive a
// broker restart.
//
// # Subjects
//
// The bridge's subject layout, by convention:
//
//	input.opcua.datachange    OPC UA data-change readings
//	input.modbus.datachange   Modbus register readings
//	alerts.threshold          threshold monitor alerts
//	monitor.state.query       request/reply for monitor state
//
// # Key-value storage
//
// CreateKeyValueBucket provisions (or binds to) a JetStream KV bucket.
// KVStore layers timeouts, typed errors and compare-and-swap retry on
// top of a bucket; UpdateWithRetry is the primitive the config manager
// uses when several bridge instances write the same keys.
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
//		Bucket:  "dias_config",
//		History: 10,
//	})
//	store := client.NewKVStore(bucket)
//	err = store.UpdateJSON(ctx, "components.opcua-plant", func(m map[string]any) error {
//		m["enabled"] = false
//		return nil
//	})
//
// # Point-in-time queries
//
// TemporalResolver answers "what did this signal look like at time T"
// over a KV bucket with history enabled. The monitor uses it to serve
// historical state queries; see GetAtTimestamp and SnapshotAtTimestamp.
//
// # Testing
//
// TestClient starts a real NATS server in a container and connects a
// Client to it:
//
//	tc := natsclient.NewTestClient(t, natsclient.WithKV())
//	bucket, _ := tc.CreateKVBucket(ctx, "monitor_test")
//
// Container startup costs a second or two, so tests that only need
// pub/sub should use WithFastStartup and skip JetStream.
package natsclient
