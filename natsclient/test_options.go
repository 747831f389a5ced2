package natsclient

import "time"

func preset(timeout, startTimeout time.Duration, jetstream, kv bool) TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = timeout
		cfg.startTimeout = startTimeout
		cfg.jetstream = cfg.jetstream || jetstream
		cfg.kv = cfg.kv || kv
	}
}

// WithFastStartup trims timeouts for unit tests that just need a
// working broker.
func WithFastStartup() TestOption {
	return preset(2*time.Second, 10*time.Second, false, false)
}

// WithIntegrationDefaults enables JetStream with timeouts sized for
// integration tests.
func WithIntegrationDefaults() TestOption {
	return preset(5*time.Second, 30*time.Second, true, false)
}

// WithE2EDefaults enables JetStream and KV with generous timeouts for
// full-bridge tests.
func WithE2EDefaults() TestOption {
	return preset(10*time.Second, 60*time.Second, true, true)
}
