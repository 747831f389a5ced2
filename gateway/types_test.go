package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_Defaults(t *testing.T) {
	config := Config{}
	require.NoError(t, config.Validate())

	assert.Equal(t, int64(1024*1024), config.MaxRequestSize)
	assert.Equal(t, 10*time.Second, config.RequestTimeout())
	assert.Equal(t, 100.0, config.StreamRate)
	assert.Equal(t, 25, config.StreamBurst)
}

func TestConfig_Validate_Timeout(t *testing.T) {
	config := Config{RequestTimeoutStr: "2s"}
	require.NoError(t, config.Validate())
	assert.Equal(t, 2*time.Second, config.RequestTimeout())

	config = Config{RequestTimeoutStr: "not-a-duration"}
	assert.Error(t, config.Validate())

	config = Config{RequestTimeoutStr: "10ms"}
	assert.Error(t, config.Validate(), "below the 100ms floor")

	config = Config{RequestTimeoutStr: "5m"}
	assert.Error(t, config.Validate(), "above the 60s ceiling")
}

func TestConfig_Validate_RequestSize(t *testing.T) {
	config := Config{MaxRequestSize: -1}
	assert.Error(t, config.Validate())

	config = Config{MaxRequestSize: 200 * 1024 * 1024}
	assert.Error(t, config.Validate())
}

func TestConfig_Validate_CORS(t *testing.T) {
	config := Config{EnableCORS: true}
	assert.Error(t, config.Validate(), "CORS requires explicit origins")

	config = Config{EnableCORS: true, CORSOrigins: []string{"https://app.example.com"}}
	assert.NoError(t, config.Validate())
}

func TestConfig_Validate_Stream(t *testing.T) {
	config := Config{StreamRate: -1}
	assert.Error(t, config.Validate())

	config = Config{StreamBurst: -1}
	assert.Error(t, config.Validate())

	config = Config{StreamRate: 500, StreamBurst: 50}
	require.NoError(t, config.Validate())
	assert.Equal(t, 500.0, config.StreamRate)
	assert.Equal(t, 50, config.StreamBurst)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	assert.False(t, config.EnableCORS)
}
