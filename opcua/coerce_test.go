package opcua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		current any
		want    any
	}{
		{name: "float64 to int16", value: float64(42), current: int16(0), want: int16(42)},
		{name: "float64 to int32", value: float64(1200), current: int32(0), want: int32(1200)},
		{name: "float64 to int64", value: float64(7), current: int64(0), want: int64(7)},
		{name: "float64 to uint16", value: float64(9), current: uint16(0), want: uint16(9)},
		{name: "float64 to float32", value: float64(75.5), current: float32(0), want: float32(75.5)},
		{name: "float64 to float64", value: float64(14.2), current: float64(0), want: float64(14.2)},
		{name: "string to float64", value: "101.5", current: float64(0), want: float64(101.5)},
		{name: "bool passthrough", value: true, current: false, want: true},
		{name: "number to string", value: float64(55), current: "", want: "55"},
		{name: "string to bool", value: "true", current: false, want: true},
		{name: "nil current passes through", value: float64(3), current: nil, want: float64(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceValue(tt.value, tt.current)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceValue_Errors(t *testing.T) {
	// Not a number
	_, err := CoerceValue("boiler", int32(0))
	assert.Error(t, err)

	// Unsupported target type
	_, err = CoerceValue(1, struct{}{})
	assert.Error(t, err)
}

func TestValidHelpers(t *testing.T) {
	assert.True(t, ValidEndpoint("opc.tcp://127.0.0.1:4840/"))
	assert.False(t, ValidEndpoint("http://127.0.0.1:4840/"))
	assert.False(t, ValidEndpoint(""))

	assert.True(t, ValidPolicy(PolicyNone))
	assert.True(t, ValidPolicy(PolicyAes256Sha256RsaPss))
	assert.False(t, ValidPolicy("Basic512"))

	assert.True(t, ValidMode(ModeSignAndEncrypt))
	assert.False(t, ValidMode("Encrypt"))
}
