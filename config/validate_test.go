package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Platform: PlatformConfig{Org: "acme", ID: "bridge1"},
	}
}

func TestValidate_OrgRules(t *testing.T) {
	tests := []struct {
		name    string
		org     string
		wantErr string
	}{
		{"plain", "acme", ""},
		{"dots and dashes", "acme-corp.dev", ""},
		{"underscore", "acme_corp", ""},
		{"leading digits", "123org", ""},
		{"empty", "", "platform.org is required"},
		{"at sign", "acme@corp", "not a valid NATS subject token"},
		{"space", "acme corp", "not a valid NATS subject token"},
		{"nats wildcard star", "acme*", "not a valid NATS subject token"},
		{"nats wildcard gt", "acme>", "not a valid NATS subject token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Platform.Org = tt.org

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

// The org becomes the first token of every published subject, so
// Validate lowercases it in place.
func TestValidate_OrgLowercased(t *testing.T) {
	cfg := validConfig()
	cfg.Platform.Org = "AcmeRefining"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "acmerefining", cfg.Platform.Org)
}

func TestValidate_RequiresPlatformID(t *testing.T) {
	cfg := validConfig()
	cfg.Platform.ID = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform.id is required")
}

func TestValidSubjectToken(t *testing.T) {
	for _, ok := range []string{"acme", "acme-corp", "acme_corp", "acme.corp", "plant42"} {
		assert.True(t, validSubjectToken(ok), "%q should be valid", ok)
	}
	for _, bad := range []string{"", "acme@corp", "acme corp", "acme#corp", "acme*", "acme>"} {
		assert.False(t, validSubjectToken(bad), "%q should be invalid", bad)
	}
}

func TestValidate_TLSVersionStrings(t *testing.T) {
	assert.NoError(t, validateTLSVersion(""))
	assert.NoError(t, validateTLSVersion("1.2"))
	assert.NoError(t, validateTLSVersion("1.3"))
	assert.Error(t, validateTLSVersion("1.1"))
	assert.Error(t, validateTLSVersion("tls1.2"))
}
