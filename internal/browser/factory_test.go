package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), "netscape", Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown browser backend "netscape"`)
}

func TestFromEnvRejectsUnknownBackend(t *testing.T) {
	t.Setenv(backendEnv, "mosaic")
	_, err := FromEnv(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown browser backend")
}

func TestParseBoolEnv(t *testing.T) {
	const name = "WEBPILOT_TEST_BOOL"
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"1", false, true},
		{"true", false, true},
		{"YES", false, true},
		{"On", false, true},
		{"0", true, false},
		{"false", true, false},
		{"No", true, false},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"maybe", true, true},
		{"maybe", false, false},
		{"  true  ", false, true},
	}
	for _, tt := range tests {
		t.Setenv(name, tt.val)
		assert.Equal(t, tt.want, parseBoolEnv(name, tt.def), "value %q default %t", tt.val, tt.def)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, defaultNavTimeout, cfg.NavTimeout)
	assert.Equal(t, defaultActionTimeout, cfg.ActionTimeout)

	custom := Config{NavTimeout: 1, ActionTimeout: 2}.withDefaults()
	assert.EqualValues(t, 1, custom.NavTimeout)
	assert.EqualValues(t, 2, custom.ActionTimeout)
}
