package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackendHeadedKeepsEnvChoice(t *testing.T) {
	t.Setenv("WEBPILOT_BROWSER", "netscape")

	_, err := newBackend(context.Background(), cliOptions{headed: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown browser backend "netscape"`,
		"-headed alone must not discard the configured backend")
}

func TestNewBackendFlagBeatsEnv(t *testing.T) {
	t.Setenv("WEBPILOT_BROWSER", "netscape")

	_, err := newBackend(context.Background(), cliOptions{backend: "mosaic", headed: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown browser backend "mosaic"`)
}
