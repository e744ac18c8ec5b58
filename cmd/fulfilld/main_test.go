package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gofulfill/pkg/config"
)

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	env["STRIPE_SECRET_KEY"] = "sk_test_123"
	cfg, err := config.FromMap(env)
	require.NoError(t, err)
	return cfg
}

func TestNewZerolog(t *testing.T) {
	var buf bytes.Buffer
	zl := newZerolog(testConfig(t, map[string]string{"LOG_LEVEL": "warn"}), &buf)
	zl.Info().Msg("hidden")
	zl.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
	assert.Contains(t, buf.String(), `"service":"fulfilld"`)

	buf.Reset()
	zl = newZerolog(testConfig(t, map[string]string{"LOG_FORMAT": "console"}), &buf)
	zl.Info().Msg("console line")
	assert.Contains(t, buf.String(), "console line")
	assert.NotContains(t, buf.String(), `"message"`)
}
