package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.HTTPPort)
	assert.Equal(t, 8000, cfg.MaxInputChars)
	assert.Equal(t, "default", cfg.Claims.Method)
	assert.Equal(t, 6, cfg.Claims.MaxItems)
	assert.InDelta(t, 0.25, cfg.Claims.MinScore, 1e-9)
	assert.Equal(t, 3, cfg.LM.MaxConcurrent)
	assert.True(t, cfg.Toggles.Risk)
	assert.Equal(t, "baidu", cfg.Search.Provider)
	assert.Equal(t, 40, cfg.Budgets.ToolMaxCalls)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CLAIM_METHOD", "claimify")
	t.Setenv("CLAIM_MAX_ITEMS", "8")
	t.Setenv("LM_TIMEOUT", "30s")
	t.Setenv("WEB_ALLOWED_DOMAINS", "who.int, cdc.gov")
	t.Setenv("SESSION_TOOL_MAX_CALLS", "5")
	t.Setenv("RISK_LLM_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "claimify", cfg.Claims.Method)
	assert.Equal(t, 8, cfg.Claims.MaxItems)
	assert.Equal(t, 30*time.Second, cfg.LM.Timeout)
	assert.Equal(t, []string{"who.int", "cdc.gov"}, cfg.Search.AllowedDomains)
	assert.Equal(t, 5, cfg.Budgets.ToolMaxCalls)
	assert.False(t, cfg.Toggles.Risk)
}

func TestLoad_BareSecondsDuration(t *testing.T) {
	t.Setenv("LM_TIMEOUT", "45")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.LM.Timeout)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad claim method", "CLAIM_METHOD", "fancy"},
		{"claim max too low", "CLAIM_MAX_ITEMS", "1"},
		{"claim max too high", "CLAIM_MAX_ITEMS", "21"},
		{"unknown provider", "WEB_SEARCH_PROVIDER", "duckduckgo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
