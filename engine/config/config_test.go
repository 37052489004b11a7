package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7, cfg.MinConfidence)
	assert.Equal(t, 2, cfg.MaxContextFetches)
	assert.Equal(t, 2, cfg.CritiqueMaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.IntentTTL)
	assert.Equal(t, 5*time.Minute, cfg.TurnTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"confidence too low", func(c *EngineConfig) { c.MinConfidence = 0 }},
		{"confidence too high", func(c *EngineConfig) { c.MinConfidence = 11 }},
		{"negative fetches", func(c *EngineConfig) { c.MaxContextFetches = -1 }},
		{"zero critique attempts", func(c *EngineConfig) { c.CritiqueMaxAttempts = 0 }},
		{"zero model timeout", func(c *EngineConfig) { c.ModelTimeout = 0 }},
		{"zero tool timeout", func(c *EngineConfig) { c.ToolTimeout = 0 }},
		{"zero intent ttl", func(c *EngineConfig) { c.IntentTTL = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestZeroContextFetchesIsValid(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MaxContextFetches = 0
	assert.NoError(t, cfg.Validate())
}
