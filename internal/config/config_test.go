package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyscan/internal/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("QUERY", "regional housing policy")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 2, cfg.MaxCycles)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1000, cfg.RetryBackoffMS)
	assert.Equal(t, "data/runs", cfg.ArtifactDir)
	assert.Equal(t, "gemini-1.5-flash", cfg.GeminiModel)
	assert.True(t, cfg.PublishResults)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CONCURRENCY", "8")
	t.Setenv("MAX_CYCLES", "4")
	t.Setenv("PUBLISH_RESULTS", "false")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 4, cfg.MaxCycles)
	assert.False(t, cfg.PublishResults)
}

func TestValidate(t *testing.T) {
	t.Run("Missing API Key", func(t *testing.T) {
		cfg := &config.Config{Query: "q", Concurrency: 1, MaxRetries: 1}
		assert.ErrorIs(t, cfg.Validate(), config.ErrMissingRequired)
	})

	t.Run("Missing Query", func(t *testing.T) {
		cfg := &config.Config{GeminiAPIKey: "k", Concurrency: 1, MaxRetries: 1}
		assert.ErrorIs(t, cfg.Validate(), config.ErrMissingRequired)
	})

	t.Run("Bad Concurrency", func(t *testing.T) {
		cfg := &config.Config{GeminiAPIKey: "k", Query: "q", Concurrency: 0, MaxRetries: 1}
		assert.Error(t, cfg.Validate())
	})

	t.Run("Bad Max Retries", func(t *testing.T) {
		cfg := &config.Config{GeminiAPIKey: "k", Query: "q", Concurrency: 1, MaxRetries: 0}
		assert.Error(t, cfg.Validate())
	})
}
