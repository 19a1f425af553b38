package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 10, cfg.Chat.HistoryWindow)
	assert.Equal(t, 4, cfg.Chat.MemoryCap)
	assert.Equal(t, 6*time.Hour, cfg.Chat.IdleThreshold)
	assert.Equal(t, 30, cfg.Chat.FullPromptEvery)
	assert.Equal(t, 500, cfg.Chat.PaceMinMs)
	assert.Equal(t, 1200, cfg.Chat.PaceMaxMs)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: gemini
  model: gemini-2.0-flash
chat:
  history_window: 25
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, 25, cfg.Chat.HistoryWindow)
	// Untouched sections keep their defaults.
	assert.Equal(t, 4, cfg.Chat.MemoryCap)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: from-file\n"), 0o644))
	t.Setenv("STARCHAT_MODEL", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.Model)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad_provider", func(c *Config) { c.LLM.Provider = "llama-at-home" }},
		{"zero_window", func(c *Config) { c.Chat.HistoryWindow = 0 }},
		{"inverted_pacing", func(c *Config) { c.Chat.PaceMinMs = 900; c.Chat.PaceMaxMs = 200 }},
		{"zero_cadence", func(c *Config) { c.Chat.FullPromptEvery = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
