// Package config loads the YAML runtime configuration with defaults and
// environment overrides. Every section has a Default constructor so a
// missing file still yields a runnable setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Name    string        `yaml:"name"`
	DataDir string        `yaml:"data_dir"`
	LLM     LLMConfig     `yaml:"llm"`
	Chat    ChatConfig    `yaml:"chat"`
	Assets  AssetsConfig  `yaml:"assets"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig selects and parameterizes the inference provider.
type LLMConfig struct {
	Provider string        `yaml:"provider"` // "openai" or "gemini"
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	// EmbedModel enables embedding-ranked memory retrieval when set.
	EmbedModel string `yaml:"embed_model"`
}

// ChatConfig tunes prompt assembly and dispatch pacing.
type ChatConfig struct {
	HistoryWindow   int           `yaml:"history_window"`
	MemoryCap       int           `yaml:"memory_cap"`
	IdleThreshold   time.Duration `yaml:"idle_threshold"`
	FullPromptEvery int           `yaml:"full_prompt_every"`
	PaceMinMs       int           `yaml:"pace_min_ms"`
	PaceMaxMs       int           `yaml:"pace_max_ms"`
	TimeGapMarker   time.Duration `yaml:"time_gap_marker"`
}

// AssetsConfig points at local asset directories.
type AssetsConfig struct {
	Stickers     string `yaml:"stickers"`
	Backgrounds  string `yaml:"backgrounds"`
	WorldBookDir string `yaml:"world_book_dir"`
}

// ServerConfig configures the optional HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig controls the category log files.
type LoggingConfig struct {
	Debug bool   `yaml:"debug"`
	Level string `yaml:"level"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		BaseURL:  "https://api.openai.com/v1",
		Timeout:  120 * time.Second,
	}
}

func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		HistoryWindow:   10,
		MemoryCap:       4,
		IdleThreshold:   6 * time.Hour,
		FullPromptEvery: 30,
		PaceMinMs:       500,
		PaceMaxMs:       1200,
		TimeGapMarker:   5 * time.Minute,
	}
}

func DefaultAssetsConfig() AssetsConfig {
	return AssetsConfig{
		Stickers:     "assets/stickers",
		Backgrounds:  "assets/backgrounds",
		WorldBookDir: "assets/worldbook",
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{Addr: ":8420"}
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info"}
}

// Default returns a complete configuration with every section at its
// default values.
func Default() *Config {
	return &Config{
		Name:    "starchat",
		DataDir: ".starchat",
		LLM:     DefaultLLMConfig(),
		Chat:    DefaultChatConfig(),
		Assets:  DefaultAssetsConfig(),
		Server:  DefaultServerConfig(),
		Logging: DefaultLoggingConfig(),
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv maps the STARCHAT_* environment variables onto the config.
// Env always wins over the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("STARCHAT_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("STARCHAT_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("STARCHAT_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("STARCHAT_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("STARCHAT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("STARCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("STARCHAT_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.Debug = b
		}
	}
}

// Validate rejects configurations the runtime cannot work with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Chat.HistoryWindow < 1 {
		return fmt.Errorf("chat.history_window must be >= 1, got %d", c.Chat.HistoryWindow)
	}
	if c.Chat.PaceMinMs < 0 || c.Chat.PaceMaxMs < c.Chat.PaceMinMs {
		return fmt.Errorf("invalid pacing window [%d, %d]", c.Chat.PaceMinMs, c.Chat.PaceMaxMs)
	}
	if c.Chat.FullPromptEvery < 1 {
		return fmt.Errorf("chat.full_prompt_every must be >= 1, got %d", c.Chat.FullPromptEvery)
	}
	return nil
}

// DatabasePath returns the SQLite file location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "starchat.db")
}
