// Package config defines and loads the knoll configuration.
package config

import (
	"encoding/json"
	"path/filepath"
)

// Config is the main knoll configuration.
type Config struct {
	DataDir  string `json:"data_dir" mapstructure:"data_dir"`
	DocsPath string `json:"docs_path" mapstructure:"docs_path"`

	Profile   ProfileConfig   `json:"profile" mapstructure:"profile"`
	Reasoning ReasoningConfig `json:"reasoning" mapstructure:"reasoning"`
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
	WebSearch WebSearchConfig `json:"web_search" mapstructure:"web_search"`
	Session   SessionConfig   `json:"session" mapstructure:"session"`
	Gateway   GatewayConfig   `json:"gateway" mapstructure:"gateway"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// ProfileConfig holds the user profile facts folded into the system
// prompt.
type ProfileConfig struct {
	Summary string `json:"summary" mapstructure:"summary"`
}

// ReasoningConfig selects and configures the reasoning provider.
type ReasoningConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// EmbeddingConfig configures the embedding provider used by the
// knowledge index. An empty API key disables vector search.
type EmbeddingConfig struct {
	APIKey string `json:"api_key" mapstructure:"api_key"`
	Model  string `json:"model" mapstructure:"model"`
}

// WebSearchConfig configures the remote search API. An empty endpoint
// disables the web search tool.
type WebSearchConfig struct {
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
}

// SessionConfig tunes history and retention.
type SessionConfig struct {
	HistoryLimit    int    `json:"history_limit" mapstructure:"history_limit"`
	RetentionDays   int    `json:"retention_days" mapstructure:"retention_days"`
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// GatewayConfig configures the WebSocket gateway.
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config populated with defaults. DataDir and
// DocsPath are filled in by the loader relative to the home directory.
func DefaultConfig() *Config {
	return &Config{
		Reasoning: ReasoningConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Embedding: EmbeddingConfig{
			Model: "text-embedding-3-small",
		},
		Session: SessionConfig{
			HistoryLimit:    40,
			RetentionDays:   30,
			CleanupSchedule: "@hourly",
		},
		Gateway: GatewayConfig{
			Port: 8750,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
	}
}

// SessionDBPath returns the session database location.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// NotebookDBPath returns the notebook database location.
func (c *Config) NotebookDBPath() string {
	return filepath.Join(c.DataDir, "notebooks.db")
}

// IndexDBPath returns the knowledge index database location.
func (c *Config) IndexDBPath() string {
	return filepath.Join(c.DataDir, "index.db")
}

// String returns an indented JSON rendering of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
