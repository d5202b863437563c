package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Reasoning.APIKey = "test-key"
	cfg.Gateway.SharedSecret = "test-secret"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "openai", cfg.Reasoning.Provider)
	assert.Equal(t, "gpt-4o", cfg.Reasoning.Model)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 40, cfg.Session.HistoryLimit)
	assert.Equal(t, 30, cfg.Session.RetentionDays)
	assert.Equal(t, 8750, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
}

func TestDBPathsDeriveFromDataDir(t *testing.T) {
	cfg := &Config{DataDir: "/data/knoll"}

	assert.Equal(t, filepath.Join("/data/knoll", "sessions.db"), cfg.SessionDBPath())
	assert.Equal(t, filepath.Join("/data/knoll", "notebooks.db"), cfg.NotebookDBPath())
	assert.Equal(t, filepath.Join("/data/knoll", "index.db"), cfg.IndexDBPath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing provider", func(c *Config) { c.Reasoning.Provider = "" }, "provider is required"},
		{"unknown provider", func(c *Config) { c.Reasoning.Provider = "cohere" }, "invalid reasoning provider"},
		{"missing api key", func(c *Config) { c.Reasoning.APIKey = "" }, "api_key is required"},
		{"missing model", func(c *Config) { c.Reasoning.Model = "" }, "model is required"},
		{"temperature too high", func(c *Config) { c.Reasoning.Temperature = 2.5 }, "temperature"},
		{"temperature negative", func(c *Config) { c.Reasoning.Temperature = -0.1 }, "temperature"},
		{"bad port", func(c *Config) { c.Gateway.Port = 0 }, "invalid gateway port"},
		{"port out of range", func(c *Config) { c.Gateway.Port = 70000 }, "invalid gateway port"},
		{"missing shared secret", func(c *Config) { c.Gateway.SharedSecret = "" }, "shared_secret is required"},
		{"web search without key", func(c *Config) { c.WebSearch.Endpoint = "https://api.example.com" }, "web_search api_key"},
		{"negative history limit", func(c *Config) { c.Session.HistoryLimit = -1 }, "history_limit"},
		{"negative retention", func(c *Config) { c.Session.RetentionDays = -1 }, "retention_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Reasoning.Provider)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.DocsPath)
	assert.Equal(t, filepath.Join(cfg.DataDir, "knoll.log"), cfg.Logging.File)
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knoll.json")
	content := `{
		"data_dir": "/custom/data",
		"reasoning": {"provider": "anthropic", "model": "claude-sonnet-4-0", "api_key": "k"},
		"gateway": {"port": 9000, "shared_secret": "s"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/custom/data", cfg.DataDir)
	assert.Equal(t, "anthropic", cfg.Reasoning.Provider)
	assert.Equal(t, 9000, cfg.Gateway.Port)
	// Untouched sections keep their defaults.
	assert.Equal(t, 40, cfg.Session.HistoryLimit)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knoll.json")
	loader := NewLoader(path)

	cfg := validConfig()
	cfg.DataDir = "/saved/data"
	cfg.DocsPath = "/saved/docs"
	cfg.Logging.File = "/saved/data/knoll.log"
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "/saved/data", loaded.DataDir)
	assert.Equal(t, cfg.Reasoning.Model, loaded.Reasoning.Model)
	assert.Equal(t, cfg.Gateway.Port, loaded.Gateway.Port)
}

func TestLoaderPath(t *testing.T) {
	assert.Equal(t, "/tmp/custom.json", NewLoader("/tmp/custom.json").Path())
	assert.NotEmpty(t, NewLoader("").Path())
}
