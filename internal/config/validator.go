package config

import "fmt"

var validProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

// Validate checks the configuration for values the daemon cannot run
// with. Optional features (embedding, web search) validate only when
// configured.
func (c *Config) Validate() error {
	if c.Reasoning.Provider == "" {
		return fmt.Errorf("reasoning provider is required")
	}
	if !validProviders[c.Reasoning.Provider] {
		return fmt.Errorf("invalid reasoning provider %q (must be openai or anthropic)", c.Reasoning.Provider)
	}
	if c.Reasoning.APIKey == "" {
		return fmt.Errorf("reasoning api_key is required")
	}
	if c.Reasoning.Model == "" {
		return fmt.Errorf("reasoning model is required")
	}
	if c.Reasoning.Temperature < 0 || c.Reasoning.Temperature > 2 {
		return fmt.Errorf("reasoning temperature must be between 0 and 2")
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if c.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway shared_secret is required")
	}

	if c.WebSearch.Endpoint != "" && c.WebSearch.APIKey == "" {
		return fmt.Errorf("web_search api_key is required when an endpoint is configured")
	}

	if c.Session.HistoryLimit < 0 {
		return fmt.Errorf("session history_limit cannot be negative")
	}
	if c.Session.RetentionDays < 0 {
		return fmt.Errorf("session retention_days cannot be negative")
	}

	return nil
}
