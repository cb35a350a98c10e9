package config

import "time"

// Config holds tanjia configuration.
// Stored at: ./config.yaml or ~/.tanjia/config.yaml
type Config struct {
	Server       ServerCfg                 `mapstructure:"server" yaml:"server"`
	Database     DatabaseCfg               `mapstructure:"database" yaml:"database"`
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Agent        AgentCfg                  `mapstructure:"agent" yaml:"agent"`
	Search       SearchCfg                 `mapstructure:"search" yaml:"search"`
	Webhook      WebhookCfg                `mapstructure:"webhook" yaml:"webhook"`
	RateLimit    RateLimitCfg              `mapstructure:"rate_limit" yaml:"rate_limit"`
	Slack        SlackCfg                  `mapstructure:"slack" yaml:"slack"`
	FollowUps    FollowUpsCfg              `mapstructure:"followups" yaml:"followups"`
}

// ServerCfg is the HTTP listener.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// DatabaseCfg selects the store. With no URL, Local starts a Postgres
// container; with neither, records are kept in memory.
type DatabaseCfg struct {
	URL      string `mapstructure:"url" yaml:"url"` // supports ${ENV_VAR}
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns"`
	Local    bool   `mapstructure:"local" yaml:"local"`
	Port     string `mapstructure:"port" yaml:"port"`   // local container host port
	Image    string `mapstructure:"image" yaml:"image"` // local container image
}

// LLMProviderCfg configures an LLM provider.
type LLMProviderCfg struct {
	Type      string `mapstructure:"type" yaml:"type"`         // "openrouter", "openai"
	Model     string `mapstructure:"model" yaml:"model"`       // Default model name
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`   // supports ${ENV_VAR}
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"` // optional override
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit"`
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies default provider selections.
type DefaultsCfg struct {
	LLMProvider string `mapstructure:"llm_provider" yaml:"llm_provider"`
}

// AgentCfg configures the agent runner and its two model tiers.
type AgentCfg struct {
	DefaultModel         string        `mapstructure:"default_model" yaml:"default_model"`
	EscalatedModel       string        `mapstructure:"escalated_model" yaml:"escalated_model"`
	Temperature          float64       `mapstructure:"temperature" yaml:"temperature"`
	EscalatedTemperature float64       `mapstructure:"escalated_temperature" yaml:"escalated_temperature"`
	MaxTokens            int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxAttempts          int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	MaxEscalations       int           `mapstructure:"max_escalations_per_request" yaml:"max_escalations_per_request"`
	DailyEscalations     int           `mapstructure:"daily_escalation_budget" yaml:"daily_escalation_budget"` // 0 = unlimited
	ToolTimeout          time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
	Debug                bool          `mapstructure:"debug" yaml:"debug"`
}

// SearchCfg configures the web_search tool and page fetching.
type SearchCfg struct {
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR}
	MaxResults    int           `mapstructure:"max_results" yaml:"max_results"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	FetchMaxChars int           `mapstructure:"fetch_max_chars" yaml:"fetch_max_chars"`
}

// WebhookCfg configures the booking webhook.
type WebhookCfg struct {
	Secret string `mapstructure:"secret" yaml:"secret"` // supports ${ENV_VAR}
}

// RateLimitCfg configures per-caller limiting of agent endpoints.
type RateLimitCfg struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	IdleTTL           time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`
}

// SlackCfg configures operator notifications. Without a token,
// notifications are logged.
type SlackCfg struct {
	Token   string `mapstructure:"token" yaml:"token"` // supports ${ENV_VAR}
	Channel string `mapstructure:"channel" yaml:"channel"`
}

// FollowUpsCfg configures the reminder sweep.
type FollowUpsCfg struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Schedule string `mapstructure:"schedule" yaml:"schedule"` // cron expression
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Database: DatabaseCfg{
			URL:      "${TANJIA_DATABASE_URL}",
			MaxConns: 10,
			Local:    true,
			Port:     "5432",
			Image:    "postgres:16-alpine",
		},
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:      "openrouter",
				Model:     "openai/gpt-4o-mini",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 60,
				Enabled:   true,
			},
			"openai": {
				Type:      "openai",
				Model:     "gpt-4o-mini",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 60,
				Enabled:   false,
			},
		},
		Defaults: DefaultsCfg{
			LLMProvider: "openrouter",
		},
		Agent: AgentCfg{
			DefaultModel:         "openai/gpt-4o-mini",
			EscalatedModel:       "anthropic/claude-sonnet-4",
			Temperature:          0.4,
			EscalatedTemperature: 0.3,
			MaxTokens:            1200,
			MaxAttempts:          2,
			MaxEscalations:       1,
			DailyEscalations:     100,
			ToolTimeout:          20 * time.Second,
		},
		Search: SearchCfg{
			APIKey:        "${SEARCH_API_KEY}",
			MaxResults:    5,
			FetchTimeout:  15 * time.Second,
			FetchMaxChars: 8000,
		},
		Webhook: WebhookCfg{
			Secret: "${TANJIA_WEBHOOK_SECRET}",
		},
		RateLimit: RateLimitCfg{
			RequestsPerMinute: 20,
			Burst:             5,
			IdleTTL:           10 * time.Minute,
		},
		Slack: SlackCfg{
			Token:   "${SLACK_BOT_TOKEN}",
			Channel: "#tanjia",
		},
		FollowUps: FollowUpsCfg{
			Enabled:  true,
			Schedule: "0 8 * * *",
		},
	}
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
