package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/tanjia/internal/providers"
)

// ErrInvalidKey is returned by Lookup for keys that are not set.
var ErrInvalidKey = errors.New("invalid config key")

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	if err := setDefaults(cm.v, DefaultConfig()); err != nil {
		return err
	}

	// Environment variables with TANJIA_ prefix: TANJIA_SERVER_PORT=9000
	cm.v.SetEnvPrefix("TANJIA")
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		cm.v.AddConfigPath("$HOME/.tanjia")
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults registers every leaf of the default config so that each key
// can be overridden from the environment. Provider maps are registered
// whole since their keys are user-defined.
func setDefaults(v *viper.Viper, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to read defaults: %w", err)
	}
	for section, value := range tree {
		if section == "llm_providers" {
			v.SetDefault(section, cfg.LLMProviders)
			continue
		}
		setLeaves(v, section, value)
	}
	return nil
}

func setLeaves(v *viper.Viper, prefix string, value interface{}) {
	m, ok := value.(map[interface{}]interface{})
	if !ok {
		v.SetDefault(prefix, value)
		return
	}
	for k, child := range m {
		setLeaves(v, prefix+"."+fmt.Sprint(k), child)
	}
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the file the configuration was read from, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// Lookup returns the effective value of a dotted key such as
// "agent.default_model".
func (cm *Manager) Lookup(key string) (interface{}, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || !cm.v.IsSet(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cm.v.Get(key), nil
}

// Settings returns all effective settings as a nested map.
func (cm *Manager) Settings() map[string]interface{} {
	return cm.v.AllSettings()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cm.reload()
	})
	cm.v.WatchConfig()
}

func (cm *Manager) reload() {
	cfg, err := cm.load()
	if err != nil {
		return
	}

	cm.mu.Lock()
	cm.config = cfg
	callbacks := make([]func(*Config), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	cm.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		LLMProviders: make(map[string]providers.LLMProviderConfig),
		DefaultLLM:   c.Defaults.LLMProvider,
	}

	for name, llm := range c.LLMProviders {
		cfg.LLMProviders[name] = providers.LLMProviderConfig{
			Type:      llm.Type,
			Model:     llm.Model,
			APIKey:    ResolveEnvVars(llm.APIKey),
			BaseURL:   llm.BaseURL,
			RateLimit: llm.RateLimit,
			Enabled:   llm.Enabled,
		}
	}

	return cfg
}

// DatabaseURL returns the configured connection string with ${ENV_VAR}
// references resolved.
func (c *Config) DatabaseURL() string {
	return strings.TrimSpace(ResolveEnvVars(c.Database.URL))
}

// WebhookSecret returns the booking webhook secret, resolved.
func (c *Config) WebhookSecret() string {
	return ResolveEnvVars(c.Webhook.Secret)
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Tanjia configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENROUTER_API_KEY=xxx TANJIA_WEBHOOK_SECRET=xxx SLACK_BOT_TOKEN=xxx
# Any key can also be overridden directly, e.g. TANJIA_SERVER_PORT=9000

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
