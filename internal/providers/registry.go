package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds references to LLM clients.
// It supports config-driven instantiation, hot-reload, and provides thread-safe access.
type Registry struct {
	mu          sync.RWMutex
	llmClients  map[string]LLMClient
	defaultName string
	logger      *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients: make(map[string]LLMClient),
		logger:     slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM registers an LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = client
	if r.logger != nil {
		r.logger.Info("registered LLM client", "name", name)
	}
}

// UnregisterLLM removes an LLM client by name.
func (r *Registry) UnregisterLLM(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.llmClients, name)
	if r.logger != nil {
		r.logger.Info("unregistered LLM client", "name", name)
	}
}

// SetDefault names the client returned by Default.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = name
}

// GetLLM returns an LLM client by name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, nil
}

// Default returns the default client. With no default configured and exactly
// one client registered, that client is returned.
func (r *Registry) Default() (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultName != "" {
		client, ok := r.llmClients[r.defaultName]
		if !ok {
			return nil, fmt.Errorf("default LLM client not registered: %s", r.defaultName)
		}
		return client, nil
	}
	if len(r.llmClients) == 1 {
		for _, client := range r.llmClients {
			return client, nil
		}
	}
	return nil, fmt.Errorf("no default LLM client configured")
}

// ListLLM returns all registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llmClients))
	for name := range r.llmClients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasLLM checks if an LLM client is registered.
func (r *Registry) HasLLM(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.llmClients[name]
	return ok
}

// LLMClients returns a copy of all registered LLM clients.
func (r *Registry) LLMClients() map[string]LLMClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]LLMClient, len(r.llmClients))
	for name, client := range r.llmClients {
		result[name] = client
	}
	return result
}

// RegistryConfig defines the providers to instantiate from config.
// This mirrors the config.Config structure for provider setup.
type RegistryConfig struct {
	// LLMProviders maps provider names to their config
	LLMProviders map[string]LLMProviderConfig

	// DefaultLLM names the provider used by agent runs
	DefaultLLM string
}

// LLMProviderConfig matches config.LLMProviderCfg with resolved API key.
type LLMProviderConfig struct {
	Type      string // "openrouter", "openai"
	Model     string // Default model name
	APIKey    string // Resolved API key
	BaseURL   string // Optional override
	RateLimit int    // Requests per minute
	Enabled   bool
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers with valid API keys will be registered.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(cfg)
	return r
}

// Reload updates the registry based on new configuration.
// Providers that are no longer configured will be unregistered.
// Providers with changed settings will be re-registered.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)

	for name, provCfg := range cfg.LLMProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		want[name] = true

		existing, hasExisting := r.llmClients[name]
		if hasExisting && !needsLLMUpdate(existing, provCfg) {
			continue
		}
		client := createLLMClient(provCfg)
		if client == nil {
			if r.logger != nil {
				r.logger.Warn("unknown LLM provider type", "name", name, "type", provCfg.Type)
			}
			continue
		}
		r.llmClients[name] = client
		if r.logger != nil {
			if hasExisting {
				r.logger.Info("updated LLM client", "name", name, "type", provCfg.Type)
			} else {
				r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type)
			}
		}
	}

	// Remove providers that are no longer configured
	for name := range r.llmClients {
		if !want[name] {
			delete(r.llmClients, name)
			if r.logger != nil {
				r.logger.Info("unregistered LLM client", "name", name)
			}
		}
	}

	r.defaultName = cfg.DefaultLLM
}

// createLLMClient creates an LLM client based on provider type.
func createLLMClient(cfg LLMProviderConfig) LLMClient {
	switch cfg.Type {
	case OpenRouterName:
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			DefaultModel:      cfg.Model,
			RequestsPerMinute: cfg.RateLimit,
		})
	case OpenAIName:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			DefaultModel:      cfg.Model,
			RequestsPerMinute: cfg.RateLimit,
		})
	default:
		return nil
	}
}

// needsLLMUpdate checks if an LLM client needs to be recreated.
func needsLLMUpdate(client LLMClient, cfg LLMProviderConfig) bool {
	switch c := client.(type) {
	case *OpenRouterClient:
		return cfg.Type != OpenRouterName ||
			c.cfg.APIKey != cfg.APIKey ||
			(cfg.Model != "" && c.cfg.DefaultModel != cfg.Model) ||
			(cfg.BaseURL != "" && c.cfg.BaseURL != cfg.BaseURL) ||
			(cfg.RateLimit > 0 && c.cfg.RequestsPerMinute != cfg.RateLimit)
	case *OpenAIClient:
		return cfg.Type != OpenAIName ||
			c.apiKey != cfg.APIKey ||
			(cfg.Model != "" && c.defaultModel != cfg.Model) ||
			(cfg.RateLimit > 0 && c.rpm != cfg.RateLimit)
	default:
		return true
	}
}

// DefaultClient returns an LLMClient that forwards each call to whichever
// client is the registry default at that moment, so config reloads take
// effect without rebuilding callers.
func (r *Registry) DefaultClient() LLMClient {
	return &defaultClient{registry: r}
}

type defaultClient struct {
	registry *Registry
}

func (d *defaultClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	client, err := d.registry.Default()
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, req)
}

func (d *defaultClient) ChatWithTools(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	client, err := d.registry.Default()
	if err != nil {
		return nil, err
	}
	return client.ChatWithTools(ctx, req, tools)
}

func (d *defaultClient) Name() string {
	client, err := d.registry.Default()
	if err != nil {
		return "unconfigured"
	}
	return client.Name()
}

// Available reports whether the registry currently has a default client.
func (d *defaultClient) Available() bool {
	_, err := d.registry.Default()
	return err == nil
}
