package providers

import (
	"os"
	"testing"
)

// liveRegistryConfig enables every provider with a key in the environment.
// OpenRouter wins the default when both keys are present.
func liveRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{LLMProviders: map[string]LLMProviderConfig{}}
	for _, p := range []struct{ name, env string }{
		{OpenRouterName, "OPENROUTER_API_KEY"},
		{OpenAIName, "OPENAI_API_KEY"},
	} {
		key := os.Getenv(p.env)
		if key == "" {
			continue
		}
		cfg.LLMProviders[p.name] = LLMProviderConfig{Type: p.name, APIKey: key, RateLimit: 60, Enabled: true}
		if cfg.DefaultLLM == "" {
			cfg.DefaultLLM = p.name
		}
	}
	return cfg
}

// liveOpenRouter returns a client for real API calls or skips the test.
func liveOpenRouter(t *testing.T) *OpenRouterClient {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	key := os.Getenv("OPENROUTER_API_KEY")
	if key == "" {
		t.Skip("OPENROUTER_API_KEY not set")
	}
	return NewOpenRouterClient(OpenRouterConfig{APIKey: key})
}
