package providers

import (
	"context"
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	t.Run("register and get LLM", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockClient()

		r.RegisterLLM("test-llm", mock)

		client, err := r.GetLLM("test-llm")
		if err != nil {
			t.Fatalf("GetLLM() error = %v", err)
		}
		if client != mock {
			t.Error("got different client than registered")
		}
	})

	t.Run("get nonexistent LLM", func(t *testing.T) {
		r := NewRegistry()

		if _, err := r.GetLLM("nonexistent"); err == nil {
			t.Error("expected error for nonexistent LLM")
		}
	})

	t.Run("list providers sorted", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterLLM("llm2", NewMockClient())
		r.RegisterLLM("llm1", NewMockClient())

		got := r.ListLLM()
		if len(got) != 2 || got[0] != "llm1" || got[1] != "llm2" {
			t.Errorf("ListLLM() = %v, want [llm1 llm2]", got)
		}
	})

	t.Run("has providers", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterLLM("my-llm", NewMockClient())

		if !r.HasLLM("my-llm") {
			t.Error("HasLLM() = false for registered LLM")
		}
		if r.HasLLM("other-llm") {
			t.Error("HasLLM() = true for unregistered LLM")
		}

		r.UnregisterLLM("my-llm")
		if r.HasLLM("my-llm") {
			t.Error("HasLLM() = true after unregister")
		}
	})

	t.Run("default client", func(t *testing.T) {
		r := NewRegistry()
		if _, err := r.Default(); err == nil {
			t.Error("expected error with no clients")
		}

		only := NewMockClient()
		r.RegisterLLM("only", only)
		got, err := r.Default()
		if err != nil || got != only {
			t.Errorf("Default() with single client = %v, %v", got, err)
		}

		r.RegisterLLM("second", NewMockClient())
		if _, err := r.Default(); err == nil {
			t.Error("expected error with two clients and no default")
		}

		r.SetDefault("only")
		if got, err := r.Default(); err != nil || got != only {
			t.Errorf("Default() after SetDefault = %v, %v", got, err)
		}

		r.SetDefault("missing")
		if _, err := r.Default(); err == nil {
			t.Error("expected error for unregistered default")
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		r := NewRegistry()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				r.RegisterLLM("concurrent-llm", NewMockClient())
			}()
			go func() {
				defer wg.Done()
				r.GetLLM("concurrent-llm") // May fail, that's ok
			}()
		}
		wg.Wait()
	})
}

func TestNewRegistryFromConfig(t *testing.T) {
	t.Run("registers providers from config", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {
					Type:    "openrouter",
					Model:   "anthropic/claude-sonnet-4",
					APIKey:  "test-openrouter-key",
					Enabled: true,
				},
				"openai": {
					Type:    "openai",
					Model:   "gpt-4o-mini",
					APIKey:  "test-openai-key",
					Enabled: true,
				},
			},
			DefaultLLM: "openrouter",
		})

		if !r.HasLLM("openrouter") {
			t.Error("expected openrouter to be registered")
		}
		if !r.HasLLM("openai") {
			t.Error("expected openai to be registered")
		}
		client, err := r.Default()
		if err != nil {
			t.Fatalf("Default() error = %v", err)
		}
		if client.Name() != OpenRouterName {
			t.Errorf("Default().Name() = %s, want openrouter", client.Name())
		}
	})

	t.Run("skips disabled providers", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {
					Type:    "openrouter",
					APIKey:  "test-key",
					Enabled: false,
				},
			},
		})

		if r.HasLLM("openrouter") {
			t.Error("disabled provider should not be registered")
		}
	})

	t.Run("skips providers without API keys", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {
					Type:    "openrouter",
					APIKey:  "",
					Enabled: true,
				},
			},
		})

		if r.HasLLM("openrouter") {
			t.Error("provider without API key should not be registered")
		}
	})

	t.Run("skips unknown types", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"weird": {Type: "carrier-pigeon", APIKey: "k", Enabled: true},
			},
		})
		if r.HasLLM("weird") {
			t.Error("unknown provider type should not be registered")
		}
	})

	t.Run("uses custom model for LLM provider", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {
					Type:    "openrouter",
					Model:   "custom-model",
					APIKey:  "test-key",
					Enabled: true,
				},
			},
		})

		client, _ := r.GetLLM("openrouter")
		orClient, ok := client.(*OpenRouterClient)
		if !ok {
			t.Fatal("expected OpenRouterClient")
		}
		if orClient.cfg.DefaultModel != "custom-model" {
			t.Errorf("expected custom-model, got %s", orClient.cfg.DefaultModel)
		}
	})
}

func TestRegistry_Reload(t *testing.T) {
	t.Run("adds new providers on reload", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{})

		if r.HasLLM("openrouter") {
			t.Error("should start without openrouter")
		}

		r.Reload(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {
					Type:    "openrouter",
					APIKey:  "new-key",
					Enabled: true,
				},
			},
		})

		if !r.HasLLM("openrouter") {
			t.Error("expected openrouter after reload")
		}
	})

	t.Run("removes providers on reload", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {
					Type:    "openrouter",
					APIKey:  "key",
					Enabled: true,
				},
			},
		})

		if !r.HasLLM("openrouter") {
			t.Error("should start with openrouter")
		}

		r.Reload(RegistryConfig{})

		if r.HasLLM("openrouter") {
			t.Error("openrouter should be removed after reload")
		}
	})

	t.Run("updates providers with changed API keys", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {
					Type:    "openrouter",
					APIKey:  "old-key",
					Enabled: true,
				},
			},
		})

		client, _ := r.GetLLM("openrouter")
		if client.(*OpenRouterClient).cfg.APIKey != "old-key" {
			t.Error("should start with old key")
		}

		r.Reload(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {
					Type:    "openrouter",
					APIKey:  "new-key",
					Enabled: true,
				},
			},
		})

		client, _ = r.GetLLM("openrouter")
		if got := client.(*OpenRouterClient).cfg.APIKey; got != "new-key" {
			t.Errorf("expected new-key, got %s", got)
		}
	})

	t.Run("switches client type", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"main": {Type: "openrouter", APIKey: "k", Enabled: true},
			},
		})
		r.Reload(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"main": {Type: "openai", APIKey: "k", Enabled: true},
			},
		})
		client, _ := r.GetLLM("main")
		if _, ok := client.(*OpenAIClient); !ok {
			t.Errorf("expected *OpenAIClient after type change, got %T", client)
		}
	})

	t.Run("keeps providers with unchanged config", func(t *testing.T) {
		cfg := RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {
					Type:      "openrouter",
					Model:     "test-model",
					APIKey:    "same-key",
					RateLimit: 60,
					Enabled:   true,
				},
			},
		}
		r := NewRegistryFromConfig(cfg)
		client1, _ := r.GetLLM("openrouter")

		r.Reload(cfg)
		client2, _ := r.GetLLM("openrouter")

		if client1 != client2 {
			t.Error("client should not be replaced when config unchanged")
		}
	})

	t.Run("concurrent reload is safe", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openrouter": {
					Type:    "openrouter",
					APIKey:  "key",
					Enabled: true,
				},
			},
		})

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func(n int) {
				defer wg.Done()
				r.Reload(RegistryConfig{
					LLMProviders: map[string]LLMProviderConfig{
						"openrouter": {
							Type:    "openrouter",
							APIKey:  "key-" + string(rune('a'+n)),
							Enabled: true,
						},
					},
				})
			}(i)
			go func() {
				defer wg.Done()
				r.GetLLM("openrouter") // May fail, that's ok
			}()
		}
		wg.Wait()
	})
}

func TestRegistry_DefaultClient(t *testing.T) {
	r := NewRegistry()
	client := r.DefaultClient()

	avail, ok := client.(interface{ Available() bool })
	if !ok {
		t.Fatal("default client should report availability")
	}
	if avail.Available() {
		t.Error("empty registry should not be available")
	}
	if _, err := client.Chat(context.Background(), &ChatRequest{}); err == nil {
		t.Error("expected error with no default client")
	}

	mock := NewMockClient()
	mock.ResponseText = "hello"
	r.RegisterLLM("mock", mock)
	if !avail.Available() {
		t.Error("expected available after register")
	}
	if client.Name() != MockClientName {
		t.Errorf("expected name %s, got %s", MockClientName, client.Name())
	}

	res, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if res.Content != "hello" {
		t.Errorf("expected hello, got %q", res.Content)
	}

	// Swapping the default is picked up by the same client value.
	second := NewMockClient()
	second.ResponseText = "second"
	r.RegisterLLM("second", second)
	r.SetDefault("second")
	res, err = client.ChatWithTools(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}}, nil)
	if err != nil {
		t.Fatalf("ChatWithTools failed: %v", err)
	}
	if res.Content != "second" {
		t.Errorf("expected second, got %q", res.Content)
	}
}
