package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Defaults.LLMProvider != "openrouter" {
		t.Errorf("expected openrouter default provider, got %s", cfg.Defaults.LLMProvider)
	}
	if p, ok := cfg.GetLLMProvider("openrouter"); !ok || p.APIKey != "${OPENROUTER_API_KEY}" {
		t.Error("expected openrouter API key placeholder")
	}
	if cfg.Agent.MaxAttempts != 2 {
		t.Errorf("expected 2 attempts, got %d", cfg.Agent.MaxAttempts)
	}
	if cfg.Agent.DefaultModel == cfg.Agent.EscalatedModel {
		t.Error("expected distinct model tiers")
	}
	if enabled := cfg.EnabledLLMProviders(); len(enabled) != 1 {
		t.Errorf("expected 1 enabled provider, got %d", len(enabled))
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})

	t.Run("expands inside a larger string", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "db.local")
		result := ResolveEnvVars("postgres://u@${TEST_DB_HOST}:5432/x")
		if result != "postgres://u@db.local:5432/x" {
			t.Errorf("unexpected expansion: %s", result)
		}
	})
}

func TestConfig_ToProviderRegistryConfig(t *testing.T) {
	t.Setenv("TEST_OPENROUTER_KEY", "or-key-123")

	cfg := &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {Type: "openrouter", Model: "m", APIKey: "${TEST_OPENROUTER_KEY}", Enabled: true},
			"literal":    {Type: "openai", APIKey: "direct-key", BaseURL: "http://localhost:1234"},
		},
		Defaults: DefaultsCfg{LLMProvider: "openrouter"},
	}

	rc := cfg.ToProviderRegistryConfig()
	if rc.DefaultLLM != "openrouter" {
		t.Errorf("expected default openrouter, got %s", rc.DefaultLLM)
	}
	if got := rc.LLMProviders["openrouter"].APIKey; got != "or-key-123" {
		t.Errorf("expected or-key-123, got %s", got)
	}
	lit := rc.LLMProviders["literal"]
	if lit.APIKey != "direct-key" || lit.BaseURL != "http://localhost:1234" {
		t.Errorf("unexpected literal provider: %+v", lit)
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
server:
  port: "9090"
agent:
  default_model: "test/model"
  tool_timeout: 5s
llm_providers:
  local:
    type: openai
    base_url: http://localhost:8000/v1
    enabled: true
`)

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Server.Port != "9090" {
			t.Errorf("expected port 9090, got %s", cfg.Server.Port)
		}
		if cfg.Server.Host != "127.0.0.1" {
			t.Errorf("expected default host, got %s", cfg.Server.Host)
		}
		if cfg.Agent.DefaultModel != "test/model" {
			t.Errorf("expected test/model, got %s", cfg.Agent.DefaultModel)
		}
		if cfg.Agent.ToolTimeout != 5*time.Second {
			t.Errorf("expected 5s, got %s", cfg.Agent.ToolTimeout)
		}
		if cfg.Agent.MaxAttempts != 2 {
			t.Errorf("expected default attempts, got %d", cfg.Agent.MaxAttempts)
		}
		if p, ok := cfg.GetLLMProvider("local"); !ok || p.BaseURL != "http://localhost:8000/v1" {
			t.Errorf("expected local provider, got %+v", p)
		}
		if mgr.ConfigFile() != configFile {
			t.Errorf("expected %s, got %s", configFile, mgr.ConfigFile())
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		configFile := writeConfig(t, "server:\n  port: \"9090\"\n")
		t.Setenv("TANJIA_SERVER_PORT", "7070")
		t.Setenv("TANJIA_RATE_LIMIT_BURST", "9")

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		cfg := mgr.Get()
		if cfg.Server.Port != "7070" {
			t.Errorf("expected 7070, got %s", cfg.Server.Port)
		}
		if cfg.RateLimit.Burst != 9 {
			t.Errorf("expected burst 9, got %d", cfg.RateLimit.Burst)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		configFile := writeConfig(t, "server: [unclosed\n")
		if _, err := NewManager(configFile); err == nil {
			t.Error("expected error for invalid yaml")
		}
	})
}

func TestManager_Lookup(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "agent:\n  escalated_model: big/model\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	v, err := mgr.Lookup("agent.escalated_model")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if v != "big/model" {
		t.Errorf("expected big/model, got %v", v)
	}

	if _, err := mgr.Lookup("server.port"); err != nil {
		t.Errorf("expected default key to resolve: %v", err)
	}

	_, err = mgr.Lookup("nope.missing")
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}

	if _, ok := mgr.Settings()["agent"]; !ok {
		t.Error("expected agent section in settings")
	}
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "server:\n  port: \"1\"\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "server:\n  port: \"1\"\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Server.Port
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		mgr.reload()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "agent:\n  default_model: \"initial\"\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	if got := mgr.Get().Agent.DefaultModel; got != "initial" {
		t.Errorf("initial value mismatch: expected initial, got %s", got)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.Agent.DefaultModel)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("agent:\n  default_model: \"updated\"\n"), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := lastValue.Load().(string); v == "updated" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if got := mgr.Get().Agent.DefaultModel; got != "updated" {
		t.Errorf("config not updated: expected updated, got %s", got)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("write default: %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("failed to load written default: %v", err)
	}
	cfg := mgr.Get()
	def := DefaultConfig()
	if cfg.Agent.ToolTimeout != def.Agent.ToolTimeout {
		t.Errorf("tool timeout mismatch: %s vs %s", cfg.Agent.ToolTimeout, def.Agent.ToolTimeout)
	}
	if cfg.FollowUps.Schedule != def.FollowUps.Schedule {
		t.Errorf("schedule mismatch: %s", cfg.FollowUps.Schedule)
	}
	if _, ok := cfg.GetLLMProvider("openrouter"); !ok {
		t.Error("expected openrouter provider")
	}
}
