package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/tanjia/internal/agent"
	"github.com/jackzampolin/tanjia/internal/agents"
	"github.com/jackzampolin/tanjia/internal/agents/webtools"
	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/internal/booking"
	"github.com/jackzampolin/tanjia/internal/config"
	"github.com/jackzampolin/tanjia/internal/followup"
	"github.com/jackzampolin/tanjia/internal/home"
	"github.com/jackzampolin/tanjia/internal/llmcall"
	"github.com/jackzampolin/tanjia/internal/localdb"
	"github.com/jackzampolin/tanjia/internal/notify"
	"github.com/jackzampolin/tanjia/internal/prompts"
	"github.com/jackzampolin/tanjia/internal/providers"
	"github.com/jackzampolin/tanjia/internal/ratelimit"
	"github.com/jackzampolin/tanjia/internal/server/endpoints"
	"github.com/jackzampolin/tanjia/internal/store"
	"github.com/jackzampolin/tanjia/internal/svcctx"
)

// dbReadyTimeout bounds how long Start waits for a local Postgres container.
const dbReadyTimeout = 60 * time.Second

// Server is the main Tanjia HTTP server.
// When the database is managed locally it starts the Postgres container on
// server start and stops it on shutdown.
type Server struct {
	httpServer *http.Server
	dbManager  *localdb.DockerManager
	store      store.Store
	ownsStore  bool
	registry   *providers.Registry
	limiter    *ratelimit.Limiter
	scheduler  *followup.Scheduler
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Home is the tanjia home directory; it holds local Postgres data
	Home *home.Dir
	// Store replaces the configured database when set
	Store store.Store
	// LocalDB overrides the local Postgres container settings
	LocalDB localdb.DockerConfig
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		store:     cfg.Store,
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
	}
	c := s.config()

	// Create provider registry
	s.registry = providers.NewRegistry()
	s.registry.SetLogger(cfg.Logger)
	s.registry.Reload(c.ToProviderRegistryConfig())

	if cfg.ConfigManager != nil {
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			s.registry.Reload(c.ToProviderRegistryConfig())
			cfg.Logger.Info("provider registry reloaded from config")
		})
	}

	if cfg.Store == nil && c.DatabaseURL() == "" && c.Database.Local {
		mgr, err := localdb.NewDockerManager(localDockerConfig(cfg, c))
		if err != nil {
			return nil, fmt.Errorf("failed to create database manager: %w", err)
		}
		s.dbManager = mgr
	}

	s.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: c.RateLimit.RequestsPerMinute,
		Burst:             c.RateLimit.Burst,
		IdleTTL:           c.RateLimit.IdleTTL,
	}, cfg.Logger)

	// A nil *DockerManager must not become a non-nil interface.
	var container endpoints.Container
	if s.dbManager != nil {
		container = s.dbManager
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{
		Container:       container,
		NextSweep:       s.nextSweep,
		WebhookSecret:   func() string { return s.config().WebhookSecret() },
		SwaggerSpecPath: endpoints.GetSwaggerSpecPath(),
	}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit, s.rateLimit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.withServices(mux),
		ReadTimeout: 30 * time.Second,
		// agent runs may escalate and call tools
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// localDockerConfig fills container settings from the config and home
// directory where cfg.LocalDB leaves them unset.
func localDockerConfig(cfg Config, c *config.Config) localdb.DockerConfig {
	dc := cfg.LocalDB
	if dc.Image == "" {
		dc.Image = c.Database.Image
	}
	if dc.HostPort == "" {
		dc.HostPort = c.Database.Port
	}
	if cfg.Home != nil {
		if dc.ContainerName == "" {
			dc.ContainerName = localdb.GenerateContainerName(cfg.Home.Path())
		}
		if dc.DataPath == "" {
			dc.DataPath = cfg.Home.PostgresPath()
		}
	}
	return dc
}

// config returns the live configuration, or defaults without a manager.
func (s *Server) config() *config.Config {
	if s.configMgr != nil {
		return s.configMgr.Get()
	}
	return config.DefaultConfig()
}

// Start opens the store, builds services, and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.openStore(ctx); err != nil {
		_ = s.shutdown()
		return err
	}

	if err := s.initServices(ctx); err != nil {
		_ = s.shutdown()
		return err
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// openStore selects the record store: an injected one, a configured URL,
// the local container, or memory.
func (s *Server) openStore(ctx context.Context) error {
	if s.store != nil {
		return nil
	}
	c := s.config()

	url := c.DatabaseURL()
	if s.dbManager != nil {
		if err := s.dbManager.ValidateExisting(ctx); err != nil {
			return fmt.Errorf("existing database container incompatible: %w", err)
		}
		s.logger.Info("starting local Postgres")
		if err := s.dbManager.Start(ctx); err != nil {
			return fmt.Errorf("failed to start database: %w", err)
		}
		if err := s.dbManager.WaitReady(ctx, dbReadyTimeout); err != nil {
			return fmt.Errorf("database did not become ready: %w", err)
		}
		url = s.dbManager.URL()
	}

	if url == "" {
		s.logger.Warn("no database configured, records are kept in memory")
		s.store = store.NewMemory()
		s.ownsStore = true
		return nil
	}

	pg, err := store.Open(ctx, store.PostgresConfig{
		URL:      url,
		MaxConns: c.Database.MaxConns,
		Migrate:  true,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.store = pg
	s.ownsStore = true
	return nil
}

// initServices wires the agents, webhook, and follow-ups over the store.
func (s *Server) initServices(ctx context.Context) error {
	c := s.config()

	resolver := prompts.NewResolver(s.store, s.logger)
	agents.RegisterPrompts(resolver)
	if err := resolver.SyncAll(ctx); err != nil {
		s.logger.Warn("failed to sync prompts", "error", err)
	}

	runner := agent.NewRunner(agent.RunnerConfig{
		Client: s.registry.DefaultClient(),
		Tiers: agent.ModelTiers{
			Default: agent.ModelTier{
				Model:       c.Agent.DefaultModel,
				Temperature: c.Agent.Temperature,
				MaxTokens:   c.Agent.MaxTokens,
			},
			Escalated: agent.ModelTier{
				Model:       c.Agent.EscalatedModel,
				Temperature: c.Agent.EscalatedTemperature,
				MaxTokens:   c.Agent.MaxTokens,
			},
		},
		MaxAttempts: c.Agent.MaxAttempts,
		Budget:      agent.NewDailyBudget(c.Agent.DailyEscalations),
		Recorder:    llmcall.NewRecorder(s.store, s.logger),
		Runs:        s.store,
		ToolTimeout: c.Agent.ToolTimeout,
		Debug:       c.Agent.Debug,
		Logger:      s.logger,
	})

	agentSvc := agents.New(agents.Config{
		Runner:  runner,
		Prompts: resolver,
		Store:   s.store,
		Fetcher: webtools.NewFetcher(webtools.FetcherConfig{
			Timeout:  c.Search.FetchTimeout,
			MaxChars: c.Search.FetchMaxChars,
			Logger:   s.logger,
		}),
		Searcher: webtools.NewSearcher(webtools.SearcherConfig{
			Endpoint:   c.Search.Endpoint,
			APIKey:     config.ResolveEnvVars(c.Search.APIKey),
			MaxResults: c.Search.MaxResults,
			Logger:     s.logger,
		}),
		MaxEscalations: c.Agent.MaxEscalations,
		Logger:         s.logger,
	})

	notifier := s.newNotifier(c)
	followups := followup.NewService(s.store, notifier, s.logger)

	if c.FollowUps.Enabled {
		scheduler, err := followup.NewScheduler(followups, c.FollowUps.Schedule, s.logger)
		if err != nil {
			return fmt.Errorf("invalid follow-up schedule: %w", err)
		}
		scheduler.Start()
		s.mu.Lock()
		s.scheduler = scheduler
		s.mu.Unlock()
	}

	s.services = &svcctx.Services{
		Store:          s.store,
		Registry:       s.registry,
		Agents:         agentSvc,
		PromptResolver: resolver,
		LLMCallStore:   llmcall.NewStore(s.store),
		Bookings:       booking.NewService(s.store, notifier, s.logger),
		FollowUps:      followups,
		Logger:         s.logger,
		Home:           s.home,
	}
	return nil
}

// newNotifier posts to Slack when a token is configured and logs otherwise.
func (s *Server) newNotifier(c *config.Config) notify.Notifier {
	token := config.ResolveEnvVars(c.Slack.Token)
	if token != "" {
		slack, err := notify.NewSlack(notify.SlackConfig{Token: token, Channel: c.Slack.Channel})
		if err == nil {
			s.logger.Info("slack notifications enabled", "channel", c.Slack.Channel)
			return slack
		}
		s.logger.Warn("slack notifications disabled", "error", err)
	}
	return notify.NewLog(s.logger)
}

// shutdown stops the scheduler, the HTTP server, the store, and the local
// database container.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.mu.Lock()
	scheduler := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()
	if scheduler != nil {
		scheduler.Stop()
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.store != nil && s.ownsStore {
		s.store.Close()
		s.store = nil
	}
	s.services = nil

	if s.dbManager != nil {
		s.logger.Info("stopping local Postgres")
		if err := s.dbManager.Stop(shutdownCtx); err != nil {
			s.logger.Error("database stop error", "error", err)
		}
		if err := s.dbManager.Close(); err != nil {
			s.logger.Error("database manager close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Store returns the record store.
// Returns nil if the server hasn't started yet.
func (s *Server) Store() store.Store {
	return s.store
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// nextSweep reports the next follow-up sweep for /status.
func (s *Server) nextSweep() string {
	s.mu.RLock()
	scheduler := s.scheduler
	s.mu.RUnlock()
	if scheduler == nil {
		return ""
	}
	next := scheduler.Next()
	if next.IsZero() {
		return ""
	}
	return next.UTC().Format(time.RFC3339)
}

// rateLimit applies the per-caller limiter to agent endpoints.
func (s *Server) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	return s.limiter.Middleware(next).ServeHTTP
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the store and services are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
