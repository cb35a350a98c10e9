package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/tanjia/internal/home"
	"github.com/jackzampolin/tanjia/internal/localdb"
	"github.com/jackzampolin/tanjia/internal/server/endpoints"
	"github.com/jackzampolin/tanjia/internal/store"
	"github.com/jackzampolin/tanjia/internal/testutil"
)

// newLocalDBServer builds a server that manages its own Postgres container.
func newLocalDBServer(t *testing.T, cfg testutil.ServerConfig) *Server {
	t.Helper()
	t.Setenv("TANJIA_DATABASE_URL", "")

	dir, err := home.New(cfg.HomePath)
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	if err := dir.EnsurePostgresDir(); err != nil {
		t.Fatalf("EnsurePostgresDir() error = %v", err)
	}

	srv, err := New(Config{
		Host: cfg.Host,
		Port: cfg.Port,
		Home: dir,
		LocalDB: localdb.DockerConfig{
			ContainerName: cfg.DBConfig.ContainerName,
			HostPort:      cfg.DBConfig.HostPort,
			Labels:        cfg.DBConfig.Labels,
		},
		Logger: cfg.Logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func TestServer_FullLifecycle(t *testing.T) {
	cfg := testutil.NewServerConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	srv := newLocalDBServer(t, cfg)

	// Start server in background
	serverErr := make(chan error, 1)
	serverCtx, serverCancel := context.WithCancel(ctx)

	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	// Wait for server to be ready
	if err := testutil.WaitForServer(cfg.URL(), 2*time.Minute); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}

	t.Run("ready_endpoint", func(t *testing.T) {
		resp, err := http.Get(cfg.URL() + "/ready")
		if err != nil {
			t.Fatalf("ready check failed: %v", err)
		}
		defer resp.Body.Close()

		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if health.Database != "ok" {
			t.Errorf("health.Database = %q, want %q", health.Database, "ok")
		}
	})

	t.Run("status_endpoint", func(t *testing.T) {
		status, err := testutil.GetStatus(cfg.URL())
		if err != nil {
			t.Fatalf("status check failed: %v", err)
		}
		if status.Database.Health != "healthy" {
			t.Errorf("status.Database.Health = %q, want %q", status.Database.Health, "healthy")
		}
		if status.Database.Container != string(localdb.StatusRunning) {
			t.Errorf("status.Database.Container = %q, want %q", status.Database.Container, localdb.StatusRunning)
		}
	})

	t.Run("postgres_store", func(t *testing.T) {
		if _, ok := srv.Store().(*store.Postgres); !ok {
			t.Fatalf("Store() = %T, want *store.Postgres", srv.Store())
		}

		resp, err := http.Post(cfg.URL()+"/api/v1/leads", "application/json",
			strings.NewReader(`{"name":"Grace Hopper","email":"grace@example.com"}`))
		if err != nil {
			t.Fatalf("create lead failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Errorf("create status = %d, want %d", resp.StatusCode, http.StatusCreated)
		}
	})

	// Shutdown server
	serverCancel()

	select {
	case err := <-serverErr:
		if err != nil {
			t.Logf("server returned error (expected during shutdown): %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}

	t.Run("not_running_after_shutdown", func(t *testing.T) {
		if srv.IsRunning() {
			t.Error("IsRunning() = true after shutdown, want false")
		}
	})

	t.Run("database_stopped_after_shutdown", func(t *testing.T) {
		mgr, err := localdb.NewDockerManager(localdb.DockerConfig{
			ContainerName: cfg.DBConfig.ContainerName,
		})
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			t.Fatalf("failed to get status: %v", err)
		}
		if status == localdb.StatusRunning {
			t.Error("database still running after server shutdown")
			_ = mgr.Stop(ctx)
		}
	})
}
