package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"testing"
	"time"
)

// DBTestConfig holds local Postgres container settings without importing
// the localdb package.
type DBTestConfig struct {
	ContainerName string
	HostPort      string
	Labels        map[string]string
}

// ServerConfig returns configuration values for creating a test server.
// This avoids importing the server package directly.
type ServerConfig struct {
	Host     string
	Port     string
	HomePath string
	DBConfig DBTestConfig
	Logger   *slog.Logger
}

// NewServerConfig creates configuration for a test server with unique ports
// and a local database container.
func NewServerConfig(t *testing.T) ServerConfig {
	t.Helper()
	RequireDocker(t)

	// Register Docker cleanup for this test
	_ = DockerClient(t)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	tempDir := t.TempDir()

	httpPort, err := FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port for HTTP: %v", err)
	}
	dbPort, err := FindFreePort()
	if err != nil {
		t.Fatalf("failed to find free port for Postgres: %v", err)
	}

	return ServerConfig{
		Host:     "127.0.0.1",
		Port:     httpPort,
		HomePath: tempDir,
		DBConfig: DBTestConfig{
			ContainerName: UniqueContainerName(t, "pg"),
			HostPort:      dbPort,
			Labels:        ContainerLabels(t),
		},
		Logger: logger,
	}
}

// URL returns the server URL for the given config.
func (c ServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%s", c.Host, c.Port)
}

// WaitForServer polls /ready until the server reports a reachable store.
func WaitForServer(url string, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url + "/ready")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(250 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}

// WaitForShutdown returns Start's error, or an error once timeout passes.
func WaitForShutdown(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for shutdown")
	}
}

// FindFreePort asks the kernel for an unused loopback port.
func FindFreePort() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer listener.Close()
	return fmt.Sprintf("%d", listener.Addr().(*net.TCPAddr).Port), nil
}

// StartServer pairs a running server's cancel func with the channel its
// Start call reports on.
type StartServer struct {
	Cancel context.CancelFunc
	Done   <-chan error
}

// Stop cancels the server context and waits for shutdown.
func (s *StartServer) Stop() {
	if s.Cancel != nil {
		s.Cancel()
	}
	if s.Done != nil {
		<-s.Done
	}
}

// StatusResponse is the subset of /status the tests assert on.
type StatusResponse struct {
	Server    string `json:"server"`
	Providers struct {
		LLM        []string `json:"llm"`
		Default    string   `json:"default"`
		Configured bool     `json:"configured"`
	} `json:"providers"`
	Database struct {
		Container string `json:"container"`
		Health    string `json:"health"`
	} `json:"database"`
	FollowUps string `json:"followups"`
}

// GetStatus decodes GET /status.
func GetStatus(url string) (*StatusResponse, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}
