package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
)

// CleanupLabel marks containers created by tests. Its value is the test name.
const CleanupLabel = "tanjia-test"

// RequireDocker skips the test unless Docker tests are enabled with
// TANJIA_TEST_DOCKER=1 and -short is not set.
func RequireDocker(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping docker test in short mode")
	}
	if os.Getenv("TANJIA_TEST_DOCKER") == "" {
		t.Skip("TANJIA_TEST_DOCKER not set")
	}
}

// DockerClient connects to Docker and removes the test's labelled
// containers when it finishes, including ones left by an interrupted run.
func DockerClient(t testing.TB) *client.Client {
	t.Helper()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Fatalf("failed to create docker client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		t.Fatalf("docker is not running: %v", err)
	}

	removeLabelled(t, cli)
	t.Cleanup(func() {
		removeLabelled(t, cli)
		cli.Close()
	})
	return cli
}

// UniqueContainerName returns tanjia-test-<prefix>-<test>-<random>.
func UniqueContainerName(t testing.TB, prefix string) string {
	return fmt.Sprintf("tanjia-test-%s-%s-%s", prefix, sanitizeName(t.Name()), uuid.New().String()[:8])
}

// ContainerLabels returns labels that tie a container to the test.
func ContainerLabels(t testing.TB) map[string]string {
	return map[string]string{CleanupLabel: t.Name()}
}

func removeLabelled(t testing.TB, cli *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", CleanupLabel+"="+t.Name())),
	})
	if err != nil {
		t.Logf("failed to list test containers: %v", err)
		return
	}

	for _, c := range containers {
		err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
		if err != nil {
			t.Logf("failed to remove container %s: %v", c.ID[:12], err)
			continue
		}
		t.Logf("removed test container %s", strings.Join(c.Names, ","))
	}
}

// sanitizeName keeps a test name usable inside a container name.
func sanitizeName(name string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '/' || r == '_' || r == '-':
			return '-'
		}
		return -1
	}, name)
	if len(out) > 30 {
		out = out[:30]
	}
	return out
}
