package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/home"
	"github.com/jackzampolin/tanjia/internal/localdb"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the local Postgres container",
	Long: `Manage the local Postgres container lifecycle.

The local database is used when no database URL is configured and
database.local is enabled. Data is persisted to ~/.tanjia/postgres/.

Examples:
  tanjia db start   # Start the Postgres container
  tanjia db stop    # Stop the container (data preserved)
  tanjia db status  # Check container status
  tanjia db logs    # View container logs`,
}

var dbStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Postgres container",
	Long: `Start the Postgres container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Starting Postgres...")
		if err := mgr.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start Postgres: %w", err)
		}

		fmt.Printf("Postgres is running at %s\n", mgr.URL())
		return nil
	},
}

var dbStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Postgres container",
	Long: `Stop the Postgres container.

This stops the container but preserves data. Use 'tanjia db start'
to restart it later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping Postgres...")
		if err := mgr.Stop(cmd.Context()); err != nil {
			return fmt.Errorf("failed to stop Postgres: %w", err)
		}

		fmt.Println("Postgres stopped")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Postgres container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case localdb.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("URL: %s\n", mgr.URL())

			if err := mgr.WaitReady(ctx, 2*time.Second); err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				fmt.Println("Health: healthy")
			}
		case localdb.StatusStopped:
			fmt.Printf("Status: %s (use 'tanjia db start' to start)\n", status)
		case localdb.StatusNotFound:
			fmt.Printf("Status: %s (use 'tanjia db start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}

		return nil
	},
}

var logsTail string

var dbLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show Postgres container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(cmd.Context(), logsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var dbRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the Postgres container",
	Long: `Remove the Postgres container.

This stops and removes the container. Data in ~/.tanjia/postgres/
is NOT deleted - only the container is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing Postgres container...")
		if err := mgr.Remove(cmd.Context()); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}

		fmt.Println("Postgres container removed (data preserved)")
		return nil
	},
}

var dbWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for Postgres to be ready",
	Long: `Wait for Postgres to accept connections.

This is useful in scripts to ensure the database is fully started
before running other commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		fmt.Printf("Waiting for Postgres (timeout: %s)...\n", timeout)

		if err := mgr.WaitReady(cmd.Context(), timeout); err != nil {
			return fmt.Errorf("Postgres not ready: %w", err)
		}

		fmt.Println("Postgres is ready")
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbStartCmd)
	dbCmd.AddCommand(dbStopCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbLogsCmd)
	dbCmd.AddCommand(dbRemoveCmd)
	dbCmd.AddCommand(dbWaitCmd)

	dbLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")
	dbWaitCmd.Flags().Duration("timeout", 30*time.Second, "Timeout waiting for Postgres")

	rootCmd.AddCommand(dbCmd)
}

// getHome returns the home directory manager.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// getDockerManager creates a DockerManager for the home directory, using
// the configured port and image so it matches what serve starts.
func getDockerManager() (*localdb.DockerManager, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	if err := h.EnsurePostgresDir(); err != nil {
		return nil, err
	}
	cfgMgr, err := loadConfig(h)
	if err != nil {
		return nil, err
	}
	cfg := cfgMgr.Get()

	return localdb.NewDockerManager(localdb.DockerConfig{
		ContainerName: localdb.GenerateContainerName(h.Path()),
		Image:         cfg.Database.Image,
		DataPath:      h.PostgresPath(),
		HostPort:      cfg.Database.Port,
	})
}
