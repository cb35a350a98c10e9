package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/config"
	"github.com/jackzampolin/tanjia/internal/home"
	"github.com/jackzampolin/tanjia/internal/server"
)

var (
	serveHost  string
	servePort  string
	serveDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Tanjia server",
	Long: `Start the Tanjia HTTP server.

With no database URL configured and database.local enabled, this also
starts a Postgres container and stops it again when the server shuts down
(via Ctrl+C or SIGTERM). With neither, records are kept in memory.

The server provides:
  - /health        - Basic server health check
  - /ready         - Readiness check (includes the database)
  - /status        - Providers, database and follow-up sweep
  - /api/v1/...    - Leads, agents, follow-ups, bookings and history
  - /swagger/      - API documentation

Examples:
  tanjia serve                    # Start on the configured port (default 8080)
  tanjia serve --port 3000        # Start on custom port
  tanjia serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		level := slog.LevelInfo
		if serveDebug {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		}))

		h, err := getHome()
		if err != nil {
			return err
		}
		if err := h.EnsurePostgresDir(); err != nil {
			return err
		}
		if pid, ok := h.RunningServer(); ok {
			return fmt.Errorf("server already running (pid %d)", pid)
		}

		cfgMgr, err := loadConfig(h)
		if err != nil {
			return err
		}
		if f := cfgMgr.ConfigFile(); f != "" {
			logger.Info("loaded config", "file", f)
			cfgMgr.WatchConfig()
		}

		cfg := cfgMgr.Get()
		if !cmd.Flags().Changed("host") && cfg.Server.Host != "" {
			serveHost = cfg.Server.Host
		}
		if !cmd.Flags().Changed("port") && cfg.Server.Port != "" {
			servePort = cfg.Server.Port
		}

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			ConfigManager: cfgMgr,
			Home:          h,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		if err := home.WritePidFile(h.PidPath()); err != nil {
			logger.Warn("failed to write pid file", "error", err)
		}
		defer home.RemovePidFile(h.PidPath())

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads --config, falling back to the home directory's config
// file and then the default search path.
func loadConfig(h *home.Dir) (*config.Manager, error) {
	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	return config.NewManager(path)
}
