package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainhunt/backend/internal/config"
	"github.com/chainhunt/backend/internal/logging"
	"github.com/chainhunt/backend/internal/metrics"
	"github.com/chainhunt/backend/internal/mock"
	"github.com/chainhunt/backend/internal/session"
	"github.com/chainhunt/backend/internal/ws"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session coordinator and its HTTP/websocket API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "override server port")
	serveCmd.Flags().String("host", "", "override listen host")
	serveCmd.Flags().Int("bots", -1, "number of simulated participants (overrides bots.count)")
	serveCmd.Flags().String("log-level", "", "override log level")
	serveCmd.Flags().Bool("strict-pursuers", false, "keep pursuer sets strictly inverse to targets")
	rootCmd.AddCommand(serveCmd)
}

// loadServeConfig reads the config file and applies command-line overrides.
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if bots, _ := cmd.Flags().GetInt("bots"); bots >= 0 {
		cfg.Bots.Count = bots
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if cmd.Flags().Changed("strict-pursuers") {
		cfg.Session.StrictPursuers, _ = cmd.Flags().GetBool("strict-pursuers")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New("chainhunt", cfg.Log.Level, cfg.Log.Pretty, os.Stderr)
	if err != nil {
		return err
	}

	if cfg.Server.HostToken == "" {
		token, err := config.GenerateToken()
		if err != nil {
			return err
		}
		cfg.Server.HostToken = token
		logger.Warn().Str("host_token", token).Msg("no host token configured, generated one for this run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord := session.NewCoordinator(session.Config{
		Duration:       cfg.Session.Duration,
		TickInterval:   cfg.Session.TickInterval,
		StrictPursuers: cfg.Session.StrictPursuers,
		InboxSize:      cfg.Session.InboxSize,
	}, session.WithLogger(logger))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		m.WatchSession(coord)
		coord.SetObserver(m)
		events := make(chan session.Event, 256)
		coord.SetEvents(events)
		go m.Run(ctx, events)
	}

	coordErr := make(chan error, 1)
	go func() { coordErr <- coord.Run(ctx) }()

	if cfg.Bots.Count > 0 {
		gen := mock.NewGenerator(coord, cfg.Bots.Count, cfg.Bots.KillInterval, logger)
		if err := gen.Start(ctx); err != nil {
			return err
		}
	}

	server := ws.NewServer(cfg, coord, logger, m)
	serveErr := server.ListenAndServe(ctx, cfg.Addr())
	stop()

	if err := <-coordErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("shut down")
	return serveErr
}
