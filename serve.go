package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/gleaner/internal/logging"
	"github.com/bryan-buckman/gleaner/internal/retention"
	"github.com/bryan-buckman/gleaner/internal/rss"
	"github.com/bryan-buckman/gleaner/internal/server"
)

const shutdownTimeout = 15 * time.Second

var serveFlags struct {
	listenAddress string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server, the poller and the retention scheduler",
	Long: `Start the HTTP API.

Feeds are polled in the background when polling is enabled, and retention
runs over every feed on the configured cron schedule.

Examples:
  # Start with the defaults and a local SQLite database
  gleaner serve

  # Start with a config file and a different listen address
  gleaner serve --config /etc/gleaner.yaml --listen 127.0.0.1:9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	log := logging.Component(a.logger, "main")

	addr := a.cfg.Server.ListenAddress
	if serveFlags.listenAddress != "" {
		addr = serveFlags.listenAddress
	}

	scheduler := retention.NewScheduler(a.engine, a.cfg.Retention.Schedule)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()
	if next := scheduler.NextRun(); next != nil {
		log.WithField("next_run", next.Format(time.RFC3339)).Info("retention scheduled")
	}

	if a.cfg.Polling.Enabled {
		poller := rss.NewPoller(a.fetcher)
		poller.Start()
		defer poller.Stop()
	}

	opts := []server.Option{server.WithLogger(logging.Component(a.logger, "server"))}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(a.collector, a.cfg.Metrics.Path))
	}
	srv := server.New(a.db, a.engine, a.fetcher, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
