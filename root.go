package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/gleaner/internal/config"
	"github.com/bryan-buckman/gleaner/internal/database"
	"github.com/bryan-buckman/gleaner/internal/logging"
	"github.com/bryan-buckman/gleaner/internal/metrics"
	"github.com/bryan-buckman/gleaner/internal/model"
	"github.com/bryan-buckman/gleaner/internal/retention"
	"github.com/bryan-buckman/gleaner/internal/rss"
)

var (
	// Global flags
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "gleaner",
	Short: "Gleaner - feed reader with retention policies",
	Long: `Gleaner polls RSS and Atom feeds and keeps them tidy.

Retention hides items that are too old, already read, or beyond a per-feed
item count. Pinned items and items that have never been stored are never
hidden; unread and labeled items can be protected as well.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

// app holds the components shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	db        database.Store
	collector *metrics.Collector
	engine    *retention.Engine
	fetcher   *rss.Fetcher
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	log := logging.Component(logger, "main")
	log.WithField("database", db.DatabaseType()).Info("database opened")

	seed := cfg.Retention.Defaults.Values()
	seed[model.SettingPollingInterval] = strconv.Itoa(cfg.Polling.IntervalMinutes)
	n, err := db.SeedPreferences(ctx, seed)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "seed preferences")
	}
	if n > 0 {
		log.WithField("count", n).Info("seeded default preferences")
	}

	a := &app{cfg: cfg, logger: logger, db: db}
	a.collector = metrics.NewCollector(nil)
	a.engine = retention.NewEngine(db, db, db,
		retention.WithObserver(a.collector),
		retention.WithLogger(logrus.NewEntry(logger)),
	)
	opts := []rss.Option{
		rss.WithIngestRecorder(a.collector),
		rss.WithLogger(logrus.NewEntry(logger)),
	}
	if cfg.Retention.AfterFetch {
		opts = append(opts, rss.WithRetainer(a.engine))
	}
	a.fetcher = rss.NewFetcher(db, opts...)
	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Warn("failed to close database")
	}
}
