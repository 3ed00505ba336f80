// Package config loads the gleaner configuration.
//
// Values come from, in increasing order of precedence: built-in defaults, an
// optional YAML file, and GLEANER_* environment variables. Environment
// variables may also be set through .env.local and .env files in the working
// directory. The result is validated before use.
//
// Example file:
//
//	server:
//	  listen_address: ":8080"
//	database:
//	  driver: sqlite
//	  dsn: gleaner.db
//	logging:
//	  level: info
//	  format: text
//	polling:
//	  enabled: true
//	  interval_minutes: 30
//	retention:
//	  schedule: "0 4 * * *"
//	  after_fetch: true
//	  defaults:
//	    age_enabled: true
//	    age_days: 30
//	    protect_unread: true
//	metrics:
//	  enabled: true
//	  path: /metrics
package config

import "github.com/bryan-buckman/gleaner/internal/retention"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Polling   PollingConfig   `yaml:"polling"`
	Retention RetentionConfig `yaml:"retention"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite and a connection URL for postgres.
	DSN string `yaml:"dsn"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PollingConfig configures the background feed poller.
type PollingConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
}

// RetentionConfig configures when retention runs.
type RetentionConfig struct {
	// Schedule is a standard cron expression for tree-wide runs. Empty
	// disables scheduled runs.
	Schedule string `yaml:"schedule"`
	// AfterFetch runs retention in merge mode on every fetched feed.
	AfterFetch bool `yaml:"after_fetch"`
	// Defaults are written to the global preference scope for every key it
	// does not hold yet.
	Defaults retention.Config `yaml:"defaults"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
