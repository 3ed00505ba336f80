package config

// Default values.
const (
	DefaultListenAddress   = ":8080"
	DefaultDriver          = DriverSQLite
	DefaultSQLitePath      = "gleaner.db"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultIntervalMinutes = 30
	MinIntervalMinutes     = 15
	DefaultMetricsPath     = "/metrics"
)

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	cfg := &Config{
		Polling:   PollingConfig{Enabled: true},
		Retention: RetentionConfig{AfterFetch: true},
		Metrics:   MetricsConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every empty field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDriver
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == DriverSQLite {
		cfg.Database.DSN = DefaultSQLitePath
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Polling.IntervalMinutes == 0 {
		cfg.Polling.IntervalMinutes = DefaultIntervalMinutes
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}
