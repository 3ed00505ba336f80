package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path over the defaults, applies .env files and
// GLEANER_* overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	LoadDotEnv()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %q", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %q", path)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env.local then .env. Variables already set in the
// environment win, and missing files are skipped.
func LoadDotEnv() {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
}

func applyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		*dst = b
		return nil
	}
	integer := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		*dst = n
		return nil
	}

	str("GLEANER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	str("GLEANER_DATABASE_DRIVER", &cfg.Database.Driver)
	str("GLEANER_DATABASE_DSN", &cfg.Database.DSN)
	str("GLEANER_LOG_LEVEL", &cfg.Logging.Level)
	str("GLEANER_LOG_FORMAT", &cfg.Logging.Format)
	str("GLEANER_RETENTION_SCHEDULE", &cfg.Retention.Schedule)
	str("GLEANER_METRICS_PATH", &cfg.Metrics.Path)

	for key, dst := range map[string]*bool{
		"GLEANER_POLLING_ENABLED":       &cfg.Polling.Enabled,
		"GLEANER_RETENTION_AFTER_FETCH": &cfg.Retention.AfterFetch,
		"GLEANER_METRICS_ENABLED":       &cfg.Metrics.Enabled,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}
	return integer("GLEANER_POLLING_INTERVAL_MINUTES", &cfg.Polling.IntervalMinutes)
}
