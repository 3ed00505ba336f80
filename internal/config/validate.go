package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// FieldError is a validation failure of one field.
type FieldError struct {
	// Field is the dotted path of the field, e.g. "database.driver".
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every field error of a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid configuration: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid configuration (%d errors):", len(e.Errors))
	for _, fe := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(fe.Error())
	}
	return sb.String()
}

// Validate checks cfg and returns a ValidationError listing every problem.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Server.ListenAddress == "" {
		add("server.listen_address", "must not be empty")
	}

	switch cfg.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		add("database.driver", "must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		add("database.dsn", "must not be empty")
	}

	if _, err := logrus.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level", "unknown level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		add("logging.format", "must be \"text\" or \"json\", got %q", cfg.Logging.Format)
	}

	if cfg.Polling.IntervalMinutes < MinIntervalMinutes {
		add("polling.interval_minutes", "must be at least %d, got %d", MinIntervalMinutes, cfg.Polling.IntervalMinutes)
	}

	if cfg.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			add("retention.schedule", "invalid cron expression: %v", err)
		}
	}
	if cfg.Retention.Defaults.AgeDays < 0 {
		add("retention.defaults.age_days", "must not be negative")
	}
	if cfg.Retention.Defaults.CountMax < 0 {
		add("retention.defaults.count_max", "must not be negative")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path", "must start with /, got %q", cfg.Metrics.Path)
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
