package retention

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bryan-buckman/gleaner/internal/model"
)

// Config is the effective retention configuration of one feed.
type Config struct {
	AgeEnabled        bool `json:"age_enabled" yaml:"age_enabled"`
	AgeDays           int  `json:"age_days" yaml:"age_days"`
	CountEnabled      bool `json:"count_enabled" yaml:"count_enabled"`
	CountMax          int  `json:"count_max" yaml:"count_max"`
	DeleteReadEnabled bool `json:"delete_read_enabled" yaml:"delete_read_enabled"`
	ProtectUnread     bool `json:"protect_unread" yaml:"protect_unread"`
	ProtectLabeled    bool `json:"protect_labeled" yaml:"protect_labeled"`
}

// A non-positive threshold disables its criterion.
func (c Config) ageActive() bool   { return c.AgeEnabled && c.AgeDays > 0 }
func (c Config) countActive() bool { return c.CountEnabled && c.CountMax > 0 }
func (c Config) readActive() bool  { return c.DeleteReadEnabled }

// Values renders the config as preference key/value pairs.
func (c Config) Values() map[string]string {
	return map[string]string{
		model.PrefAgeEnabled:     strconv.FormatBool(c.AgeEnabled),
		model.PrefAgeDays:        strconv.Itoa(c.AgeDays),
		model.PrefCountEnabled:   strconv.FormatBool(c.CountEnabled),
		model.PrefCountMax:       strconv.Itoa(c.CountMax),
		model.PrefReadEnabled:    strconv.FormatBool(c.DeleteReadEnabled),
		model.PrefProtectUnread:  strconv.FormatBool(c.ProtectUnread),
		model.PrefProtectLabeled: strconv.FormatBool(c.ProtectLabeled),
	}
}

// Preferences reads raw preference values. ok is false when the scope holds
// no value for key.
type Preferences interface {
	Preference(ctx context.Context, scope model.Scope, key string) (value string, ok bool, err error)
}

// Resolver computes a feed's effective Config: the feed scope wins, the
// global scope fills the gaps, missing keys stay at their zero value.
type Resolver struct {
	prefs  Preferences
	logger *logrus.Entry
}

// NewResolver creates a resolver over prefs. logger may be nil.
func NewResolver(prefs Preferences, logger *logrus.Entry) *Resolver {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Resolver{prefs: prefs, logger: logger.WithField("component", "retention.resolver")}
}

// Resolve returns the effective config of feedID. Pass zero to read the
// global scope alone.
func (r *Resolver) Resolve(ctx context.Context, feedID int64) (Config, error) {
	var (
		cfg Config
		err error
	)
	scope := model.FeedScope(feedID)
	if cfg.AgeEnabled, err = r.boolean(ctx, scope, model.PrefAgeEnabled); err != nil {
		return cfg, err
	}
	if cfg.AgeDays, err = r.integer(ctx, scope, model.PrefAgeDays); err != nil {
		return cfg, err
	}
	if cfg.CountEnabled, err = r.boolean(ctx, scope, model.PrefCountEnabled); err != nil {
		return cfg, err
	}
	if cfg.CountMax, err = r.integer(ctx, scope, model.PrefCountMax); err != nil {
		return cfg, err
	}
	if cfg.DeleteReadEnabled, err = r.boolean(ctx, scope, model.PrefReadEnabled); err != nil {
		return cfg, err
	}
	if cfg.ProtectUnread, err = r.boolean(ctx, scope, model.PrefProtectUnread); err != nil {
		return cfg, err
	}
	if cfg.ProtectLabeled, err = r.boolean(ctx, scope, model.PrefProtectLabeled); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (r *Resolver) boolean(ctx context.Context, scope model.Scope, key string) (bool, error) {
	var v bool
	err := r.lookup(ctx, scope, key, func(raw string) (err error) {
		v, err = strconv.ParseBool(raw)
		return err
	})
	return v, err
}

func (r *Resolver) integer(ctx context.Context, scope model.Scope, key string) (int, error) {
	var v int
	err := r.lookup(ctx, scope, key, func(raw string) (err error) {
		v, err = strconv.Atoi(raw)
		return err
	})
	return v, err
}

// lookup feeds the value of key to parse, trying scope first and the global
// scope second. A value parse rejects is logged and treated as absent.
func (r *Resolver) lookup(ctx context.Context, scope model.Scope, key string, parse func(string) error) error {
	scopes := []model.Scope{model.GlobalScope}
	if !scope.IsGlobal() {
		scopes = []model.Scope{scope, model.GlobalScope}
	}
	for _, sc := range scopes {
		raw, ok, err := r.prefs.Preference(ctx, sc, key)
		if err != nil {
			return errors.Wrapf(err, "read %s from %s", key, sc)
		}
		if !ok {
			continue
		}
		if err := parse(raw); err != nil {
			r.logger.WithFields(logrus.Fields{"scope": sc.String(), "key": key, "value": raw}).
				Warn("ignoring malformed preference")
			continue
		}
		return nil
	}
	return nil
}
