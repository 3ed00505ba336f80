package retention

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs ProcessAll on a cron schedule.
type Scheduler struct {
	engine   *Engine
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *logrus.Entry
	running  bool

	// OnSummary, when set, receives the summary of every scheduled run.
	OnSummary func(*Summary)
}

// NewScheduler creates a scheduler for engine. An empty schedule disables it.
func NewScheduler(engine *Engine, schedule string) *Scheduler {
	return &Scheduler{
		engine:   engine,
		schedule: schedule,
		cron:     cron.New(),
		logger:   engine.logger.WithField("component", "retention.scheduler"),
	}
}

// Start registers the cron job and starts the scheduler. The scheduler stops
// when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("retention schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return errors.Wrapf(err, "invalid cron schedule %q", s.schedule)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return errors.Wrap(err, "schedule retention")
	}

	s.cron.Start()
	s.running = true
	s.logger.WithField("schedule", s.schedule).Info("retention scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce runs retention over the whole tree and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.logger.Info("starting scheduled retention run")
	summary, err := s.engine.ProcessAll(ctx)
	if err != nil {
		s.logger.WithError(err).Error("scheduled retention run failed")
	}
	if summary == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"feeds":  summary.Feeds,
		"hidden": summary.Hidden,
	}).Info("scheduled retention run completed")
	if s.OnSummary != nil {
		s.OnSummary(summary)
	}
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled run, or nil when nothing is scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
