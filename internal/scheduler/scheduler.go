// Package scheduler runs periodic maintenance for feedreel. Today that is
// pruning playback positions nobody has touched within the retention window.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes positions last updated before a cutoff.
// repository.PositionRepository satisfies it.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds configuration for the scheduler.
type Config struct {
	// Schedule is a six-field cron expression (seconds first).
	Schedule string
	// Retention is how long an untouched position is kept.
	Retention time.Duration
	// RunTimeout bounds a single prune run.
	RunTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Schedule:   "0 30 3 * * *",
		Retention:  30 * 24 * time.Hour,
		RunTimeout: time.Minute,
	}
}

// Scheduler manages maintenance jobs using cron expressions.
type Scheduler struct {
	mu sync.Mutex

	pruner Pruner
	config Config
	logger *slog.Logger
	now    func() time.Time

	// cron parser for validating/parsing cron expressions
	parser cron.Parser
	cron   *cron.Cron
	entry  cron.EntryID

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler.
func NewScheduler(pruner Pruner, config Config) *Scheduler {
	defaults := DefaultConfig()
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	return &Scheduler{
		pruner: pruner,
		config: config,
		logger: slog.Default(),
		now:    time.Now,
		parser: cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger.With(slog.String("component", "scheduler"))
	return s
}

// Start registers the prune job and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	schedule, err := s.parser.Parse(s.config.Schedule)
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", s.config.Schedule, err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(s.parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(func() {
		if _, err := s.RunPrune(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("position prune failed", slog.Any("error", err))
		}
	}))
	s.cron.Start()

	s.logger.Info("scheduler started",
		slog.String("prune_schedule", s.config.Schedule),
		slog.Duration("retention", s.config.Retention),
		slog.Time("next_run", s.cron.Entry(s.entry).Next))

	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel, s.ctx = nil, nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()

	s.logger.Info("scheduler stopped")
}

// RunPrune deletes positions older than the retention window and returns
// how many were removed.
func (s *Scheduler) RunPrune(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.config.Retention)
	removed, err := s.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning positions before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	s.logger.Info("pruned playback positions",
		slog.Int64("removed", removed),
		slog.Time("cutoff", cutoff))
	return removed, nil
}

// NextRun returns when the prune job runs next, or the zero time when the
// scheduler is not running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// ParseCron validates a cron expression and returns the next run time.
func (s *Scheduler) ParseCron(expr string) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(s.now()), nil
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}
