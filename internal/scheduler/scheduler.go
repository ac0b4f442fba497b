package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kirjastokaveri/internal/model"
	"kirjastokaveri/internal/monitor"
)

// Runner is the job the scheduler triggers.
type Runner interface {
	Run(ctx context.Context, triggeredBy string) (*model.JobResult, error)
}

// Scheduler periodically triggers availability monitor runs.
type Scheduler struct {
	runner       Runner
	log          *slog.Logger
	tick         time.Duration
	initialDelay time.Duration
}

// New creates a Scheduler that runs every interval after initialDelay.
func New(runner Runner, interval, initialDelay time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Scheduler{
		runner:       runner,
		log:          log,
		tick:         interval,
		initialDelay: initialDelay,
	}
}

// SetTickInterval overrides the run interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("availability scheduler started", "interval", s.tick, "initial_delay", s.initialDelay)
	defer s.log.Info("availability scheduler stopped")

	if s.initialDelay > 0 {
		timer := time.NewTimer(s.initialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	s.trigger(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.runner.Run(ctx, "scheduler")
	switch {
	case err == nil:
	case errors.Is(err, monitor.ErrAlreadyRunning):
		s.log.Info("skipping scheduled run, previous run still in progress")
	default:
		s.log.Error("scheduled availability run", "error", err)
	}
}
