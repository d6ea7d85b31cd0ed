// Package scheduler repeats a job on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work, typically a batch run.
type Job func(ctx context.Context) error

// Stats describes the runs so far.
type Stats struct {
	Runs       int
	Failures   int
	LastRunAt  time.Time
	NextRunAt  time.Time
	LastStatus string
}

// Scheduler runs a single job on a cron schedule. Runs never overlap: the
// next fire time is computed after the previous run returns.
type Scheduler struct {
	parser cron.Parser
	logger *slog.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	stats  Stats
}

// New creates a scheduler. Expressions use five fields or a descriptor such
// as @hourly or @every 30m.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: logger,
		now:    time.Now,
		after:  time.After,
	}
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Start validates the expression and launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context, cronExpr string, job Job) error {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(schedCtx, schedule, job, done)
	s.logger.Info("scheduler started", slog.String("schedule", cronExpr))
	return nil
}

// Run is Start followed by waiting for ctx to end.
func (s *Scheduler) Run(ctx context.Context, cronExpr string, job Job) error {
	if err := s.Start(ctx, cronExpr, job); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

func (s *Scheduler) loop(ctx context.Context, schedule cron.Schedule, job Job, done chan struct{}) {
	defer close(done)

	for {
		now := s.now()
		next := schedule.Next(now)
		s.mu.Lock()
		s.stats.NextRunAt = next
		s.mu.Unlock()
		s.logger.Debug("next scheduled run", slog.Time("at", next))

		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(now)):
		}
		s.runJob(ctx, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	start := s.now()
	s.logger.Info("running scheduled job")

	err := job(ctx)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled job failed", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.stats.Runs++
	if err != nil {
		s.stats.Failures++
	}
	s.stats.LastRunAt = start
	s.stats.LastStatus = status
	s.mu.Unlock()
}

// Stats returns a snapshot of the run counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Stop cancels the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	s.logger.Info("scheduler stopped")
	return nil
}
