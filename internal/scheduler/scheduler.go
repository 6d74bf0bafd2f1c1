package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"liblend/pkg/domain"
	"liblend/pkg/store"
)

// Job is a named sweep with a cron pattern.
type Job struct {
	Name    string
	Pattern string
	Run     func(ctx context.Context) error
}

// Scheduler ticks registered jobs on their cron schedules. Each job's last
// successful run is persisted as a watermark; a run missed during downtime
// is replayed on the next tick because the watermark stays behind the
// schedule. A failed run leaves the watermark unadvanced so the same window
// is retried.
type Scheduler struct {
	store     store.Store
	clock     domain.Clock
	log       *slog.Logger
	tick      time.Duration
	jobs      []Job
	schedules map[string]cron.Schedule
}

// Config wires the scheduler.
type Config struct {
	Store store.Store
	Clock domain.Clock
	// Tick is how often schedules are checked. Defaults to 30s.
	Tick   time.Duration
	Jobs   []Job
	Logger *slog.Logger
}

// New parses every job's cron pattern and constructs the scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if len(cfg.Jobs) == 0 {
		return nil, fmt.Errorf("at least one job required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = 30 * time.Second
	}
	schedules := make(map[string]cron.Schedule, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		if job.Name == "" || job.Run == nil {
			return nil, fmt.Errorf("job name and run func required")
		}
		sched, err := cron.ParseStandard(job.Pattern)
		if err != nil {
			return nil, fmt.Errorf("parse pattern %q for job %s: %w", job.Pattern, job.Name, err)
		}
		schedules[job.Name] = sched
	}
	return &Scheduler{
		store:     cfg.Store,
		clock:     clock,
		log:       logger,
		tick:      tick,
		jobs:      cfg.Jobs,
		schedules: schedules,
	}, nil
}

// Start runs due jobs immediately (replaying anything missed while the
// process was down) and then checks schedules every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info("scheduler started", "jobs", len(s.jobs), "tick", s.tick)
	s.RunDue(ctx)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue executes every job whose next scheduled time, computed from its
// watermark, is not in the future. A job with no watermark runs immediately.
func (s *Scheduler) RunDue(ctx context.Context) {
	now := s.clock.Now()
	for _, job := range s.jobs {
		wm, ok, err := s.store.GetJobWatermark(ctx, job.Name)
		if err != nil {
			s.log.Error("read watermark", "job", job.Name, "err", err)
			continue
		}
		if ok {
			next := s.schedules[job.Name].Next(wm.LastRunAt)
			if next.After(now) {
				continue
			}
		}
		s.runJob(ctx, job, now)
	}
}

// RunAll executes every job immediately regardless of schedule. Used for
// manual and CI catch-up.
func (s *Scheduler) RunAll(ctx context.Context) error {
	now := s.clock.Now()
	var errs []error
	for _, job := range s.jobs {
		if err := s.runJob(ctx, job, now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}

// runJob executes one job and advances its watermark only on success.
func (s *Scheduler) runJob(ctx context.Context, job Job, now time.Time) error {
	s.log.Info("running job", "job", job.Name)
	if err := job.Run(ctx); err != nil {
		s.log.Error("job failed; watermark unchanged", "job", job.Name, "err", err)
		return err
	}
	if err := s.store.SetJobWatermark(ctx, job.Name, now); err != nil {
		s.log.Error("persist watermark", "job", job.Name, "err", err)
		return err
	}
	return nil
}
