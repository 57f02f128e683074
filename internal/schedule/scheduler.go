// Package schedule runs the daemon's recurring jobs (digest delivery,
// season rollover checks) on standard 5-field cron expressions.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the scheduler.
type Config struct {
	Logger   *slog.Logger
	Interval time.Duration    // tick interval; defaults to 30 seconds if zero
	Now      func() time.Time // clock; defaults to time.Now
}

type job struct {
	name     string
	expr     string
	run      func(ctx context.Context) error
	schedule cronlib.Schedule
	next     time.Time
	lastRun  time.Time
	lastErr  string
}

// JobStatus is a read-only view of one registered job.
type JobStatus struct {
	Name      string    `json:"name"`
	Expr      string    `json:"expr"`
	NextRun   time.Time `json:"next_run"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler ticks at a fixed interval and fires every job whose next run
// time has passed. A job fires at most once per tick even when several
// cron boundaries were missed while the process was down.
type Scheduler struct {
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	jobs []*job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		logger:   logger,
		interval: interval,
		now:      now,
	}
}

// Add registers a job. The expression is validated here so a bad config
// fails at startup, not at the first boundary.
func (s *Scheduler) Add(name, expr string, run func(ctx context.Context) error) error {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("job %q cron %q: %w", name, expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &job{
		name:     name,
		expr:     expr,
		run:      run,
		schedule: sched,
		next:     sched.Next(s.now()),
	})
	return nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "interval", s.interval, "jobs", len(s.Jobs()))
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Jobs reports every registered job with its run bookkeeping.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{
			Name:      j.name,
			Expr:      j.expr,
			NextRun:   j.next,
			LastRun:   j.lastRun,
			LastError: j.lastErr,
		})
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, j := range s.due(now) {
		s.fire(ctx, j, now)
	}
}

func (s *Scheduler) due(now time.Time) []*job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*job
	for _, j := range s.jobs {
		if !j.next.After(now) {
			due = append(due, j)
		}
	}
	return due
}

// fire runs one job and advances its next run time. A failing job is
// logged and rescheduled, never retried within the same boundary.
func (s *Scheduler) fire(ctx context.Context, j *job, now time.Time) {
	err := j.run(ctx)

	s.mu.Lock()
	j.lastRun = now
	j.next = j.schedule.Next(now)
	if err != nil {
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	next := j.next
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled job failed",
			"job", j.name,
			"error", err,
			"next_run", next,
		)
		return
	}
	s.logger.Info("scheduled job fired",
		"job", j.name,
		"next_run", next,
	)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
