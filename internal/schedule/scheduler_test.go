package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock returns a time advanced by step on every call, so each tick
// crosses another cron boundary without real waiting.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerFiresDueJobs(t *testing.T) {
	clock := &fakeClock{
		t:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		step: time.Minute,
	}
	s := NewScheduler(Config{
		Logger:   quietLogger(),
		Interval: 20 * time.Millisecond,
		Now:      clock.Now,
	})

	var fired atomic.Int64
	if err := s.Add("digest", "* * * * *", func(context.Context) error {
		fired.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 3*time.Second, func() bool { return fired.Load() >= 2 })
}

func TestSchedulerSkipsJobsNotYetDue(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	s := NewScheduler(Config{
		Logger:   quietLogger(),
		Interval: 20 * time.Millisecond,
		Now:      clock.Now,
	})

	var fired atomic.Int64
	if err := s.Add("digest", "* * * * *", func(context.Context) error {
		fired.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if got := fired.Load(); got != 0 {
		t.Fatalf("frozen clock must never reach the boundary, fired %d times", got)
	}
}

func TestSchedulerReschedulesAfterJobError(t *testing.T) {
	clock := &fakeClock{
		t:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		step: time.Minute,
	}
	s := NewScheduler(Config{
		Logger:   quietLogger(),
		Interval: 20 * time.Millisecond,
		Now:      clock.Now,
	})

	var calls atomic.Int64
	if err := s.Add("season-check", "* * * * *", func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("backend unavailable")
		}
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 3*time.Second, func() bool {
		if calls.Load() < 2 {
			return false
		}
		jobs := s.Jobs()
		return len(jobs) == 1 && jobs[0].LastError == ""
	})
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	s := NewScheduler(Config{Logger: quietLogger()})
	if err := s.Add("broken", "not a cron", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestJobsReportsNextRun(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: base}
	s := NewScheduler(Config{Logger: quietLogger(), Now: clock.Now})

	if err := s.Add("digest", "0 8 * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("add: %v", err)
	}

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	want := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if !jobs[0].NextRun.Equal(want) {
		t.Fatalf("next run = %v, want %v", jobs[0].NextRun, want)
	}
}

func TestNextRunTimeAlignsToBoundary(t *testing.T) {
	after := time.Date(2026, 3, 1, 8, 3, 0, 0, time.UTC)
	next, err := NextRunTime("*/10 * * * *", after)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	want := time.Date(2026, 3, 1, 8, 10, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	if _, err := NextRunTime("bogus", after); err == nil {
		t.Fatal("expected parse error")
	}
}
