// Package scheduler drives pipeline runs on fixed intervals with a
// single-flight guarantee per pipeline.
//
// Each registered job fires every FREQUENCY hours from process start, plus
// once immediately at startup. Triggers that arrive while a run is still in
// flight are dropped, not queued. Multiple jobs run concurrently with each
// other; a failed run is logged and the next periodic fire proceeds
// normally, with no backoff or in-interval retry.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// Job is one schedulable unit of work. Implementations must be cooperative
// about cancellation: the context is cancelled on shutdown.
type Job func(ctx context.Context) error

// Scheduler owns a cron runner and the lifecycle context handed to jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *log.Logger

	mu      sync.Mutex
	entries []entry
}

type entry struct {
	name string
	job  cron.Job
}

// New creates an idle scheduler. Jobs are registered with Add and begin
// firing when Run is called.
func New(logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		logger: logger,
	}
}

// Add registers a named job to fire every interval. The job is wrapped in a
// skip-if-still-running chain, which is what enforces single-flight: an
// overlapping fire is skipped outright rather than queued.
func (s *Scheduler) Add(ctx context.Context, name string, every time.Duration, job Job) error {
	wrapped := cron.NewChain(
		cron.SkipIfStillRunning(cronLogger{logger: s.logger.With("job", name)}),
	).Then(cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		s.logger.Info("job starting", "job", name)
		if err := job(ctx); err != nil {
			s.logger.Error("job failed", "job", name, "err", err)
			return
		}
		s.logger.Info("job finished", "job", name)
	}))

	if every <= 0 {
		return fmt.Errorf("scheduling %s: interval must be positive, got %s", name, every)
	}
	// cron's "@every" spec rounds intervals up to whole seconds; a fixed
	// delay schedule keeps the interval as given
	s.cron.Schedule(fixedDelay(every), wrapped)

	s.mu.Lock()
	s.entries = append(s.entries, entry{name: name, job: wrapped})
	s.mu.Unlock()

	s.logger.Info("scheduled job", "job", name, "every", every)
	return nil
}

// Run fires every job once immediately, starts the periodic schedule, and
// blocks until ctx is cancelled. On cancellation it stops scheduling new
// fires and waits for in-flight runs to return (jobs observe the same ctx
// and exit cooperatively).
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	startup := make([]entry, len(s.entries))
	copy(startup, s.entries)
	s.mu.Unlock()

	// immediate startup fire goes through the same single-flight wrapper as
	// periodic fires, so an early cron tick cannot overlap it
	var wg sync.WaitGroup
	for _, e := range startup {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			e.job.Run()
		}(e)
	}

	s.cron.Start()
	<-ctx.Done()

	s.logger.Info("shutting down scheduler")
	stopCtx := s.cron.Stop()
	wg.Wait()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

// fixedDelay is a cron.Schedule that fires a constant interval after each
// activation.
type fixedDelay time.Duration

func (d fixedDelay) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

// cronLogger adapts charmbracelet/log to cron's logger interface.
type cronLogger struct {
	logger *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error(msg, append(keysAndValues, "err", err)...)
}
