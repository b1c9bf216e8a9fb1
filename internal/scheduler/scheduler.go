// Package scheduler runs CartPipe's periodic work on a cron schedule.
//
// Jobs receive a context that is cancelled by Stop, panics are recovered and
// logged, and a job that is still running when its next tick fires is skipped.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is the work run on each tick.
type Task func(ctx context.Context)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// slogLogger adapts slog to cron.Logger.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("Scheduler: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("Scheduler: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

// NewScheduler creates a stopped scheduler. Expressions use the standard
// 5-field format (min, hour, dom, month, dow) or descriptors like "@every 5m".
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := slogLogger{}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		// Recover must sit inside SkipIfStillRunning so a panic still releases the run guard.
		cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: c, ctx: ctx, cancel: cancel}
}

// Every returns the descriptor for a fixed interval, e.g. "@every 5m0s".
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// AddJob schedules task under expr. name only labels log lines.
func (s *Scheduler) AddJob(name, expr string, task Task) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(expr, func() {
		start := time.Now()
		slog.Debug("Scheduler: running job", "job", name)
		task(s.ctx)
		slog.Debug("Scheduler: job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %s with %q: %w", name, expr, err)
	}
	slog.Info("Scheduler: job scheduled", "job", name, "schedule", expr)
	return id, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling, cancels the context handed to running jobs and
// waits for them to finish.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
}
