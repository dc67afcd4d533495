// Package cronjobs schedules the relay's periodic housekeeping.
package cronjobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/johan/oddsrelay/internal/logging"
	"github.com/johan/oddsrelay/internal/types"
)

// Runner wraps a seconds-precision cron scheduler whose jobs share a base
// context.
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

// New creates a stopped runner.
func New(baseCtx context.Context, logger *zap.Logger) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds()),
		logger:  logging.OrNop(logger),
		baseCtx: baseCtx,
	}
}

// Add schedules job under spec. An empty spec disables the job. A panicking
// job is logged and does not stop the scheduler.
func (r *Runner) Add(name, spec string, job func(context.Context)) error {
	if spec == "" {
		r.logger.Debug("cron job disabled", zap.String("job", name))
		return nil
	}

	_, err := r.cron.AddFunc(spec, func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("cron job panicked", zap.String("job", name), zap.Any("panic", p))
			}
		}()
		if r.baseCtx.Err() != nil {
			return
		}
		job(r.baseCtx)
	})
	if err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", name, spec, err)
	}
	r.logger.Info("cron job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Len returns the number of scheduled jobs.
func (r *Runner) Len() int {
	return len(r.cron.Entries())
}

// Start runs the scheduler in its own goroutine.
func (r *Runner) Start() {
	r.logger.Info("cron started")
	r.cron.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}

// SnapshotSaver persists the full event set.
type SnapshotSaver interface {
	Save(ctx context.Context, events []types.Event) error
}

// SaveSnapshot returns a job that writes the current events to saver.
func SaveSnapshot(events func() []types.Event, saver SnapshotSaver, timeout time.Duration, logger *zap.Logger) func(context.Context) {
	logger = logging.OrNop(logger)
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(ctx context.Context) {
		evs := events()
		if len(evs) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := saver.Save(ctx, evs); err != nil {
			logger.Warn("saving snapshot failed", zap.Error(err))
			return
		}
		logger.Debug("snapshot saved", zap.Int("events", len(evs)))
	}
}

// StatusLogger is anything that can summarize itself to the log.
type StatusLogger interface {
	LogStatus()
}

// LogStatus returns a job that calls s.LogStatus.
func LogStatus(s StatusLogger) func(context.Context) {
	return func(context.Context) {
		s.LogStatus()
	}
}
