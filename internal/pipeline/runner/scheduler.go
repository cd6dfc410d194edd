package runner

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
)

type PipelineRunner interface {
	Run(ctx context.Context) (*RunReport, error)
}

// Scheduler triggers a run every interval. A run still in progress, here or
// in another process, makes the tick a no-op.
type Scheduler struct {
	runner     PipelineRunner
	interval   time.Duration
	runOnStart bool
	logger     logger.Logger
}

func NewScheduler(runner PipelineRunner, interval time.Duration, runOnStart bool, log logger.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     log.WithFields(map[string]interface{}{"component": "scheduler"}),
	}
}

// Start launches the loop and returns a stop function that waits for the
// current run to finish. A non-positive interval disables the loop.
func (s *Scheduler) Start(parent context.Context) func() {
	if s.interval <= 0 {
		s.logger.Info("scheduler disabled", nil)
		return func() {}
	}

	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("scheduler started", map[string]interface{}{"interval": s.interval.String()})
		if s.runOnStart {
			s.runOnce(ctx)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
		s.logger.Info("scheduler stopped", nil)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	_, err := s.runner.Run(ctx)
	switch {
	case err == nil:
	case stderrors.Is(err, errors.ErrRunInProgress):
		s.logger.Debug("tick skipped, run in progress", nil)
	default:
		// the runner already logged the report; the next tick retries
		s.logger.Warn("scheduled run failed", map[string]interface{}{"error": err.Error()})
	}
}
