// Package scheduler wires up the cron job that periodically runs the full
// pipeline: scrape, ingest, enrich and analyze.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"jobmate/pipeline-service/internal/pipeline"
)

// Runner runs one pipeline pass.
type Runner interface {
	Run(ctx context.Context) (pipeline.RunReport, error)
}

// Scheduler wraps robfig/cron and manages the pipeline loop.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	spec   string // cron spec, e.g. "@every 6h"
	logger *slog.Logger
}

// New creates a Scheduler that fires every intervalHours hours. A tick
// that arrives while the previous run is still going is skipped.
func New(runner Runner, intervalHours int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner: runner,
		spec:   fmt.Sprintf("@every %dh", intervalHours),
		logger: logger,
	}
}

// Start registers the job and starts the scheduler. Also runs one pass
// immediately so the board is populated without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.logger.Info("cron started", "spec", s.spec)

	go s.RunOnce(ctx)
	return nil
}

// Stop halts the scheduler and waits for a running pass to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cron stopped")
}

// RunOnce runs one pipeline pass and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	rep, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.logger.Info("pipeline run skipped, previous run still going")
	case err != nil:
		s.logger.Error("pipeline run failed", "run_id", rep.RunID, "err", err)
	default:
		s.logger.Info("pipeline cycle complete", "run_id", rep.RunID,
			"inserted", rep.Ingest.Inserted, "scored", rep.Analyze.Scored)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug("cron: "+msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "err", err)...)
}
