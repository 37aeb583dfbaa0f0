package reconciler

import (
	"context"
	"log/slog"

	"github.com/caseflow/caseflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const defaultSweepBatch = 200

// Sweeper periodically re-reconciles every open sub-process run. It is
// the safety net behind the change feed: a dropped queue entry delays
// completion by at most one sweep interval.
type Sweeper struct {
	cron       *cron.Cron
	reconciler *Reconciler
	runs       persistence.RunRepository
	logger     *slog.Logger
	batchSize  int
}

// NewSweeper creates a reconciliation sweeper.
func NewSweeper(reconciler *Reconciler, runs persistence.RunRepository, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cron:       cron.New(),
		reconciler: reconciler,
		runs:       runs,
		logger:     logger.With("module", "reconciler_sweeper"),
		batchSize:  defaultSweepBatch,
	}
}

// Start schedules the sweep on the given cron spec (e.g. "@every 1m")
// and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "reconciliation sweep scheduled", "spec", spec)

	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep runs one reconciliation pass over open sub-process runs.
func (s *Sweeper) Sweep(ctx context.Context) {
	runs, err := s.runs.ListOpenSubProcessRuns(ctx, s.batchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed to list open runs", "error", err)

		return
	}

	completed := 0

	for _, run := range runs {
		done, err := s.reconciler.ReconcileSubProcessRun(ctx, run.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "sweep reconciliation failed",
				"sub_process_run_id", run.ID, "error", err)

			continue
		}

		if done {
			completed++
		}
	}

	if len(runs) > 0 {
		s.logger.InfoContext(ctx, "sweep finished", "checked", len(runs), "completed", completed)
	}
}
