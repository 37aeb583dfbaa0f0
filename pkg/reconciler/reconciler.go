// Package reconciler detects completion: a sub-process run is completed
// exactly when every one of its tasks is done or validated, and a request
// is completed when all of its branch runs are. The predicates are pure
// over current state, so re-running a reconciliation any number of times
// is safe; exactly-once closure events are guarded by conditional status
// flips, not by the caller.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseflow/caseflow/pkg/eventbus"
	"github.com/caseflow/caseflow/pkg/events"
	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
)

// Reconciler flips sub-process runs, workflow runs and requests to
// completed when their completion predicates hold.
type Reconciler struct {
	runs     persistence.RunRepository
	tasks    persistence.TaskRepository
	requests persistence.RequestRepository
	emitter  *eventbus.Emitter
	logger   *slog.Logger
}

// NewReconciler creates a completion reconciler.
func NewReconciler(store persistence.Persistence, emitter *eventbus.Emitter, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		runs:     store.RunRepository(),
		tasks:    store.TaskRepository(),
		requests: store.RequestRepository(),
		emitter:  emitter,
		logger:   logger.With("module", "reconciler"),
	}
}

// Completed reports whether a task status multiset satisfies the
// sub-process completion predicate.
func Completed(statuses []models.TaskStatus) bool {
	for _, status := range statuses {
		if !status.Complete() {
			return false
		}
	}

	return true
}

// ReconcileSubProcessRun re-evaluates one run and flips it to completed
// when every task is done or validated. It returns whether the run is
// completed after the call.
func (r *Reconciler) ReconcileSubProcessRun(ctx context.Context, runID string) (bool, error) {
	run, err := r.runs.SubProcessRunByID(ctx, runID)
	if err != nil {
		return false, err
	}

	if run.Status == models.SubProcessRunStatusCompleted {
		return true, nil
	}

	if run.Status != models.SubProcessRunStatusRunning {
		return false, nil
	}

	tasks, err := r.tasks.TasksForSubProcessRun(ctx, runID)
	if err != nil {
		return false, err
	}

	statuses := make([]models.TaskStatus, 0, len(tasks))
	for _, task := range tasks {
		statuses = append(statuses, task.Status)
	}

	if !Completed(statuses) {
		return false, nil
	}

	now := time.Now().UTC()

	err = r.runs.UpdateSubProcessRunStatus(ctx, runID,
		models.SubProcessRunStatusRunning, models.SubProcessRunStatusCompleted, &now)
	if err != nil {
		if persistence.IsConflict(err) {
			// Another reconciler flipped it first; the closure event is theirs.
			return true, nil
		}

		return false, err
	}

	r.logger.InfoContext(ctx, "sub-process run completed",
		"sub_process_run_id", runID, "request_id", run.RequestID, "task_count", len(tasks))

	if run.NotifyOnClose {
		completed := events.SubProcessCompleted{
			BaseEvent:       events.NewBaseEvent(events.SubProcessCompletedEvent, events.EntityTypeRequest, run.RequestID).WithWorkflowRun(run.WorkflowRunID),
			SubProcessRunID: run.ID,
			SubProcessName:  run.Name,
		}
		r.emitter.Emit(ctx, run.RequestID, completed)
	}

	if _, err := r.ReconcileRequest(ctx, run.RequestID); err != nil {
		return true, fmt.Errorf("sub-process run completed but request reconciliation failed: %w", err)
	}

	return true, nil
}

// ReconcileRequest checks the join condition: every branch run of the
// request completed. The request-level closure fires exactly once because
// the workflow run's running to completed flip is conditional.
func (r *Reconciler) ReconcileRequest(ctx context.Context, requestID string) (bool, error) {
	runs, err := r.runs.SubProcessRunsForRequest(ctx, requestID)
	if err != nil {
		return false, err
	}

	if len(runs) == 0 {
		return false, nil
	}

	for _, run := range runs {
		if run.Status != models.SubProcessRunStatusCompleted {
			return false, nil
		}
	}

	request, err := r.requests.GetByID(ctx, requestID)
	if err != nil {
		return false, err
	}

	if request.WorkflowRunID == "" {
		return false, nil
	}

	workflowRun, err := r.runs.WorkflowRunByID(ctx, request.WorkflowRunID)
	if err != nil {
		return false, err
	}

	if workflowRun.Status == models.WorkflowRunStatusCompleted {
		return true, nil
	}

	now := time.Now().UTC()

	err = r.runs.UpdateWorkflowRunStatus(ctx, workflowRun.ID,
		models.WorkflowRunStatusRunning, models.WorkflowRunStatusCompleted, &now)
	if err != nil {
		if persistence.IsConflict(err) {
			return true, nil
		}

		return false, err
	}

	if err := r.requests.UpdateStatus(ctx, requestID, models.RequestStatusInProgress, models.RequestStatusCompleted); err != nil {
		// The request row may already be terminal; the workflow run flip
		// above remains the source of truth for the closure event.
		r.logger.WarnContext(ctx, "request status flip lost", "request_id", requestID, "error", err)
	}

	r.logger.InfoContext(ctx, "request completed",
		"request_id", requestID, "workflow_run_id", workflowRun.ID, "branches", len(runs))

	requestCompleted := events.RequestCompleted{
		BaseEvent:          events.NewBaseEvent(events.RequestCompletedEvent, events.EntityTypeRequest, requestID).WithWorkflowRun(workflowRun.ID),
		RequesterID:        request.RequesterID,
		SubProcessRunCount: len(runs),
	}
	r.emitter.Emit(ctx, requestID, requestCompleted)

	runCompleted := events.WorkflowRunCompleted{
		BaseEvent:          events.NewBaseEvent(events.WorkflowRunCompletedEvent, events.EntityTypeRequest, requestID).WithWorkflowRun(workflowRun.ID),
		WorkflowTemplateID: workflowRun.WorkflowTemplateID,
		DurationMs:         now.Sub(workflowRun.StartedAt).Milliseconds(),
	}
	r.emitter.Emit(ctx, requestID, runCompleted)

	return true, nil
}
