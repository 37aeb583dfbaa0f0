package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/caseflow/caseflow/pkg/eventbus"
	"github.com/caseflow/caseflow/pkg/events"
	"github.com/caseflow/caseflow/pkg/gate"
	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
)

// CompletionReconciler reacts to a task reaching a complete status.
type CompletionReconciler interface {
	ReconcileSubProcessRun(ctx context.Context, subProcessRunID string) (bool, error)
}

// CompletionEnqueuer schedules reconciliation through the change feed
// instead of running it inline.
type CompletionEnqueuer interface {
	Enqueue(ctx context.Context, subProcessRunID string) error
}

// TaskService applies user-driven task status changes: the transition
// table, the status-change notices and the completion hand-off to the
// reconciler.
type TaskService struct {
	store      persistence.Persistence
	reconciler CompletionReconciler
	queue      CompletionEnqueuer
	emitter    *eventbus.Emitter
	logger     *slog.Logger
}

// NewTaskService creates a task service. queue may be nil, in which case
// completion reconciliation runs inline.
func NewTaskService(
	store persistence.Persistence,
	completionReconciler CompletionReconciler,
	queue CompletionEnqueuer,
	emitter *eventbus.Emitter,
	logger *slog.Logger,
) *TaskService {
	return &TaskService{
		store:      store,
		reconciler: completionReconciler,
		queue:      queue,
		emitter:    emitter,
		logger:     logger.With("module", "task_service"),
	}
}

// gateOnly reports whether a status is only reachable through the
// validation gate.
func gateOnly(status models.TaskStatus) bool {
	switch status {
	case models.TaskStatusPendingValidation1, models.TaskStatusPendingValidation2,
		models.TaskStatusValidated, models.TaskStatusRefused:
		return true
	}

	return false
}

// ChangeStatus moves one task along the transition table. Validation
// statuses are rejected here; they are written by the gate alone.
func (s *TaskService) ChangeStatus(ctx context.Context, taskID string, next models.TaskStatus, actorID string) (*models.Task, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, next)
	}

	if gateOnly(next) {
		return nil, fmt.Errorf("%w: %s", ErrGateRequired, next)
	}

	task, err := s.store.TaskRepository().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.IsLockedForValidation {
		return nil, gate.ErrTaskLocked
	}

	if !models.CanTransition(task.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, task.Status, next)
	}

	previous := task.Status
	task.Status = next

	if err := s.store.TaskRepository().SaveTransition(ctx, task, previous); err != nil {
		return nil, err
	}

	s.notifyStatusChange(ctx, task, previous, next, actorID)

	if next.Complete() {
		s.scheduleReconciliation(ctx, task.ParentSubProcessRunID)
	}

	return task, nil
}

// BulkChangeStatus applies the same transition to many tasks, chunked at
// BatchChunkSize per storage call. Chunks already applied stay applied
// when a later chunk fails; the caller gets the counts.
func (s *TaskService) BulkChangeStatus(ctx context.Context, taskIDs []string, expected, next models.TaskStatus, actorID string) (int, error) {
	if !next.Valid() {
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, next)
	}

	if gateOnly(next) {
		return 0, fmt.Errorf("%w: %s", ErrGateRequired, next)
	}

	if !models.CanTransition(expected, next) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, expected, next)
	}

	var (
		succeeded   int
		failed      int
		chunkErrors []error
	)

	for start := 0; start < len(taskIDs); start += BatchChunkSize {
		end := start + BatchChunkSize
		if end > len(taskIDs) {
			end = len(taskIDs)
		}

		chunk := taskIDs[start:end]

		affected, err := s.store.TaskRepository().UpdateStatusMany(ctx, chunk, expected, next)
		if err != nil {
			failed += len(chunk)
			chunkErrors = append(chunkErrors, fmt.Errorf("chunk [%d:%d]: %w", start, end, err))

			continue
		}

		succeeded += int(affected)
		failed += len(chunk) - int(affected)
	}

	s.logger.InfoContext(ctx, "bulk status change applied",
		"from", expected, "to", next, "actor_id", actorID,
		"succeeded", succeeded, "failed", failed)

	if next.Complete() {
		s.scheduleBulkReconciliation(ctx, taskIDs)
	}

	if failed > 0 {
		return succeeded, &PartialBatchError{Succeeded: succeeded, Failed: failed, ChunkErrors: chunkErrors}
	}

	return succeeded, nil
}

// notifyStatusChange emits the standing status-change subscription when
// the sub-process template opted in. The flag is read at emit time, not
// snapshotted on the task.
func (s *TaskService) notifyStatusChange(ctx context.Context, task *models.Task, previous, next models.TaskStatus, actorID string) {
	if task.ParentSubProcessRunID == "" {
		return
	}

	run, err := s.store.RunRepository().SubProcessRunByID(ctx, task.ParentSubProcessRunID)
	if err != nil {
		s.logger.WarnContext(ctx, "status-change notice skipped, run lookup failed",
			"task_id", task.ID, "sub_process_run_id", task.ParentSubProcessRunID, "error", err)

		return
	}

	tpl, err := s.store.TemplateRepository().SubProcessTemplateByID(ctx, run.SubProcessTemplateID)
	if err != nil {
		s.logger.WarnContext(ctx, "status-change notice skipped, template lookup failed",
			"task_id", task.ID, "sub_process_template_id", run.SubProcessTemplateID, "error", err)

		return
	}

	if !tpl.NotifyOnStatusChange {
		return
	}

	event := events.TaskStatusChanged{
		BaseEvent:      events.NewBaseEvent(events.TaskStatusChangedEvent, events.EntityTypeTask, task.ID).WithWorkflowRun(task.WorkflowRunID),
		PreviousStatus: previous,
		NewStatus:      next,
		ChangedBy:      actorID,
	}
	s.emitter.Emit(ctx, task.ID, event)
}

// scheduleReconciliation prefers the change feed and falls back to an
// inline pass when the queue is absent or unreachable. The periodic sweep
// covers anything dropped here.
func (s *TaskService) scheduleReconciliation(ctx context.Context, subProcessRunID string) {
	if subProcessRunID == "" {
		return
	}

	if s.queue != nil {
		err := s.queue.Enqueue(ctx, subProcessRunID)
		if err == nil {
			return
		}

		s.logger.WarnContext(ctx, "reconciliation enqueue failed, running inline",
			"sub_process_run_id", subProcessRunID, "error", err)
	}

	if _, err := s.reconciler.ReconcileSubProcessRun(ctx, subProcessRunID); err != nil {
		s.logger.ErrorContext(ctx, "inline reconciliation failed",
			"sub_process_run_id", subProcessRunID, "error", err)
	}
}

// scheduleBulkReconciliation schedules each distinct sub-process run
// touched by a bulk update. Lookup failures are logged and left to the
// sweep.
func (s *TaskService) scheduleBulkReconciliation(ctx context.Context, taskIDs []string) {
	seen := make(map[string]struct{})

	for _, taskID := range taskIDs {
		task, err := s.store.TaskRepository().GetByID(ctx, taskID)
		if err != nil {
			s.logger.WarnContext(ctx, "bulk reconciliation lookup failed",
				"task_id", taskID, "error", err)

			continue
		}

		if task.ParentSubProcessRunID == "" {
			continue
		}

		if _, ok := seen[task.ParentSubProcessRunID]; ok {
			continue
		}

		seen[task.ParentSubProcessRunID] = struct{}{}
		s.scheduleReconciliation(ctx, task.ParentSubProcessRunID)
	}
}
