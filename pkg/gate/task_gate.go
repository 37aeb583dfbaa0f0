// Package gate enforces the 0/1/2-level approval sub-state-machine on
// tasks and requests. Every transition is a conditional update keyed by
// the expected prior status; a lost race surfaces as a conflict, never as
// a silent retry.
package gate

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

// TaskGate drives task-level validation: submission, approval and refusal.
type TaskGate struct {
	tasks    persistence.TaskRepository
	resolver *Resolver
	emitter  *eventbus.Emitter
	logger   *slog.Logger
}

// NewTaskGate creates a task validation gate.
func NewTaskGate(tasks persistence.TaskRepository, resolver *Resolver, emitter *eventbus.Emitter, logger *slog.Logger) *TaskGate {
	return &TaskGate{
		tasks:    tasks,
		resolver: resolver,
		emitter:  emitter,
		logger:   logger.With("module", "task_gate"),
	}
}

// SubmitForValidation moves a done task into the approval pipeline. Only
// the assignee may submit, and only while the task is not already locked.
func (g *TaskGate) SubmitForValidation(ctx context.Context, taskID, actorID string) (*models.Task, error) {
	task, err := g.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !task.RequiresValidation() {
		return nil, fmt.Errorf("task %s: %w: no validation configured", taskID, ErrInvalidTransition)
	}

	if actorID != task.AssigneeID {
		return nil, fmt.Errorf("task %s: %w: only the assignee may submit", taskID, ErrUnauthorizedApprover)
	}

	if task.IsLockedForValidation {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskLocked)
	}

	if task.Status != models.TaskStatusDone {
		return nil, fmt.Errorf("task %s: %w: expected done, have %s", taskID, ErrInvalidTransition, task.Status)
	}

	task.Status = models.TaskStatusPendingValidation1
	task.IsLockedForValidation = true
	task.OriginalAssigneeID = task.AssigneeID
	task.Validation1 = models.ValidationRecord{Status: models.ValidationStatusPending}

	if err := g.tasks.SaveTransition(ctx, task, models.TaskStatusDone); err != nil {
		return nil, err
	}

	requested := events.TaskValidationRequested{
		BaseEvent:   events.NewBaseEvent(events.TaskValidationRequestedEvent, events.EntityTypeTask, task.ID).WithWorkflowRun(task.WorkflowRunID),
		Level:       models.ValidationLevel1,
		SubmittedBy: actorID,
		ValidatorID: task.ExplicitValidatorFor(models.ValidationLevel1),
	}
	g.emitter.Emit(ctx, task.ID, requested)

	g.logger.InfoContext(ctx, "task submitted for validation", "task_id", task.ID, "actor_id", actorID)

	return task, nil
}

// Validate approves one level. Approving level 1 with a configured level 2
// advances to pending_validation_2; otherwise the task reaches validated
// and is unlocked.
func (g *TaskGate) Validate(ctx context.Context, taskID string, level models.ValidationLevel, actorID, comment string) (*models.Task, error) {
	task, err := g.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	expected := pendingStatusFor(level)
	if task.Status != expected {
		return nil, fmt.Errorf("task %s: %w: expected %s, have %s", taskID, ErrInvalidTransition, expected, task.Status)
	}

	if err := g.checkApprover(ctx, task, level, actorID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := models.ValidationRecord{
		Status:  models.ValidationStatusValidated,
		By:      actorID,
		At:      &now,
		Comment: models.NormalizeComment(comment),
	}

	final := true

	if level == models.ValidationLevel1 {
		task.Validation1 = record

		if task.ValidatorTypeFor(models.ValidationLevel2) != models.ValidatorTypeNone &&
			task.ValidatorTypeFor(models.ValidationLevel2) != "" {
			task.Status = models.TaskStatusPendingValidation2
			task.Validation2 = models.ValidationRecord{Status: models.ValidationStatusPending}
			final = false
		}
	} else {
		task.Validation2 = record
	}

	if final {
		task.Status = models.TaskStatusValidated
		task.IsLockedForValidation = false
		task.ValidatedAt = &now
		task.ValidatorID = actorID
	}

	if err := g.tasks.SaveTransition(ctx, task, expected); err != nil {
		return nil, err
	}

	if !final {
		requested := events.TaskValidationRequested{
			BaseEvent:   events.NewBaseEvent(events.TaskValidationRequestedEvent, events.EntityTypeTask, task.ID).WithWorkflowRun(task.WorkflowRunID),
			Level:       models.ValidationLevel2,
			SubmittedBy: actorID,
			ValidatorID: task.ExplicitValidatorFor(models.ValidationLevel2),
		}
		g.emitter.Emit(ctx, task.ID, requested)
	}

	validated := events.TaskValidated{
		BaseEvent:   events.NewBaseEvent(events.TaskValidatedEvent, events.EntityTypeTask, task.ID).WithWorkflowRun(task.WorkflowRunID),
		Level:       level,
		ValidatedBy: actorID,
		Comment:     record.Comment,
		Final:       final,
	}
	g.emitter.Emit(ctx, task.ID, validated)

	g.logger.InfoContext(ctx, "task validation approved",
		"task_id", task.ID, "level", int(level), "actor_id", actorID, "final", final)

	return task, nil
}

// Refuse rejects one level. The comment precondition is checked before any
// state is read or written.
func (g *TaskGate) Refuse(ctx context.Context, taskID string, level models.ValidationLevel, actorID, comment string) (*models.Task, error) {
	comment = models.NormalizeComment(comment)
	if comment == "" {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrMissingComment)
	}

	task, err := g.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	expected := pendingStatusFor(level)
	if task.Status != expected {
		return nil, fmt.Errorf("task %s: %w: expected %s, have %s", taskID, ErrInvalidTransition, expected, task.Status)
	}

	if err := g.checkApprover(ctx, task, level, actorID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := models.ValidationRecord{
		Status:  models.ValidationStatusRefused,
		By:      actorID,
		At:      &now,
		Comment: comment,
	}

	if level == models.ValidationLevel1 {
		task.Validation1 = record
	} else {
		task.Validation2 = record
	}

	task.Status = models.TaskStatusRefused
	task.IsLockedForValidation = false

	if err := g.tasks.SaveTransition(ctx, task, expected); err != nil {
		return nil, err
	}

	refused := events.TaskRefused{
		BaseEvent: events.NewBaseEvent(events.TaskRefusedEvent, events.EntityTypeTask, task.ID).WithWorkflowRun(task.WorkflowRunID),
		Level:     level,
		RefusedBy: actorID,
		Comment:   comment,
	}
	g.emitter.Emit(ctx, task.ID, refused)

	g.logger.InfoContext(ctx, "task validation refused",
		"task_id", task.ID, "level", int(level), "actor_id", actorID)

	return task, nil
}

// ReturnForReview sends a pending task back to review for rework instead
// of refusing it. The same approver rule as Refuse applies, the comment
// tells the assignee what to fix, and the unlock re-opens the normal
// transition path so the assignee can resume through in_progress.
func (g *TaskGate) ReturnForReview(ctx context.Context, taskID string, level models.ValidationLevel, actorID, comment string) (*models.Task, error) {
	comment = models.NormalizeComment(comment)
	if comment == "" {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrMissingComment)
	}

	task, err := g.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	expected := pendingStatusFor(level)
	if task.Status != expected {
		return nil, fmt.Errorf("task %s: %w: expected %s, have %s", taskID, ErrInvalidTransition, expected, task.Status)
	}

	if err := g.checkApprover(ctx, task, level, actorID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := models.ValidationRecord{
		Status:  models.ValidationStatusReturned,
		By:      actorID,
		At:      &now,
		Comment: comment,
	}

	if level == models.ValidationLevel1 {
		task.Validation1 = record
	} else {
		task.Validation2 = record
	}

	task.Status = models.TaskStatusReview
	task.IsLockedForValidation = false

	if err := g.tasks.SaveTransition(ctx, task, expected); err != nil {
		return nil, err
	}

	returned := events.TaskReturned{
		BaseEvent:  events.NewBaseEvent(events.TaskReturnedEvent, events.EntityTypeTask, task.ID).WithWorkflowRun(task.WorkflowRunID),
		Level:      level,
		ReturnedBy: actorID,
		Comment:    comment,
	}
	g.emitter.Emit(ctx, task.ID, returned)

	g.logger.InfoContext(ctx, "task returned for review",
		"task_id", task.ID, "level", int(level), "actor_id", actorID)

	return task, nil
}

// checkApprover applies the approver rule for a level: manager requires a
// distinct actor on the assignee's reporting line, requester requires the
// requesting user, free requires the explicitly designated validator.
func (g *TaskGate) checkApprover(ctx context.Context, task *models.Task, level models.ValidationLevel, actorID string) error {
	assigneeID := task.OriginalAssigneeID
	if assigneeID == "" {
		assigneeID = task.AssigneeID
	}

	switch task.ValidatorTypeFor(level) {
	case models.ValidatorTypeManager:
		if actorID == assigneeID {
			return fmt.Errorf("task %s: %w: assignee cannot approve own work", task.ID, ErrUnauthorizedApprover)
		}

		isManager, err := g.resolver.IsManagerOf(ctx, actorID, assigneeID)
		if err != nil {
			return fmt.Errorf("failed to resolve reporting line: %w", err)
		}

		if !isManager {
			return fmt.Errorf("task %s: %w: not on assignee's reporting line", task.ID, ErrUnauthorizedApprover)
		}
	case models.ValidatorTypeRequester:
		if actorID != task.RequesterID {
			return fmt.Errorf("task %s: %w: requester approval required", task.ID, ErrUnauthorizedApprover)
		}
	case models.ValidatorTypeFree:
		if actorID != task.ExplicitValidatorFor(level) {
			return fmt.Errorf("task %s: %w: not the designated validator", task.ID, ErrUnauthorizedApprover)
		}
	default:
		return fmt.Errorf("task %s: %w: level %d not configured", task.ID, ErrInvalidTransition, int(level))
	}

	return nil
}

func pendingStatusFor(level models.ValidationLevel) models.TaskStatus {
	if level == models.ValidationLevel2 {
		return models.TaskStatusPendingValidation2
	}

	return models.TaskStatusPendingValidation1
}
