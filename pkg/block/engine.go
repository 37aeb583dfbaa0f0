// Package block runs the standard block lifecycle for one sub-process:
// task instantiation (S1) and the creation notice (S2). Status-change and
// closure notices (S3, S4) are raised elsewhere, by the task transition
// path and the completion reconciler.
package block

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseflow/caseflow/pkg/eventbus"
	"github.com/caseflow/caseflow/pkg/events"
	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
)

// ErrAwaitingValidation reports an execution attempt against a sub-process
// run still gated by request-level validation.
var ErrAwaitingValidation = errors.New("sub-process run is awaiting request validation")

// RequestContext carries the request-scoped inputs of one block execution.
type RequestContext struct {
	RequestID     string
	RequesterID   string
	DepartmentID  string
	WorkflowRunID string
}

// ExecutionResult reports what one block execution did. The engine never
// panics or returns past its boundary; structural failures land in Err and
// per-task failures are logged and skipped.
type ExecutionResult struct {
	Success         bool
	TaskCount       int
	SubProcessRunID string
	Err             error
}

// Engine executes standard blocks against the persistence and event
// layers.
type Engine struct {
	templates persistence.TemplateRepository
	runs      persistence.RunRepository
	tasks     persistence.TaskRepository
	org       persistence.OrgRepository
	resolver  ManagerResolver
	emitter   *eventbus.Emitter
	logger    *slog.Logger
}

// NewEngine creates a standard block execution engine.
func NewEngine(
	store persistence.Persistence,
	resolver ManagerResolver,
	emitter *eventbus.Emitter,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		templates: store.TemplateRepository(),
		runs:      store.RunRepository(),
		tasks:     store.TaskRepository(),
		org:       store.OrgRepository(),
		resolver:  resolver,
		emitter:   emitter,
		logger:    logger.With("module", "block_engine"),
	}
}

// Execute runs S1 and S2 for one block. Each stage checks for existing
// artifacts before creating new ones, so retries are safe.
func (e *Engine) Execute(ctx context.Context, cfg models.BlockConfig, rc RequestContext) (result ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "block execution panicked",
				"sub_process", cfg.SubProcessName, "request_id", rc.RequestID, "panic", r)

			result = ExecutionResult{Err: fmt.Errorf("block execution panicked: %v", r)}
		}
	}()

	run, reused, err := e.ensureSubProcessRun(ctx, cfg, rc)
	if err != nil {
		return ExecutionResult{Err: err}
	}

	if reused {
		tasks, err := e.tasks.TasksForSubProcessRun(ctx, run.ID)
		if err != nil {
			return ExecutionResult{SubProcessRunID: run.ID, Err: err}
		}

		e.logger.InfoContext(ctx, "sub-process run already executed, reusing",
			"sub_process_run_id", run.ID, "task_count", len(tasks))

		return ExecutionResult{Success: true, TaskCount: len(tasks), SubProcessRunID: run.ID}
	}

	taskCount, assignment, err := e.instantiateTasks(ctx, cfg, rc, run)
	if err != nil {
		return ExecutionResult{SubProcessRunID: run.ID, Err: err}
	}

	started := events.SubProcessStarted{
		BaseEvent:       events.NewBaseEvent(events.SubProcessStartedEvent, events.EntityTypeRequest, rc.RequestID).WithWorkflowRun(rc.WorkflowRunID),
		SubProcessRunID: run.ID,
		SubProcessName:  cfg.SubProcessName,
		TaskCount:       taskCount,
	}
	e.emitter.Emit(ctx, rc.RequestID, started)

	e.notifyCreation(ctx, cfg, rc, assignment, taskCount)

	return ExecutionResult{Success: true, TaskCount: taskCount, SubProcessRunID: run.ID}
}

// ensureSubProcessRun finds or creates the run for (request, sub-process
// template). The unique constraint on that pair is the S1 idempotency key.
func (e *Engine) ensureSubProcessRun(ctx context.Context, cfg models.BlockConfig, rc RequestContext) (*models.SubProcessRun, bool, error) {
	run, err := e.runs.SubProcessRunForTemplate(ctx, rc.RequestID, cfg.SubProcessTemplateID)
	if err != nil && !errors.Is(err, persistence.ErrSubProcessRunNotFound) {
		return nil, false, fmt.Errorf("failed to look up sub-process run: %w", err)
	}

	if run != nil {
		switch run.Status {
		case models.SubProcessRunStatusRunning, models.SubProcessRunStatusCompleted:
			return run, true, nil
		case models.SubProcessRunStatusWaitingValidation:
			return nil, false, ErrAwaitingValidation
		case models.SubProcessRunStatusPending:
			err := e.runs.UpdateSubProcessRunStatus(ctx, run.ID,
				models.SubProcessRunStatusPending, models.SubProcessRunStatusRunning, nil)
			if err != nil {
				if persistence.IsConflict(err) {
					// A concurrent executor won the flip; treat its run as ours.
					return e.reloadAsExecuted(ctx, run.ID)
				}

				return nil, false, fmt.Errorf("failed to start sub-process run: %w", err)
			}

			return run, false, nil
		default:
			return nil, false, fmt.Errorf("sub-process run %s has unexpected status %s", run.ID, run.Status)
		}
	}

	now := time.Now().UTC()
	run = &models.SubProcessRun{
		RequestID:            rc.RequestID,
		SubProcessTemplateID: cfg.SubProcessTemplateID,
		WorkflowRunID:        rc.WorkflowRunID,
		Name:                 cfg.SubProcessName,
		Status:               models.SubProcessRunStatusRunning,
		NotifyOnClose:        cfg.NotifyOnClose,
		StartedAt:            &now,
	}

	if err := e.runs.CreateSubProcessRun(ctx, run); err != nil {
		if persistence.IsConflict(err) {
			existing, lookupErr := e.runs.SubProcessRunForTemplate(ctx, rc.RequestID, cfg.SubProcessTemplateID)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("failed to reload sub-process run after conflict: %w", lookupErr)
			}

			return existing, true, nil
		}

		return nil, false, fmt.Errorf("failed to create sub-process run: %w", err)
	}

	return run, false, nil
}

func (e *Engine) reloadAsExecuted(ctx context.Context, runID string) (*models.SubProcessRun, bool, error) {
	run, err := e.runs.SubProcessRunByID(ctx, runID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload sub-process run: %w", err)
	}

	return run, true, nil
}

// instantiateTasks is S1: one task per template, per-item failures logged
// and skipped so one bad template does not abort the rest.
func (e *Engine) instantiateTasks(ctx context.Context, cfg models.BlockConfig, rc RequestContext, run *models.SubProcessRun) (int, Assignment, error) {
	subProcess, err := e.templates.SubProcessTemplateByID(ctx, cfg.SubProcessTemplateID)
	if err != nil {
		return 0, Assignment{}, fmt.Errorf("failed to load sub-process template: %w", err)
	}

	assignment := e.resolveAssignee(ctx, cfg, rc)
	initialStatus := assignment.InitialStatus()

	created := 0

	for _, tpl := range subProcess.TaskTemplates {
		task := buildTask(tpl, rc, run, assignment, initialStatus)

		if err := e.tasks.Create(ctx, task); err != nil {
			e.logger.ErrorContext(ctx, "task creation failed, continuing with remaining templates",
				"task_template_id", tpl.ID, "title", tpl.Title,
				"sub_process_run_id", run.ID, "error", err)

			continue
		}

		created++
	}

	if created == 0 && len(subProcess.TaskTemplates) > 0 {
		e.logger.WarnContext(ctx, "no tasks created for sub-process run",
			"sub_process_run_id", run.ID, "templates", len(subProcess.TaskTemplates))
	}

	return created, assignment, nil
}

func buildTask(
	tpl *models.TaskTemplate,
	rc RequestContext,
	run *models.SubProcessRun,
	assignment Assignment,
	status models.TaskStatus,
) *models.Task {
	task := &models.Task{
		Title:                 tpl.Title,
		Description:           tpl.Description,
		Status:                status,
		Priority:              tpl.Priority,
		AssigneeID:            assignment.AssigneeID,
		RequesterID:           rc.RequesterID,
		ParentRequestID:       rc.RequestID,
		ParentSubProcessRunID: run.ID,
		WorkflowRunID:         rc.WorkflowRunID,
		ValidationLevel1:      tpl.ValidationLevel1,
		ValidationLevel2:      tpl.ValidationLevel2,
		Validator1ID:          tpl.Validator1ID,
		Validator2ID:          tpl.Validator2ID,
	}

	if len(tpl.Checklist) > 0 {
		task.Checklist = append([]models.ChecklistItem(nil), tpl.Checklist...)
	}

	if tpl.DefaultDurationDays > 0 {
		due := time.Now().UTC().AddDate(0, 0, tpl.DefaultDurationDays)
		task.DueDate = &due
	}

	return task
}

// notifyCreation is S2: one batched notice naming the sub-process and task
// count, gated by notify_on_create and skipped entirely when S1 produced
// zero tasks.
func (e *Engine) notifyCreation(ctx context.Context, cfg models.BlockConfig, rc RequestContext, assignment Assignment, taskCount int) {
	if taskCount == 0 || !cfg.NotifyOnCreate {
		return
	}

	created := events.RequestCreated{
		BaseEvent:      events.NewBaseEvent(events.RequestCreatedEvent, events.EntityTypeRequest, rc.RequestID).WithWorkflowRun(rc.WorkflowRunID),
		RequesterID:    rc.RequesterID,
		SubProcessName: cfg.SubProcessName,
		TaskCount:      taskCount,
	}
	e.emitter.Emit(ctx, rc.RequestID, created)

	if assignment.AssigneeID != "" {
		assigned := events.TaskAssigned{
			BaseEvent:      events.NewBaseEvent(events.TaskAssignedEvent, events.EntityTypeRequest, rc.RequestID).WithWorkflowRun(rc.WorkflowRunID),
			AssigneeID:     assignment.AssigneeID,
			SubProcessName: cfg.SubProcessName,
			TaskCount:      taskCount,
		}
		e.emitter.Emit(ctx, rc.RequestID, assigned)

		return
	}

	toAssign := events.TaskToAssign{
		BaseEvent:      events.NewBaseEvent(events.TaskToAssignEvent, events.EntityTypeRequest, rc.RequestID).WithWorkflowRun(rc.WorkflowRunID),
		ManagerID:      assignment.ManagerID,
		SubProcessName: cfg.SubProcessName,
		TaskCount:      taskCount,
	}
	e.emitter.Emit(ctx, rc.RequestID, toAssign)
}
