// Package persistence provides the data storage abstraction consumed by
// the workflow and validation engines. All instance mutation goes through
// conditional single-row updates keyed by expected prior status.
package persistence

import (
	"context"
	"time"

	"github.com/caseflow/caseflow/pkg/models"
)

// Persistence aggregates the repositories backing the engine.
type Persistence interface {
	TemplateRepository() TemplateRepository
	WorkflowRepository() WorkflowRepository
	RunRepository() RunRepository
	TaskRepository() TaskRepository
	RequestRepository() RequestRepository
	OrgRepository() OrgRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// TemplateRepository serves the read-mostly process configuration.
type TemplateRepository interface {
	ProcessTemplateByID(ctx context.Context, id string) (*models.ProcessTemplate, error)
	SubProcessTemplateByID(ctx context.Context, id string) (*models.SubProcessTemplate, error)
	// SubProcessTemplatesForProcess returns the ordered sub-process
	// templates of a process with their task templates loaded.
	SubProcessTemplatesForProcess(ctx context.Context, processTemplateID string) ([]*models.SubProcessTemplate, error)

	SaveProcessTemplate(ctx context.Context, tpl *models.ProcessTemplate) error
	SaveSubProcessTemplate(ctx context.Context, tpl *models.SubProcessTemplate) error
	SaveTaskTemplate(ctx context.Context, tpl *models.TaskTemplate) error
}

// WorkflowRepository stores workflow templates, their graphs and the
// durable generation markers.
type WorkflowRepository interface {
	Save(ctx context.Context, template *models.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	// DefaultForOwner returns the active default template for a process or
	// sub-process owner, or ErrWorkflowTemplateNotFound.
	DefaultForOwner(ctx context.Context, ownerID string) (*models.WorkflowTemplate, error)
	// Supersede retires a template without deleting it.
	Supersede(ctx context.Context, templateID string) error

	MarkGenerationAttempted(ctx context.Context, marker models.GenerationMarker) error
	GenerationAttempted(ctx context.Context, ownerID string, version int) (bool, error)
}

// RunRepository stores workflow runs and sub-process runs.
type RunRepository interface {
	CreateWorkflowRun(ctx context.Context, run *models.WorkflowRun) error
	WorkflowRunByID(ctx context.Context, id string) (*models.WorkflowRun, error)
	// UpdateWorkflowRunStatus performs a conditional status flip; a zero-row
	// update reports ErrConflict.
	UpdateWorkflowRunStatus(ctx context.Context, id string, expected, next models.WorkflowRunStatus, completedAt *time.Time) error
	AppendWorkflowRunLog(ctx context.Context, runID string, entry models.ExecutionLogEntry) error

	CreateSubProcessRun(ctx context.Context, run *models.SubProcessRun) error
	SubProcessRunByID(ctx context.Context, id string) (*models.SubProcessRun, error)
	SubProcessRunsForRequest(ctx context.Context, requestID string) ([]*models.SubProcessRun, error)
	// SubProcessRunForTemplate returns the run of a request for one
	// sub-process template, or ErrSubProcessRunNotFound. Block execution
	// uses it as its idempotency check.
	SubProcessRunForTemplate(ctx context.Context, requestID, subProcessTemplateID string) (*models.SubProcessRun, error)
	// UpdateSubProcessRunStatus performs a conditional status flip; a
	// zero-row update reports ErrConflict.
	UpdateSubProcessRunStatus(ctx context.Context, id string, expected, next models.SubProcessRunStatus, completedAt *time.Time) error
	// ListOpenSubProcessRuns returns running sub-process runs, oldest
	// first, for the periodic reconciliation sweep.
	ListOpenSubProcessRuns(ctx context.Context, limit int) ([]*models.SubProcessRun, error)
}

// TaskRepository stores task instances.
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	TasksForSubProcessRun(ctx context.Context, subProcessRunID string) ([]*models.Task, error)
	TasksForRequest(ctx context.Context, requestID string) ([]*models.Task, error)
	// SaveTransition writes the task's mutable fields where the stored
	// status still equals expected; a zero-row update reports ErrConflict.
	SaveTransition(ctx context.Context, task *models.Task, expected models.TaskStatus) error
	// UpdateStatusMany flips many tasks at once via an in-clause and
	// returns the number of rows affected. Callers chunk the id list.
	UpdateStatusMany(ctx context.Context, ids []string, expected, next models.TaskStatus) (int64, error)
}

// RequestRepository stores request instances and their validation gate.
type RequestRepository interface {
	Create(ctx context.Context, request *models.Request) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	// SaveValidationTransition writes the request's validation fields where
	// the stored validation status still equals expected; a zero-row update
	// reports ErrConflict.
	SaveValidationTransition(ctx context.Context, request *models.Request, expected models.RequestValidationStatus) error
	// UpdateStatus performs a conditional request status flip.
	UpdateStatus(ctx context.Context, id string, expected, next models.RequestStatus) error
	SetWorkflowRun(ctx context.Context, requestID, workflowRunID string) error
}

// OrgRepository serves the user directory used by assignment and approver
// resolution.
type OrgRepository interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
	GroupByID(ctx context.Context, id string) (*models.Group, error)
	DepartmentByID(ctx context.Context, id string) (*models.Department, error)

	SaveUser(ctx context.Context, user *models.User) error
	SaveGroup(ctx context.Context, group *models.Group) error
	SaveDepartment(ctx context.Context, department *models.Department) error
}
