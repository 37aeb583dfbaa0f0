package models

import (
	"strings"
	"time"
)

// TaskStatus defines the possible states of a task instance.
type TaskStatus string

const (
	TaskStatusToAssign           TaskStatus = "to_assign"            // Waiting for a manager to pick an assignee
	TaskStatusTodo               TaskStatus = "todo"                 // Assigned, not started
	TaskStatusInProgress         TaskStatus = "in_progress"          // Being worked on
	TaskStatusDone               TaskStatus = "done"                 // Work finished, may still need validation
	TaskStatusPendingValidation1 TaskStatus = "pending_validation_1" // Waiting for level-1 approval
	TaskStatusPendingValidation2 TaskStatus = "pending_validation_2" // Waiting for level-2 approval
	TaskStatusValidated          TaskStatus = "validated"            // Terminal, approved
	TaskStatusRefused            TaskStatus = "refused"              // Terminal, rejected by a validator
	TaskStatusReview             TaskStatus = "review"               // Sent back for rework
	TaskStatusCancelled          TaskStatus = "cancelled"            // Terminal, withdrawn
)

// taskTransitions is the total transition table for task statuses. Any
// transition not listed here is illegal and must be rejected at the
// service boundary, never applied by convention.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusToAssign:           {TaskStatusTodo, TaskStatusCancelled},
	TaskStatusTodo:               {TaskStatusInProgress, TaskStatusCancelled},
	TaskStatusInProgress:         {TaskStatusDone, TaskStatusTodo, TaskStatusCancelled},
	TaskStatusDone:               {TaskStatusPendingValidation1, TaskStatusInProgress, TaskStatusCancelled},
	TaskStatusPendingValidation1: {TaskStatusPendingValidation2, TaskStatusValidated, TaskStatusRefused, TaskStatusReview},
	TaskStatusPendingValidation2: {TaskStatusValidated, TaskStatusRefused, TaskStatusReview},
	TaskStatusReview:             {TaskStatusInProgress, TaskStatusCancelled},
	TaskStatusValidated:          {},
	TaskStatusRefused:            {},
	TaskStatusCancelled:          {},
}

// Valid reports whether the status is a member of the closed enum.
func (s TaskStatus) Valid() bool {
	_, ok := taskTransitions[s]

	return ok
}

// Terminal reports whether a task in this status is immutable except for
// audit fields.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusValidated || s == TaskStatusRefused || s == TaskStatusCancelled
}

// Complete reports whether the status counts toward sub-process completion.
func (s TaskStatus) Complete() bool {
	return s == TaskStatusDone || s == TaskStatusValidated
}

// CanTransition reports whether from -> to is a legal task status transition.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// ValidationStatus tracks one approval level on a task.
type ValidationStatus string

const (
	ValidationStatusNone      ValidationStatus = ""
	ValidationStatusPending   ValidationStatus = "pending"
	ValidationStatusValidated ValidationStatus = "validated"
	ValidationStatusRefused   ValidationStatus = "refused"
	ValidationStatusReturned  ValidationStatus = "returned"
)

// ValidatorType selects who may approve a given validation level.
type ValidatorType string

const (
	ValidatorTypeNone      ValidatorType = "none"
	ValidatorTypeManager   ValidatorType = "manager"   // Assignee's manager (requester's manager for requests)
	ValidatorTypeRequester ValidatorType = "requester" // The user who submitted the request
	ValidatorTypeFree      ValidatorType = "free"      // An explicitly designated user
)

func (t ValidatorType) Valid() bool {
	switch t {
	case ValidatorTypeNone, ValidatorTypeManager, ValidatorTypeRequester, ValidatorTypeFree:
		return true
	}

	return false
}

// ValidationLevel identifies one of the two approval levels.
type ValidationLevel int

const (
	ValidationLevel1 ValidationLevel = 1
	ValidationLevel2 ValidationLevel = 2
)

// ChecklistItem is a single checkbox copied from the task template.
type ChecklistItem struct {
	Label string `json:"label" validate:"required"`
	Done  bool   `json:"done"`
}

// ValidationRecord holds the audit trail for one approval level.
type ValidationRecord struct {
	Status  ValidationStatus `json:"status"`
	By      string           `json:"by,omitempty"`
	At      *time.Time       `json:"at,omitempty"`
	Comment string           `json:"comment,omitempty"`
}

// Task is one unit of work instantiated from a TaskTemplate by a standard
// block execution.
type Task struct {
	ID                    string          `json:"id"`
	Title                 string          `json:"title"       validate:"required"`
	Description           string          `json:"description"`
	Status                TaskStatus      `json:"status"      validate:"required"`
	Priority              Priority        `json:"priority"`
	AssigneeID            string          `json:"assignee_id,omitempty"`
	RequesterID           string          `json:"requester_id"`
	ReporterID            string          `json:"reporter_id,omitempty"`
	ParentRequestID       string          `json:"parent_request_id"`
	ParentSubProcessRunID string          `json:"parent_sub_process_run_id"`
	WorkflowRunID         string          `json:"workflow_run_id,omitempty"`
	DueDate               *time.Time      `json:"due_date,omitempty"`
	Checklist             []ChecklistItem `json:"checklist,omitempty"`

	ValidationLevel1 ValidatorType `json:"validation_level_1"`
	ValidationLevel2 ValidatorType `json:"validation_level_2"`
	// Explicit validators for ValidatorTypeFree levels.
	Validator1ID string `json:"validator_1_id,omitempty"`
	Validator2ID string `json:"validator_2_id,omitempty"`

	Validation1 ValidationRecord `json:"validation_1"`
	Validation2 ValidationRecord `json:"validation_2"`

	// IsLockedForValidation blocks user-initiated resubmission while an
	// approval is in flight. It is a domain flag, not a concurrency
	// primitive.
	IsLockedForValidation bool   `json:"is_locked_for_validation"`
	OriginalAssigneeID    string `json:"original_assignee_id,omitempty"`

	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	ValidatorID string     `json:"validator_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RequiresValidation reports whether the task must clear at least one
// approval level before reaching a terminal validated state.
func (t *Task) RequiresValidation() bool {
	return (t.ValidationLevel1 != ValidatorTypeNone && t.ValidationLevel1 != "") ||
		(t.ValidationLevel2 != ValidatorTypeNone && t.ValidationLevel2 != "")
}

// ValidatorTypeFor returns the configured validator type for a level.
func (t *Task) ValidatorTypeFor(level ValidationLevel) ValidatorType {
	if level == ValidationLevel2 {
		return t.ValidationLevel2
	}

	return t.ValidationLevel1
}

// ExplicitValidatorFor returns the designated validator ID for a level.
func (t *Task) ExplicitValidatorFor(level ValidationLevel) string {
	if level == ValidationLevel2 {
		return t.Validator2ID
	}

	return t.Validator1ID
}

// Priority is the task priority copied from the template.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// NormalizeComment trims a validation comment; an empty result means the
// comment is missing for refusal purposes.
func NormalizeComment(comment string) string {
	return strings.TrimSpace(comment)
}
