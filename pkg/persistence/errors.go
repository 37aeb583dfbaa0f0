// Package persistence provides standardized error types for persistence
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrConflict indicates a conditional update affected zero rows: the
	// caller read stale state and must re-fetch before retrying.
	ErrConflict = errors.New("conditional update affected zero rows")

	ErrProcessTemplateNotFound    = errors.New("process template not found")
	ErrSubProcessTemplateNotFound = errors.New("sub-process template not found")
	ErrTaskTemplateNotFound       = errors.New("task template not found")
	ErrWorkflowTemplateNotFound   = errors.New("workflow template not found")
	ErrWorkflowRunNotFound        = errors.New("workflow run not found")
	ErrSubProcessRunNotFound      = errors.New("sub-process run not found")
	ErrTaskNotFound               = errors.New("task not found")
	ErrRequestNotFound            = errors.New("request not found")
	ErrUserNotFound               = errors.New("user not found")
	ErrGroupNotFound              = errors.New("group not found")
	ErrDepartmentNotFound         = errors.New("department not found")
)

// StoreError wraps a storage failure with operation context.
type StoreError struct {
	Op       string // Operation being performed (e.g., "SaveTransition")
	Entity   string // Entity kind (e.g., "task", "sub_process_run")
	EntityID string // Entity ID if applicable
	Err      error  // Underlying error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s failed for %s %s: %v", e.Op, e.Entity, e.EntityID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a storage error with context.
func NewStoreError(op, entity, entityID string, err error) *StoreError {
	return &StoreError{
		Op:       op,
		Entity:   entity,
		EntityID: entityID,
		Err:      err,
	}
}

// IsConflict checks whether an error reports a lost conditional update.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound checks whether an error reports a missing entity of any kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProcessTemplateNotFound) ||
		errors.Is(err, ErrSubProcessTemplateNotFound) ||
		errors.Is(err, ErrTaskTemplateNotFound) ||
		errors.Is(err, ErrWorkflowTemplateNotFound) ||
		errors.Is(err, ErrWorkflowRunNotFound) ||
		errors.Is(err, ErrSubProcessRunNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrDepartmentNotFound)
}
