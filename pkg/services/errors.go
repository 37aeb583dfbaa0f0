// Package services provides the invoking layer over the engine: request
// submission, task status changes and the request-level validation
// decisions that gate workflow start.
package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest rejects malformed input before any state is touched.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrIllegalTransition rejects a status change the transition table does
	// not allow.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrGateRequired rejects direct status writes into validation states;
	// those go through the gate.
	ErrGateRequired = errors.New("transition requires the validation gate")
)

// BatchChunkSize caps the number of task IDs per storage call in bulk
// updates. Chunks are not atomic with respect to each other.
const BatchChunkSize = 50

// PartialBatchError reports a bulk update that did not land everywhere.
// Prior chunks are never rolled back; the counts tell the caller what
// actually happened.
type PartialBatchError struct {
	Succeeded   int
	Failed      int
	ChunkErrors []error
}

func (e *PartialBatchError) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "bulk update partially failed: %d succeeded, %d failed", e.Succeeded, e.Failed)

	for _, err := range e.ChunkErrors {
		fmt.Fprintf(&sb, "; %v", err)
	}

	return sb.String()
}

// ServiceError wraps a service failure with operation context for the
// API layer.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// NewServiceError creates a service error with context.
func NewServiceError(op, message string, err error) *ServiceError {
	return &ServiceError{Op: op, Message: message, Err: err}
}
