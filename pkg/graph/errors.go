package graph

import (
	"errors"
	"fmt"
)

// ErrGraphInvalid is the root of the structural validation error family.
// Every specific failure below wraps it, so callers can match the whole
// class with errors.Is.
var ErrGraphInvalid = errors.New("workflow graph is invalid")

var (
	ErrMissingStart   = fmt.Errorf("%w: missing start node", ErrGraphInvalid)
	ErrMissingEnd     = fmt.Errorf("%w: missing end node", ErrGraphInvalid)
	ErrCyclic         = fmt.Errorf("%w: graph contains a cycle", ErrGraphInvalid)
	ErrDisconnected   = fmt.Errorf("%w: node has no incoming edge", ErrGraphInvalid)
	ErrBranchMismatch = fmt.Errorf("%w: fork/join branch labeling mismatch", ErrGraphInvalid)
	ErrBadNodeConfig  = fmt.Errorf("%w: node config fails its schema", ErrGraphInvalid)
)

// ErrNoTaskTemplates rejects generation for a sub-process with nothing to
// instantiate. Batch generation records it as a warning and continues with
// the remaining owners.
var ErrNoTaskTemplates = errors.New("sub-process has no task templates")

// GraphError carries the operation and offending node alongside the
// underlying sentinel.
type GraphError struct {
	Op     string
	NodeID string
	Err    error
}

func (e *GraphError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("graph %s: node %s: %s", e.Op, e.NodeID, e.Err)
	}

	return fmt.Sprintf("graph %s: %s", e.Op, e.Err)
}

func (e *GraphError) Unwrap() error { return e.Err }

// NewGraphError creates a GraphError for an operation and node.
func NewGraphError(op, nodeID string, err error) *GraphError {
	return &GraphError{Op: op, NodeID: nodeID, Err: err}
}
