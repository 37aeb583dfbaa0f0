package models

import "time"

// WorkflowRunStatus represents the lifecycle state of a workflow run.
type WorkflowRunStatus string

const (
	WorkflowRunStatusRunning   WorkflowRunStatus = "running"
	WorkflowRunStatusCompleted WorkflowRunStatus = "completed"
	WorkflowRunStatusFailed    WorkflowRunStatus = "failed"
)

// RunContext is the snapshot captured when a run starts. It is immutable
// for the lifetime of the run.
type RunContext struct {
	RequesterID           string         `json:"requester_id"`
	DepartmentID          string         `json:"department_id,omitempty"`
	SubProcessTemplateIDs []string       `json:"sub_process_template_ids"`
	FieldValues           map[string]any `json:"field_values,omitempty"`
}

// ExecutionLogEntry is one append-only line in a run's execution log.
type ExecutionLogEntry struct {
	At      time.Time `json:"at"`
	NodeID  string    `json:"node_id,omitempty"`
	Message string    `json:"message"`
}

// WorkflowRun is one execution instance of a workflow template bound to a
// specific request.
type WorkflowRun struct {
	ID                 string              `json:"id"`
	WorkflowTemplateID string              `json:"workflow_template_id"`
	TemplateVersion    int                 `json:"template_version"`
	RequestID          string              `json:"request_id"`
	Status             WorkflowRunStatus   `json:"status"`
	Context            RunContext          `json:"context"`
	Log                []ExecutionLogEntry `json:"log,omitempty"`
	StartedAt          time.Time           `json:"started_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}

// AppendLog records an execution log line on the run.
func (r *WorkflowRun) AppendLog(nodeID, message string) {
	r.Log = append(r.Log, ExecutionLogEntry{
		At:      time.Now().UTC(),
		NodeID:  nodeID,
		Message: message,
	})
}

// SubProcessRunStatus represents the lifecycle state of a sub-process run.
type SubProcessRunStatus string

const (
	SubProcessRunStatusWaitingValidation SubProcessRunStatus = "waiting_validation" // Request-level approval still pending
	SubProcessRunStatusPending           SubProcessRunStatus = "pending"            // Approved, block not executed yet
	SubProcessRunStatusRunning           SubProcessRunStatus = "running"            // Tasks instantiated
	SubProcessRunStatusCompleted         SubProcessRunStatus = "completed"          // Every task done or validated
)

// SubProcessRun is one sub-process branch of a request. NotifyOnClose and
// Name are snapshotted from the block config at instantiation so the
// completion reconciler does not need the graph.
type SubProcessRun struct {
	ID                   string              `json:"id"`
	RequestID            string              `json:"request_id"`
	SubProcessTemplateID string              `json:"sub_process_template_id"`
	WorkflowRunID        string              `json:"workflow_run_id,omitempty"`
	Name                 string              `json:"name"`
	Status               SubProcessRunStatus `json:"status"`
	NotifyOnClose        bool                `json:"notify_on_close"`
	StartedAt            *time.Time          `json:"started_at,omitempty"`
	CompletedAt          *time.Time          `json:"completed_at,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
}
