// Package events defines the event taxonomy emitted at workflow, request
// and task transition points. Delivery is an external collaborator; the
// core only decides what to raise.
package events

import (
	"time"

	"github.com/caseflow/caseflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topic carrying all caseflow lifecycle events.
const Topic = "caseflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Request lifecycle events.
	RequestCreatedEvent             EventType = "request.created"
	RequestValidationRequestedEvent EventType = "request.validation.requested"
	RequestValidatedEvent           EventType = "request.validated"
	RequestRefusedEvent             EventType = "request.refused"
	RequestCompletedEvent           EventType = "request.completed"

	// Task lifecycle events.
	TaskAssignedEvent            EventType = "task.assigned"
	TaskToAssignEvent            EventType = "task.to_assign"
	TaskStatusChangedEvent       EventType = "task.status_changed"
	TaskValidationRequestedEvent EventType = "task.validation.requested"
	TaskValidatedEvent           EventType = "task.validated"
	TaskRefusedEvent             EventType = "task.refused"
	TaskReturnedEvent            EventType = "task.returned"

	// Sub-process lifecycle events.
	SubProcessStartedEvent   EventType = "subprocess.started"
	SubProcessCompletedEvent EventType = "subprocess.completed"

	// Workflow run lifecycle events.
	WorkflowRunStartedEvent   EventType = "workflow.run.started"
	WorkflowRunCompletedEvent EventType = "workflow.run.completed"
)

// EntityType identifies which kind of entity an event is about.
type EntityType string

const (
	EntityTypeTask    EntityType = "task"
	EntityTypeRequest EntityType = "request"
)

type BaseEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	EntityType    EntityType     `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	WorkflowRunID string         `json:"workflow_run_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, entityType EntityType, entityID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   make(map[string]any),
	}
}

// WithWorkflowRun attaches the owning workflow run to the event.
func (b BaseEvent) WithWorkflowRun(runID string) BaseEvent {
	b.WorkflowRunID = runID

	return b
}

// Request lifecycle events

type RequestCreated struct {
	BaseEvent

	RequesterID    string `json:"requester_id"`
	SubProcessName string `json:"sub_process_name,omitempty"`
	TaskCount      int    `json:"task_count"`
}

func (e RequestCreated) GetType() EventType {
	return RequestCreatedEvent
}

type RequestValidationRequested struct {
	BaseEvent

	Level       models.ValidationLevel `json:"level"`
	ValidatorID string                 `json:"validator_id,omitempty"`
}

func (e RequestValidationRequested) GetType() EventType {
	return RequestValidationRequestedEvent
}

type RequestValidated struct {
	BaseEvent

	Level       models.ValidationLevel `json:"level"`
	ValidatedBy string                 `json:"validated_by"`
	Comment     string                 `json:"comment,omitempty"`
	Final       bool                   `json:"final"`
}

func (e RequestValidated) GetType() EventType {
	return RequestValidatedEvent
}

type RequestRefused struct {
	BaseEvent

	Level     models.ValidationLevel `json:"level"`
	RefusedBy string                 `json:"refused_by"`
	Comment   string                 `json:"comment"`
}

func (e RequestRefused) GetType() EventType {
	return RequestRefusedEvent
}

type RequestCompleted struct {
	BaseEvent

	RequesterID        string `json:"requester_id"`
	SubProcessRunCount int    `json:"sub_process_run_count"`
}

func (e RequestCompleted) GetType() EventType {
	return RequestCompletedEvent
}

// Task lifecycle events

type TaskAssigned struct {
	BaseEvent

	AssigneeID     string `json:"assignee_id"`
	SubProcessName string `json:"sub_process_name"`
	TaskCount      int    `json:"task_count"`
}

func (e TaskAssigned) GetType() EventType {
	return TaskAssignedEvent
}

type TaskToAssign struct {
	BaseEvent

	ManagerID      string `json:"manager_id,omitempty"`
	SubProcessName string `json:"sub_process_name"`
	TaskCount      int    `json:"task_count"`
}

func (e TaskToAssign) GetType() EventType {
	return TaskToAssignEvent
}

type TaskStatusChanged struct {
	BaseEvent

	PreviousStatus models.TaskStatus `json:"previous_status"`
	NewStatus      models.TaskStatus `json:"new_status"`
	ChangedBy      string            `json:"changed_by,omitempty"`
}

func (e TaskStatusChanged) GetType() EventType {
	return TaskStatusChangedEvent
}

type TaskValidationRequested struct {
	BaseEvent

	Level       models.ValidationLevel `json:"level"`
	SubmittedBy string                 `json:"submitted_by"`
	ValidatorID string                 `json:"validator_id,omitempty"`
}

func (e TaskValidationRequested) GetType() EventType {
	return TaskValidationRequestedEvent
}

type TaskValidated struct {
	BaseEvent

	Level       models.ValidationLevel `json:"level"`
	ValidatedBy string                 `json:"validated_by"`
	Comment     string                 `json:"comment,omitempty"`
	Final       bool                   `json:"final"`
}

func (e TaskValidated) GetType() EventType {
	return TaskValidatedEvent
}

type TaskRefused struct {
	BaseEvent

	Level     models.ValidationLevel `json:"level"`
	RefusedBy string                 `json:"refused_by"`
	Comment   string                 `json:"comment"`
}

func (e TaskRefused) GetType() EventType {
	return TaskRefusedEvent
}

// TaskReturned reports a validator sending a task back to review for
// rework instead of refusing it outright.
type TaskReturned struct {
	BaseEvent

	Level      models.ValidationLevel `json:"level"`
	ReturnedBy string                 `json:"returned_by"`
	Comment    string                 `json:"comment"`
}

func (e TaskReturned) GetType() EventType {
	return TaskReturnedEvent
}

// Sub-process lifecycle events

type SubProcessStarted struct {
	BaseEvent

	SubProcessRunID string `json:"sub_process_run_id"`
	SubProcessName  string `json:"sub_process_name"`
	TaskCount       int    `json:"task_count"`
}

func (e SubProcessStarted) GetType() EventType {
	return SubProcessStartedEvent
}

type SubProcessCompleted struct {
	BaseEvent

	SubProcessRunID string `json:"sub_process_run_id"`
	SubProcessName  string `json:"sub_process_name"`
}

func (e SubProcessCompleted) GetType() EventType {
	return SubProcessCompletedEvent
}

// Workflow run lifecycle events

type WorkflowRunStarted struct {
	BaseEvent

	WorkflowTemplateID string `json:"workflow_template_id"`
	TemplateVersion    int    `json:"template_version"`
	SubProcessCount    int    `json:"sub_process_count"`
}

func (e WorkflowRunStarted) GetType() EventType {
	return WorkflowRunStartedEvent
}

type WorkflowRunCompleted struct {
	BaseEvent

	WorkflowTemplateID string `json:"workflow_template_id"`
	DurationMs         int64  `json:"duration_ms"`
}

func (e WorkflowRunCompleted) GetType() EventType {
	return WorkflowRunCompletedEvent
}
