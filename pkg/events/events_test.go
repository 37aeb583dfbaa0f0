package events

import (
	"encoding/json"
	"testing"

	"github.com/caseflow/caseflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	base := NewBaseEvent(TaskAssignedEvent, EntityTypeTask, "task-1")

	assert.NotEmpty(t, base.ID)
	assert.Equal(t, TaskAssignedEvent, base.Type)
	assert.Equal(t, EntityTypeTask, base.EntityType)
	assert.Equal(t, "task-1", base.EntityID)
	assert.False(t, base.Timestamp.IsZero())
	assert.NotNil(t, base.Metadata)
	assert.Empty(t, base.WorkflowRunID)
}

func TestWithWorkflowRun(t *testing.T) {
	base := NewBaseEvent(SubProcessCompletedEvent, EntityTypeRequest, "req-1").
		WithWorkflowRun("run-1")

	assert.Equal(t, "run-1", base.WorkflowRunID)
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		name  string
		event interface{ GetType() EventType }
		want  EventType
	}{
		{"request created", RequestCreated{}, RequestCreatedEvent},
		{"request validated", RequestValidated{}, RequestValidatedEvent},
		{"request refused", RequestRefused{}, RequestRefusedEvent},
		{"task assigned", TaskAssigned{}, TaskAssignedEvent},
		{"task to assign", TaskToAssign{}, TaskToAssignEvent},
		{"task status changed", TaskStatusChanged{}, TaskStatusChangedEvent},
		{"task validation requested", TaskValidationRequested{}, TaskValidationRequestedEvent},
		{"task validated", TaskValidated{}, TaskValidatedEvent},
		{"task refused", TaskRefused{}, TaskRefusedEvent},
		{"task returned", TaskReturned{}, TaskReturnedEvent},
		{"subprocess started", SubProcessStarted{}, SubProcessStartedEvent},
		{"subprocess completed", SubProcessCompleted{}, SubProcessCompletedEvent},
		{"workflow run started", WorkflowRunStarted{}, WorkflowRunStartedEvent},
		{"workflow run completed", WorkflowRunCompleted{}, WorkflowRunCompletedEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.GetType())
		})
	}
}

func TestTaskStatusChangedSerialization(t *testing.T) {
	event := TaskStatusChanged{
		BaseEvent:      NewBaseEvent(TaskStatusChangedEvent, EntityTypeTask, "task-9").WithWorkflowRun("run-3"),
		PreviousStatus: models.TaskStatusInProgress,
		NewStatus:      models.TaskStatusDone,
		ChangedBy:      "user-2",
	}

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded TaskStatusChanged

	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, models.TaskStatusDone, decoded.NewStatus)
	assert.Equal(t, "run-3", decoded.WorkflowRunID)
	assert.Equal(t, "task-9", decoded.EntityID)
}
