// Package web provides the HTTP surface over the request and task
// services: submission, task status changes, the validation gates and
// progress reads.
package web

import (
	"github.com/caseflow/caseflow/pkg/models"
)

// SubmitRequestBody is the request body for submitting a new request.
type SubmitRequestBody struct {
	Title             string         `json:"title"               validate:"required,min=3"`
	Description       string         `json:"description"`
	RequesterID       string         `json:"requester_id"        validate:"required"`
	DepartmentID      string         `json:"department_id"`
	ProcessTemplateID string         `json:"process_template_id" validate:"required"`
	FieldValues       map[string]any `json:"field_values"`

	ValidationLevels int                  `json:"validation_levels" validate:"min=0,max=2"`
	ValidationLevel1 models.ValidatorType `json:"validation_level_1"`
	ValidationLevel2 models.ValidatorType `json:"validation_level_2"`
	Validator1ID     string               `json:"validator_1_id"`
	Validator2ID     string               `json:"validator_2_id"`
}

// ChangeStatusRequest is the request body for a single task status change.
type ChangeStatusRequest struct {
	Status  models.TaskStatus `json:"status"   validate:"required"`
	ActorID string            `json:"actor_id" validate:"required"`
}

// BulkChangeStatusRequest is the request body for a bulk task status
// change. Every task must currently be in the From status.
type BulkChangeStatusRequest struct {
	TaskIDs []string          `json:"task_ids" validate:"required,min=1"`
	From    models.TaskStatus `json:"from"     validate:"required"`
	To      models.TaskStatus `json:"to"       validate:"required"`
	ActorID string            `json:"actor_id" validate:"required"`
}

// BulkChangeStatusResponse reports the per-chunk outcome of a bulk
// status change.
type BulkChangeStatusResponse struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// SubmitValidationRequest is the request body for sending a done task
// into its validation gate.
type SubmitValidationRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
}

// ValidationDecisionRequest is the request body for approving or
// refusing one validation level. Comment is mandatory on refusal.
type ValidationDecisionRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	Comment string `json:"comment"`
}
