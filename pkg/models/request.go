package models

import "time"

// RequestValidationStatus tracks the pre-workflow approval gate of a
// request. While a request is pending, its workflow is not started.
type RequestValidationStatus string

const (
	RequestValidationNone          RequestValidationStatus = "none"
	RequestValidationPendingLevel1 RequestValidationStatus = "pending_level_1"
	RequestValidationPendingLevel2 RequestValidationStatus = "pending_level_2"
	RequestValidationApproved      RequestValidationStatus = "approved"
	RequestValidationRefused       RequestValidationStatus = "refused"
)

// Pending reports whether the gate still blocks workflow start.
func (s RequestValidationStatus) Pending() bool {
	return s == RequestValidationPendingLevel1 || s == RequestValidationPendingLevel2
}

// RequestStatus represents the lifecycle state of a request.
type RequestStatus string

const (
	RequestStatusSubmitted  RequestStatus = "submitted"
	RequestStatusInProgress RequestStatus = "in_progress"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusRefused    RequestStatus = "refused"
	RequestStatusCancelled  RequestStatus = "cancelled"
)

// Request is the top-level unit of work submitted by a user. It is
// task-shaped but carries its own pre-workflow validation gate.
type Request struct {
	ID                string         `json:"id"`
	Title             string         `json:"title" validate:"required"`
	Description       string         `json:"description"`
	Status            RequestStatus  `json:"status"`
	RequesterID       string         `json:"requester_id" validate:"required"`
	DepartmentID      string         `json:"department_id,omitempty"`
	ProcessTemplateID string         `json:"process_template_id" validate:"required"`
	FieldValues       map[string]any `json:"field_values,omitempty"`

	// Pre-workflow validation gate, mirroring the task-level shape but
	// resolved against the requester's reporting line.
	ValidationLevels int           `json:"validation_levels" validate:"min=0,max=2"`
	ValidationLevel1 ValidatorType `json:"validation_level_1"`
	ValidationLevel2 ValidatorType `json:"validation_level_2"`
	Validator1ID     string        `json:"validator_1_id,omitempty"`
	Validator2ID     string        `json:"validator_2_id,omitempty"`

	ValidationStatus RequestValidationStatus `json:"validation_status"`
	Validation1      ValidationRecord        `json:"validation_1"`
	Validation2      ValidationRecord        `json:"validation_2"`

	WorkflowRunID string `json:"workflow_run_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RequiresValidation reports whether the request must clear the
// pre-workflow gate before its workflow starts.
func (r *Request) RequiresValidation() bool {
	return r.ValidationLevels > 0
}

// ValidatorTypeFor returns the configured validator type for a level.
func (r *Request) ValidatorTypeFor(level ValidationLevel) ValidatorType {
	if level == ValidationLevel2 {
		return r.ValidationLevel2
	}

	return r.ValidationLevel1
}

// ExplicitValidatorFor returns the designated validator ID for a level.
func (r *Request) ExplicitValidatorFor(level ValidationLevel) string {
	if level == ValidationLevel2 {
		return r.Validator2ID
	}

	return r.Validator1ID
}
