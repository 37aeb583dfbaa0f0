// Package models defines the core domain models for request workflow
// orchestration: process configuration, workflow graphs, runs and tasks.
package models

import "time"

// AssignmentMode controls how a sub-process resolves the assignee of its
// tasks at instantiation time.
type AssignmentMode string

const (
	AssignmentModeDirect  AssignmentMode = "direct"  // Explicit user or group member
	AssignmentModeManager AssignmentMode = "manager" // Resolved through the reporting line
)

func (m AssignmentMode) Valid() bool {
	return m == AssignmentModeDirect || m == AssignmentModeManager
}

// ProcessTemplate is author-time configuration: an ordered list of
// sub-processes that together make up one request type.
type ProcessTemplate struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name" validate:"required,min=3"`
	Description           string    `json:"description"`
	SubProcessTemplateIDs []string  `json:"sub_process_template_ids"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// SubProcessTemplate configures one unit of work within a process: its
// task templates plus an assignment and validation policy.
type SubProcessTemplate struct {
	ID                string         `json:"id"`
	ProcessTemplateID string         `json:"process_template_id"`
	Name              string         `json:"name"            validate:"required,min=3"`
	AssignmentMode    AssignmentMode `json:"assignment_mode" validate:"required"`

	// Assignment targets; which ones are consulted depends on the mode.
	TargetUserID       string `json:"target_user_id,omitempty"`
	TargetGroupID      string `json:"target_group_id,omitempty"`
	TargetDepartmentID string `json:"target_department_id,omitempty"`
	TargetManagerID    string `json:"target_manager_id,omitempty"`

	ValidationLevels int `json:"validation_levels" validate:"min=0,max=2"`

	NotifyOnCreate       bool `json:"notify_on_create"`
	NotifyOnStatusChange bool `json:"notify_on_status_change"`
	NotifyOnClose        bool `json:"notify_on_close"`

	TaskTemplates []*TaskTemplate `json:"task_templates,omitempty"`
	Position      int             `json:"position"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TaskTemplate is the blueprint for one task created during block
// execution.
type TaskTemplate struct {
	ID                   string          `json:"id"`
	SubProcessTemplateID string          `json:"sub_process_template_id"`
	Title                string          `json:"title" validate:"required"`
	Description          string          `json:"description"`
	Priority             Priority        `json:"priority"`
	DefaultDurationDays  int             `json:"default_duration_days" validate:"min=0"`
	ValidationLevel1     ValidatorType   `json:"validation_level_1"`
	ValidationLevel2     ValidatorType   `json:"validation_level_2"`
	Validator1ID         string          `json:"validator_1_id,omitempty"`
	Validator2ID         string          `json:"validator_2_id,omitempty"`
	Checklist            []ChecklistItem `json:"checklist,omitempty"`
	Position             int             `json:"position"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}
