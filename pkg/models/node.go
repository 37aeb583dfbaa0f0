package models

import (
	"encoding/json"
	"fmt"
)

// NodeType is the closed set of workflow node variants. Adding a variant
// means extending this enum, its config schema, and the generator/engine
// switches that dispatch on it.
type NodeType string

const (
	NodeTypeStart            NodeType = "start"
	NodeTypeEnd              NodeType = "end"
	NodeTypeTask             NodeType = "task"
	NodeTypeValidation       NodeType = "validation"
	NodeTypeNotification     NodeType = "notification"
	NodeTypeCondition        NodeType = "condition"
	NodeTypeBlockDirect      NodeType = "block:direct"
	NodeTypeBlockManager     NodeType = "block:manager"
	NodeTypeBlockValidation1 NodeType = "block:validation1"
	NodeTypeBlockValidation2 NodeType = "block:validation2"
	NodeTypeFork             NodeType = "fork"
	NodeTypeJoin             NodeType = "join"
	NodeTypeStatusChange     NodeType = "status_change"
	NodeTypeAssignment       NodeType = "assignment"
)

var nodeTypes = map[NodeType]struct{}{
	NodeTypeStart: {}, NodeTypeEnd: {}, NodeTypeTask: {}, NodeTypeValidation: {},
	NodeTypeNotification: {}, NodeTypeCondition: {}, NodeTypeBlockDirect: {},
	NodeTypeBlockManager: {}, NodeTypeBlockValidation1: {}, NodeTypeBlockValidation2: {},
	NodeTypeFork: {}, NodeTypeJoin: {}, NodeTypeStatusChange: {}, NodeTypeAssignment: {},
}

func (t NodeType) Valid() bool {
	_, ok := nodeTypes[t]

	return ok
}

// IsStandardBlock reports whether the node encapsulates the standard
// block lifecycle for one sub-process.
func (t NodeType) IsStandardBlock() bool {
	switch t {
	case NodeTypeBlockDirect, NodeTypeBlockManager, NodeTypeBlockValidation1, NodeTypeBlockValidation2:
		return true
	}

	return false
}

// BlockTypeFor selects the standard block variant for a sub-process
// configuration.
func BlockTypeFor(mode AssignmentMode, validationLevels int) (NodeType, error) {
	switch validationLevels {
	case 0:
		if mode == AssignmentModeManager {
			return NodeTypeBlockManager, nil
		}

		return NodeTypeBlockDirect, nil
	case 1:
		return NodeTypeBlockValidation1, nil
	case 2:
		return NodeTypeBlockValidation2, nil
	default:
		return "", fmt.Errorf("unsupported validation level count: %d", validationLevels)
	}
}

// UnlabeledBranch marks an edge that does not belong to a fork branch.
const UnlabeledBranch = -1

// WorkflowNode is one node instance in a workflow template graph. Position
// is layout-only and carries no execution semantics.
type WorkflowNode struct {
	ID        string         `json:"id"   validate:"required"`
	Type      NodeType       `json:"type" validate:"required"`
	Name      string         `json:"name" validate:"required,min=1"`
	Config    map[string]any `json:"config,omitempty"`
	PositionX int            `json:"position_x"`
	PositionY int            `json:"position_y"`
}

// WorkflowEdge is a directed edge between two nodes. BranchIndex labels
// fork outgoing edges 0..N-1; UnlabeledBranch everywhere else.
type WorkflowEdge struct {
	ID          string `json:"id"`
	SourceID    string `json:"source_id" validate:"required"`
	TargetID    string `json:"target_id" validate:"required"`
	BranchIndex int    `json:"branch_index"`
}

// BlockConfig is the config blob carried by standard block nodes. It is
// the wire contract between the graph generator and the block engine.
type BlockConfig struct {
	SubProcessTemplateID string         `json:"sub_process_template_id" validate:"required"`
	SubProcessName       string         `json:"sub_process_name"        validate:"required"`
	AssignmentType       AssignmentMode `json:"assignment_type"         validate:"required"`
	TargetManagerID      string         `json:"target_manager_id,omitempty"`
	TargetAssigneeID     string         `json:"target_assignee_id,omitempty"`
	TargetDepartmentID   string         `json:"target_department_id,omitempty"`
	TargetGroupID        string         `json:"target_group_id,omitempty"`
	ValidationLevels     int            `json:"validation_levels"`
	NotifyOnCreate       bool           `json:"notify_on_create"`
	NotifyOnStatusChange bool           `json:"notify_on_status_change"`
	NotifyOnClose        bool           `json:"notify_on_close"`
}

// JoinConfig is the config blob carried by join nodes.
type JoinConfig struct {
	RequiredCount int `json:"required_count" validate:"min=1"`
}

// NotificationKind selects which standing notice a notification node
// represents.
type NotificationKind string

const (
	NotificationKindCreation NotificationKind = "creation"
	NotificationKindClosure  NotificationKind = "closure"
)

// NotificationConfig is the config blob carried by notification nodes.
type NotificationConfig struct {
	Kind NotificationKind `json:"kind" validate:"required"`
}

// StatusChangeConfig is the config blob carried by status-change nodes.
type StatusChangeConfig struct {
	Status TaskStatus `json:"status" validate:"required"`
}

// AssignmentConfig is the config blob carried by assignment nodes.
type AssignmentConfig struct {
	AssigneeID string `json:"assignee_id" validate:"required"`
}

// ConditionConfig is the config blob carried by condition nodes.
type ConditionConfig struct {
	Expression string `json:"expression" validate:"required"`
}

// DecodeConfig unmarshals a node's config blob into the typed payload for
// its variant.
func DecodeConfig(node *WorkflowNode, out any) error {
	raw, err := json.Marshal(node.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config for node %s: %w", node.ID, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s config for node %s: %w", node.Type, node.ID, err)
	}

	return nil
}

// EncodeConfig marshals a typed config payload into a node config blob.
func EncodeConfig(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node config: %w", err)
	}

	var blob map[string]any
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("failed to build node config blob: %w", err)
	}

	return blob, nil
}
