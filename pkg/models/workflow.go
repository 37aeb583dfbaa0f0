package models

import "time"

// TemplateStatus represents the lifecycle state of a workflow template.
type TemplateStatus string

const (
	TemplateStatusDraft      TemplateStatus = "draft"      // Editable, not executable
	TemplateStatusActive     TemplateStatus = "active"     // Current, executable
	TemplateStatusSuperseded TemplateStatus = "superseded" // Retired by a forced regeneration
)

// WorkflowTemplate is a versioned workflow graph bound to either a process
// template or a sub-process template, never both. At most one template per
// owner may be active and default at a time.
type WorkflowTemplate struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"   validate:"required,min=3"`
	Version int            `json:"version"`
	Status  TemplateStatus `json:"status" validate:"required"`

	ProcessTemplateID    string `json:"process_template_id,omitempty"`
	SubProcessTemplateID string `json:"sub_process_template_id,omitempty"`

	IsDefault bool `json:"is_default"`

	Nodes []*WorkflowNode `json:"nodes"`
	Edges []*WorkflowEdge `json:"edges"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OwnerID returns the single template owner, process or sub-process.
func (t *WorkflowTemplate) OwnerID() string {
	if t.ProcessTemplateID != "" {
		return t.ProcessTemplateID
	}

	return t.SubProcessTemplateID
}

// NodeByID returns the node with the given ID, or nil.
func (t *WorkflowTemplate) NodeByID(id string) *WorkflowNode {
	for _, node := range t.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// NodesByType returns all nodes of the given type in declaration order.
func (t *WorkflowTemplate) NodesByType(nodeType NodeType) []*WorkflowNode {
	var nodes []*WorkflowNode

	for _, node := range t.Nodes {
		if node.Type == nodeType {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// OutgoingEdges returns the edges leaving a node, in declaration order.
func (t *WorkflowTemplate) OutgoingEdges(nodeID string) []*WorkflowEdge {
	var edges []*WorkflowEdge

	for _, edge := range t.Edges {
		if edge.SourceID == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// IncomingEdges returns the edges entering a node, in declaration order.
func (t *WorkflowTemplate) IncomingEdges(nodeID string) []*WorkflowEdge {
	var edges []*WorkflowEdge

	for _, edge := range t.Edges {
		if edge.TargetID == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// StandardBlocks returns the standard block nodes in declaration order.
func (t *WorkflowTemplate) StandardBlocks() []*WorkflowNode {
	var blocks []*WorkflowNode

	for _, node := range t.Nodes {
		if node.Type.IsStandardBlock() {
			blocks = append(blocks, node)
		}
	}

	return blocks
}

// GenerationMarker records that graph generation was attempted for an
// owner, keyed by (owner, version). It makes regeneration idempotent
// across process restarts instead of relying on in-memory state.
type GenerationMarker struct {
	OwnerID     string    `json:"owner_id"`
	Version     int       `json:"version"`
	AttemptedAt time.Time `json:"attempted_at"`
}
