package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caseflow/caseflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Config schemas per node variant. Structural validation runs these against
// the raw config blob before any typed decode, so a malformed template is
// rejected at save time instead of at execution time.

const blockConfigSchema = `{
	"type": "object",
	"required": ["sub_process_template_id", "sub_process_name", "assignment_type"],
	"properties": {
		"sub_process_template_id": {"type": "string", "minLength": 1},
		"sub_process_name":        {"type": "string", "minLength": 1},
		"assignment_type":         {"type": "string", "enum": ["direct", "manager"]},
		"target_manager_id":       {"type": "string"},
		"target_assignee_id":      {"type": "string"},
		"target_department_id":    {"type": "string"},
		"target_group_id":         {"type": "string"},
		"validation_levels":       {"type": "integer", "minimum": 0, "maximum": 2},
		"notify_on_create":        {"type": "boolean"},
		"notify_on_status_change": {"type": "boolean"},
		"notify_on_close":         {"type": "boolean"}
	}
}`

const joinConfigSchema = `{
	"type": "object",
	"required": ["required_count"],
	"properties": {
		"required_count": {"type": "integer", "minimum": 1}
	}
}`

const notificationConfigSchema = `{
	"type": "object",
	"required": ["kind"],
	"properties": {
		"kind": {"type": "string", "enum": ["creation", "closure"]}
	}
}`

const statusChangeConfigSchema = `{
	"type": "object",
	"required": ["status"],
	"properties": {
		"status": {"type": "string", "minLength": 1}
	}
}`

const assignmentConfigSchema = `{
	"type": "object",
	"required": ["assignee_id"],
	"properties": {
		"assignee_id": {"type": "string", "minLength": 1}
	}
}`

const conditionConfigSchema = `{
	"type": "object",
	"required": ["expression"],
	"properties": {
		"expression": {"type": "string", "minLength": 1}
	}
}`

var configSchemas = map[models.NodeType]*gojsonschema.Schema{}

func init() {
	raw := map[models.NodeType]string{
		models.NodeTypeBlockDirect:      blockConfigSchema,
		models.NodeTypeBlockManager:     blockConfigSchema,
		models.NodeTypeBlockValidation1: blockConfigSchema,
		models.NodeTypeBlockValidation2: blockConfigSchema,
		models.NodeTypeJoin:             joinConfigSchema,
		models.NodeTypeNotification:     notificationConfigSchema,
		models.NodeTypeStatusChange:     statusChangeConfigSchema,
		models.NodeTypeAssignment:       assignmentConfigSchema,
		models.NodeTypeCondition:        conditionConfigSchema,
	}

	for nodeType, schemaJSON := range raw {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
		if err != nil {
			panic(fmt.Sprintf("invalid embedded schema for %s: %v", nodeType, err))
		}

		configSchemas[nodeType] = schema
	}
}

// validateNodeConfig checks the node's config blob against the schema for
// its variant. Variants without a schema carry no config contract.
func validateNodeConfig(node *models.WorkflowNode) error {
	schema, ok := configSchemas[node.Type]
	if !ok {
		return nil
	}

	raw, err := json.Marshal(node.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config for node %s: %w", node.ID, err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to validate config for node %s: %w", node.ID, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return NewGraphError("validate", node.ID, fmt.Errorf("%w: %s", ErrBadNodeConfig, strings.Join(details, "; ")))
	}

	return nil
}
