package block

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
)

// ManagerResolver resolves a user's direct manager through the reporting
// line. Implemented by gate.Resolver.
type ManagerResolver interface {
	ManagerOf(ctx context.Context, userID string) (*models.User, error)
}

// Assignment is the outcome of assignee resolution. An empty AssigneeID
// means the task starts unassigned in to_assign; ManagerID names the
// manager expected to pick the assignee.
type Assignment struct {
	AssigneeID string
	ManagerID  string
}

// InitialStatus returns the status new tasks start in for this assignment.
func (a Assignment) InitialStatus() models.TaskStatus {
	if a.AssigneeID != "" {
		return models.TaskStatusTodo
	}

	return models.TaskStatusToAssign
}

// resolveAssignee applies the block's assignment policy.
//
// Direct mode: explicit target user, then first member of the target
// group, otherwise unresolved. Manager mode resolves the manager who
// will pick the assignee, not the assignee: explicit override, then the
// requester's manager, then the target department's manager. Manager
// mode tasks always start in to_assign and the manager receives the
// to-assign notice.
func (e *Engine) resolveAssignee(ctx context.Context, cfg models.BlockConfig, rc RequestContext) Assignment {
	switch cfg.AssignmentType {
	case models.AssignmentModeDirect:
		return e.resolveDirect(ctx, cfg)
	case models.AssignmentModeManager:
		return e.resolveManager(ctx, cfg, rc)
	default:
		e.logger.WarnContext(ctx, "unknown assignment mode, leaving tasks unassigned",
			"assignment_type", cfg.AssignmentType, "sub_process", cfg.SubProcessName)

		return Assignment{}
	}
}

func (e *Engine) resolveDirect(ctx context.Context, cfg models.BlockConfig) Assignment {
	if cfg.TargetAssigneeID != "" {
		return Assignment{AssigneeID: cfg.TargetAssigneeID}
	}

	if cfg.TargetGroupID != "" {
		group, err := e.org.GroupByID(ctx, cfg.TargetGroupID)
		if err != nil {
			e.logGroupLookupFailure(ctx, cfg, err)

			return Assignment{}
		}

		if len(group.MemberIDs) > 0 {
			return Assignment{AssigneeID: group.MemberIDs[0]}
		}
	}

	return Assignment{}
}

func (e *Engine) resolveManager(ctx context.Context, cfg models.BlockConfig, rc RequestContext) Assignment {
	if cfg.TargetManagerID != "" {
		return Assignment{ManagerID: cfg.TargetManagerID}
	}

	manager, err := e.resolver.ManagerOf(ctx, rc.RequesterID)
	if err == nil && manager != nil {
		return Assignment{ManagerID: manager.ID}
	}

	if err != nil && !errors.Is(err, persistence.ErrUserNotFound) {
		e.logger.WarnContext(ctx, "manager resolution failed, falling back to department",
			"requester_id", rc.RequesterID, "error", err)
	}

	departmentID := cfg.TargetDepartmentID
	if departmentID == "" {
		departmentID = rc.DepartmentID
	}

	if departmentID != "" {
		department, err := e.org.DepartmentByID(ctx, departmentID)
		if err != nil {
			e.logger.WarnContext(ctx, "department lookup failed, leaving tasks unassigned",
				"department_id", departmentID, "error", err)

			return Assignment{}
		}

		if department.ManagerID != "" {
			return Assignment{ManagerID: department.ManagerID}
		}
	}

	return Assignment{}
}

func (e *Engine) logGroupLookupFailure(ctx context.Context, cfg models.BlockConfig, err error) {
	level := slog.LevelWarn
	if errors.Is(err, persistence.ErrGroupNotFound) {
		level = slog.LevelError
	}

	e.logger.Log(ctx, level, fmt.Sprintf("group lookup failed: %v", err),
		"group_id", cfg.TargetGroupID, "sub_process", cfg.SubProcessName)
}
