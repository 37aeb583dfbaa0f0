package gate

import (
	"context"
	"fmt"

	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
)

// Resolver answers reporting-line questions against the user directory.
// The manager chain is data-driven and not guaranteed acyclic, so every
// traversal carries a visited set.
type Resolver struct {
	org persistence.OrgRepository
}

// NewResolver creates a reporting-line resolver.
func NewResolver(org persistence.OrgRepository) *Resolver {
	return &Resolver{org: org}
}

// ManagerOf returns the user's direct manager, or nil when the user has no
// manager configured.
func (r *Resolver) ManagerOf(ctx context.Context, userID string) (*models.User, error) {
	user, err := r.org.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	if user.ManagerID == "" {
		return nil, nil
	}

	manager, err := r.org.UserByID(ctx, user.ManagerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load manager %s: %w", user.ManagerID, err)
	}

	return manager, nil
}

// IsManagerOf reports whether managerID sits anywhere on userID's upward
// reporting line.
func (r *Resolver) IsManagerOf(ctx context.Context, managerID, userID string) (bool, error) {
	if managerID == "" || managerID == userID {
		return false, nil
	}

	visited := map[string]bool{userID: true}
	current := userID

	for {
		user, err := r.org.UserByID(ctx, current)
		if err != nil {
			return false, fmt.Errorf("failed to load user %s: %w", current, err)
		}

		if user.ManagerID == "" {
			return false, nil
		}

		if user.ManagerID == managerID {
			return true, nil
		}

		if visited[user.ManagerID] {
			return false, nil
		}

		visited[user.ManagerID] = true
		current = user.ManagerID
	}
}
