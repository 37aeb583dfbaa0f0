package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseflow/caseflow/pkg/models"
	"github.com/caseflow/caseflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// OrgRepository handles the directory entities assignment resolution
// reads from: users, groups and departments.
type OrgRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewOrgRepository creates a new org repository.
func NewOrgRepository(db *sql.DB, logger *slog.Logger) *OrgRepository {
	return &OrgRepository{db: db, logger: logger}
}

func (r *OrgRepository) UserByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, name, email, COALESCE(manager_id, ''), created_at
		FROM users
		WHERE id = $1
	`

	var user models.User

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Name, &user.Email, &user.ManagerID, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrUserNotFound
		}

		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	return &user, nil
}

func (r *OrgRepository) GroupByID(ctx context.Context, id string) (*models.Group, error) {
	query := `SELECT id, name, member_ids FROM groups WHERE id = $1`

	var group models.Group

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&group.ID, &group.Name, pq.Array(&group.MemberIDs),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrGroupNotFound
		}

		return nil, fmt.Errorf("failed to scan group: %w", err)
	}

	return &group, nil
}

func (r *OrgRepository) DepartmentByID(ctx context.Context, id string) (*models.Department, error) {
	query := `SELECT id, name, COALESCE(manager_id, ''), member_ids FROM departments WHERE id = $1`

	var department models.Department

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&department.ID, &department.Name, &department.ManagerID, pq.Array(&department.MemberIDs),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrDepartmentNotFound
		}

		return nil, fmt.Errorf("failed to scan department: %w", err)
	}

	return &department, nil
}

func (r *OrgRepository) SaveUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate user ID: %w", err)
		}

		user.ID = id.String()
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (id, name, email, manager_id, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			manager_id = EXCLUDED.manager_id
	`

	_, err := r.db.ExecContext(ctx, query, user.ID, user.Name, user.Email, user.ManagerID, user.CreatedAt)
	if err != nil {
		return persistence.NewStoreError("SaveUser", "user", user.ID, err)
	}

	return nil
}

func (r *OrgRepository) SaveGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate group ID: %w", err)
		}

		group.ID = id.String()
	}

	query := `
		INSERT INTO groups (id, name, member_ids)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			member_ids = EXCLUDED.member_ids
	`

	_, err := r.db.ExecContext(ctx, query, group.ID, group.Name, pq.Array(group.MemberIDs))
	if err != nil {
		return persistence.NewStoreError("SaveGroup", "group", group.ID, err)
	}

	return nil
}

func (r *OrgRepository) SaveDepartment(ctx context.Context, department *models.Department) error {
	if department.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate department ID: %w", err)
		}

		department.ID = id.String()
	}

	query := `
		INSERT INTO departments (id, name, manager_id, member_ids)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			manager_id = EXCLUDED.manager_id,
			member_ids = EXCLUDED.member_ids
	`

	_, err := r.db.ExecContext(ctx, query, department.ID, department.Name, department.ManagerID, pq.Array(department.MemberIDs))
	if err != nil {
		return persistence.NewStoreError("SaveDepartment", "department", department.ID, err)
	}

	return nil
}
