package models

import "time"

// User is a directory entry. ManagerID points up the reporting line; the
// line is data-driven and not guaranteed acyclic, so traversals must carry
// a visited set.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"  validate:"required"`
	Email     string    `json:"email" validate:"omitempty,email"`
	ManagerID string    `json:"manager_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Group is a flat set of users used as a direct-assignment target.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name" validate:"required"`
	MemberIDs []string `json:"member_ids"`
}

// Department groups users under a managing user.
type Department struct {
	ID        string   `json:"id"`
	Name      string   `json:"name" validate:"required"`
	ManagerID string   `json:"manager_id,omitempty"`
	MemberIDs []string `json:"member_ids"`
}
