package rbac

import (
	"time"

	"github.com/bodega-pos/bodega/internal/authz"
)

// Role represents a permission grouping. Key is the stable identifier guard
// rules compare against; Name is the renameable display label.
type Role struct {
	ID          int64
	Key         string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents one catalog entry.
type Permission struct {
	ID          int64
	Code        string
	Description string
}

// ManagedUser is the management view of a user account.
type ManagedUser struct {
	ID       int64
	Email    string
	Name     string
	IsActive bool
	RoleKeys []string
}

// UserPermissionView is one row of the per-user permission matrix: whether a
// role grants the permission and which override, if any, applies.
type UserPermissionView struct {
	PermissionID  int64
	Code          string
	Description   string
	GrantedByRole bool
	Override      authz.Override
}
