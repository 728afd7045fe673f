package rbac

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/bodega-pos/bodega/internal/authz"
	"github.com/bodega-pos/bodega/internal/shared"
)

// SessionRefresher forces re-issuance of a user's sessions after a change
// that affects their authorization state. Implemented by auth.Service.
type SessionRefresher interface {
	RefreshUser(ctx context.Context, userID int64) error
}

// Service orchestrates RBAC management operations and enforces the guard
// rules that protect the administrator role from lockout or degradation.
// Guards apply only at this management boundary, never on the read path.
type Service struct {
	repo      Repository
	cfg       authz.Config
	refresher SessionRefresher
	audit     *shared.AuditLogger
	logger    *slog.Logger
}

// NewService constructs a Service. refresher, audit and logger may be nil.
func NewService(repo Repository, cfg authz.Config, refresher SessionRefresher, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, cfg: cfg, refresher: refresher, audit: audit, logger: logger}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches one role.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role with a key derived from the name.
func (s *Service) CreateRole(ctx context.Context, actorID int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, validationf("name", "role name required")
	}
	key := slugify(name)
	if key == "" {
		return Role{}, validationf("name", "role name must contain letters or digits")
	}
	role, err := s.repo.CreateRole(ctx, key, name, strings.TrimSpace(description))
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Role{}, validationf("name", "a role with that name already exists")
		}
		return Role{}, err
	}
	s.recordAudit(ctx, actorID, "rbac.role.create", "role", role.ID, nil)
	return role, nil
}

// UpdateRole renames a role or changes its description. Renaming the
// administrator role is rejected.
func (s *Service) UpdateRole(ctx context.Context, actorID, roleID int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, validationf("name", "role name required")
	}
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if role.Key == s.cfg.AdminRoleKey && name != role.Name {
		return Role{}, guardf("the administrator role cannot be renamed")
	}
	updated, err := s.repo.UpdateRole(ctx, roleID, name, strings.TrimSpace(description))
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Role{}, validationf("name", "a role with that name already exists")
		}
		return Role{}, err
	}
	s.recordAudit(ctx, actorID, "rbac.role.update", "role", roleID, nil)
	return updated, nil
}

// DeleteRole removes a role. The administrator role and roles with members
// cannot be deleted.
func (s *Service) DeleteRole(ctx context.Context, actorID, roleID int64) error {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Key == s.cfg.AdminRoleKey {
		return guardf("the administrator role cannot be deleted")
	}
	hasMembers, err := s.repo.RoleHasMembers(ctx, roleID)
	if err != nil {
		return err
	}
	if hasMembers {
		return guardf("cannot delete role %q while users are still assigned to it", role.Name)
	}
	if err := s.repo.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "rbac.role.delete", "role", roleID, map[string]any{"name": role.Name})
	return nil
}

// ListPermissions returns the catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// RolePermissionIDs lists the permission IDs granted to a role.
func (s *Service) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.repo.RolePermissionIDs(ctx, roleID)
}

// SetRolePermissions replaces a role's grants with the submitted set. For
// the administrator role the submission must keep every protected
// permission; otherwise the whole edit is rejected and grants stay as they
// were. Existing cached decisions are not evicted; they age out within the
// cache TTL.
func (s *Service) SetRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}

	selected := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		selected[id] = struct{}{}
	}

	if role.Key == s.cfg.AdminRoleKey {
		protected, err := s.repo.PermissionIDsByCodes(ctx, s.cfg.ProtectedCodes)
		if err != nil {
			return err
		}
		for code, id := range protected {
			if _, ok := selected[id]; !ok {
				return guardf("the administrator role must keep its protected permission %s", code)
			}
		}
	}

	current, err := s.repo.RolePermissionIDs(ctx, roleID)
	if err != nil {
		return err
	}
	existing := make(map[int64]struct{}, len(current))
	for _, id := range current {
		existing[id] = struct{}{}
	}

	var add, remove []int64
	for id := range selected {
		if _, ok := existing[id]; !ok {
			add = append(add, id)
		}
	}
	for _, id := range current {
		if _, ok := selected[id]; !ok {
			remove = append(remove, id)
		}
	}
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	if err := s.repo.ReplaceRolePermissions(ctx, roleID, add, remove); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "rbac.role.permissions", "role", roleID,
		map[string]any{"added": len(add), "removed": len(remove)})
	return nil
}

// UserRoles lists the roles held by a user.
func (s *Service) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.UserRoles(ctx, userID)
}

// SetUserRoles replaces a user's role memberships. An administrator editing
// their own assignment cannot drop the administrator role. On success the
// target's sessions are refreshed so stale claims cannot outlive the change.
func (s *Service) SetUserRoles(ctx context.Context, actorID, userID int64, roleIDs []int64) error {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return err
	}
	current, err := s.repo.UserRoles(ctx, userID)
	if err != nil {
		return err
	}
	selectedRoles, err := s.repo.RolesByIDs(ctx, roleIDs)
	if err != nil {
		return err
	}
	if len(selectedRoles) != len(uniqueIDs(roleIDs)) {
		return validationf("roles", "one or more submitted roles do not exist")
	}

	if actorID == userID && hasKey(current, s.cfg.AdminRoleKey) && !hasKey(selectedRoles, s.cfg.AdminRoleKey) {
		return guardf("cannot remove your own administrator role")
	}

	currentIDs := make(map[int64]struct{}, len(current))
	for _, role := range current {
		currentIDs[role.ID] = struct{}{}
	}
	selectedIDs := make(map[int64]struct{}, len(selectedRoles))
	for _, role := range selectedRoles {
		selectedIDs[role.ID] = struct{}{}
	}

	var add, remove []int64
	for id := range selectedIDs {
		if _, ok := currentIDs[id]; !ok {
			add = append(add, id)
		}
	}
	for id := range currentIDs {
		if _, ok := selectedIDs[id]; !ok {
			remove = append(remove, id)
		}
	}
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	if err := s.repo.ReplaceUserRoles(ctx, userID, add, remove); err != nil {
		return err
	}
	s.refreshSessions(ctx, userID)
	s.recordAudit(ctx, actorID, "rbac.user.roles", "user", userID,
		map[string]any{"added": len(add), "removed": len(remove)})
	return nil
}

// SetUserOverride applies an allow/deny/inherit override for one permission.
// Inherit deletes the row. Denying a protected permission to a user who
// holds the administrator role is rejected. The target's sessions are
// refreshed afterwards.
func (s *Service) SetUserOverride(ctx context.Context, actorID, userID, permissionID int64, mode authz.Override) error {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	perm, err := s.repo.PermissionByID(ctx, permissionID)
	if err != nil {
		return err
	}

	if mode == authz.OverrideDeny &&
		slices.Contains(user.RoleKeys, s.cfg.AdminRoleKey) &&
		s.cfg.IsProtected(perm.Code) {
		return guardf("cannot deny protected permission %s to an administrator", perm.Code)
	}

	switch mode {
	case authz.OverrideInherit:
		if err := s.repo.DeleteOverride(ctx, userID, permissionID); err != nil {
			return err
		}
	default:
		if err := s.repo.UpsertOverride(ctx, userID, permissionID, mode == authz.OverrideAllow); err != nil {
			return err
		}
	}
	s.refreshSessions(ctx, userID)
	s.recordAudit(ctx, actorID, "rbac.user.override", "user", userID,
		map[string]any{"permission": perm.Code, "mode": mode.String()})
	return nil
}

// ToggleUserActive flips a user's active flag. Accounts holding the
// administrator role cannot be deactivated through this operation.
func (s *Service) ToggleUserActive(ctx context.Context, actorID, userID int64) (bool, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if slices.Contains(user.RoleKeys, s.cfg.AdminRoleKey) {
		return user.IsActive, guardf("cannot deactivate an administrator account")
	}
	next := !user.IsActive
	if err := s.repo.SetUserActive(ctx, userID, next); err != nil {
		return user.IsActive, err
	}
	s.refreshSessions(ctx, userID)
	s.recordAudit(ctx, actorID, "rbac.user.active", "user", userID, map[string]any{"active": next})
	return next, nil
}

// ListUsers returns the management view of every account.
func (s *Service) ListUsers(ctx context.Context) ([]ManagedUser, error) {
	return s.repo.ListUsers(ctx)
}

// UserPermissionMatrix assembles the per-user view: for every catalog entry,
// whether a role grants it and which override applies.
func (s *Service) UserPermissionMatrix(ctx context.Context, userID int64) ([]UserPermissionView, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	roles, err := s.repo.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	granted := make(map[int64]struct{})
	for _, role := range roles {
		ids, err := s.repo.RolePermissionIDs(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			granted[id] = struct{}{}
		}
	}
	overrides, err := s.repo.UserOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]UserPermissionView, 0, len(perms))
	for _, p := range perms {
		view := UserPermissionView{
			PermissionID: p.ID,
			Code:         p.Code,
			Description:  p.Description,
			Override:     authz.OverrideInherit,
		}
		if _, ok := granted[p.ID]; ok {
			view.GrantedByRole = true
		}
		if permitted, ok := overrides[p.ID]; ok {
			if permitted {
				view.Override = authz.OverrideAllow
			} else {
				view.Override = authz.OverrideDeny
			}
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Service) refreshSessions(ctx context.Context, userID int64) {
	if s.refresher == nil {
		return
	}
	if err := s.refresher.RefreshUser(ctx, userID); err != nil && s.logger != nil {
		s.logger.Warn("refresh user sessions", slog.Int64("user", userID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: entityID, Meta: meta}
	if err := s.audit.Record(ctx, log); err != nil && s.logger != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func hasKey(roles []Role, key string) bool {
	for _, role := range roles {
		if role.Key == key {
			return true
		}
	}
	return false
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
