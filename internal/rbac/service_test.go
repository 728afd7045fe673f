package rbac_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/bodega-pos/bodega/internal/authz"
	"github.com/bodega-pos/bodega/internal/rbac"
	"github.com/bodega-pos/bodega/internal/shared"
	_ "github.com/bodega-pos/bodega/testing"
)

// memRepo is an in-memory rbac.Repository used to exercise the guard rules
// without PostgreSQL.
type memRepo struct {
	nextRoleID int64
	nextPermID int64

	roles     map[int64]rbac.Role
	perms     map[int64]rbac.Permission
	rolePerms map[int64]map[int64]struct{}
	userRoles map[int64]map[int64]struct{}
	users     map[int64]rbac.ManagedUser
	overrides map[int64]map[int64]bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		roles:     make(map[int64]rbac.Role),
		perms:     make(map[int64]rbac.Permission),
		rolePerms: make(map[int64]map[int64]struct{}),
		userRoles: make(map[int64]map[int64]struct{}),
		users:     make(map[int64]rbac.ManagedUser),
		overrides: make(map[int64]map[int64]bool),
	}
}

func (m *memRepo) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	out := make([]rbac.Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return rbac.Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (m *memRepo) GetRoleByKey(ctx context.Context, key string) (rbac.Role, error) {
	for _, r := range m.roles {
		if r.Key == key {
			return r, nil
		}
	}
	return rbac.Role{}, shared.ErrNotFound
}

func (m *memRepo) CreateRole(ctx context.Context, key, name, description string) (rbac.Role, error) {
	for _, r := range m.roles {
		if r.Key == key || r.Name == name {
			return rbac.Role{}, rbac.ErrDuplicate
		}
	}
	m.nextRoleID++
	role := rbac.Role{ID: m.nextRoleID, Key: key, Name: name, Description: description, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.roles[role.ID] = role
	m.rolePerms[role.ID] = make(map[int64]struct{})
	return role, nil
}

func (m *memRepo) UpdateRole(ctx context.Context, id int64, name, description string) (rbac.Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return rbac.Role{}, shared.ErrNotFound
	}
	for _, other := range m.roles {
		if other.ID != id && other.Name == name {
			return rbac.Role{}, rbac.ErrDuplicate
		}
	}
	role.Name = name
	role.Description = description
	m.roles[id] = role
	return role, nil
}

func (m *memRepo) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := m.roles[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.roles, id)
	delete(m.rolePerms, id)
	return nil
}

func (m *memRepo) RoleHasMembers(ctx context.Context, id int64) (bool, error) {
	for _, assigned := range m.userRoles {
		if _, ok := assigned[id]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	out := make([]rbac.Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) CreatePermission(ctx context.Context, code, description string) (rbac.Permission, error) {
	for _, p := range m.perms {
		if strings.EqualFold(p.Code, code) {
			return rbac.Permission{}, rbac.ErrDuplicate
		}
	}
	m.nextPermID++
	perm := rbac.Permission{ID: m.nextPermID, Code: code, Description: description}
	m.perms[perm.ID] = perm
	return perm, nil
}

func (m *memRepo) PermissionByID(ctx context.Context, id int64) (rbac.Permission, error) {
	perm, ok := m.perms[id]
	if !ok {
		return rbac.Permission{}, shared.ErrNotFound
	}
	return perm, nil
}

func (m *memRepo) PermissionIDsByCodes(ctx context.Context, codes []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, code := range codes {
		for _, p := range m.perms {
			if strings.EqualFold(p.Code, code) {
				out[code] = p.ID
			}
		}
	}
	return out, nil
}

func (m *memRepo) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	var out []int64
	for id := range m.rolePerms[roleID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memRepo) ReplaceRolePermissions(ctx context.Context, roleID int64, add, remove []int64) error {
	grants := m.rolePerms[roleID]
	if grants == nil {
		grants = make(map[int64]struct{})
		m.rolePerms[roleID] = grants
	}
	for _, id := range add {
		grants[id] = struct{}{}
	}
	for _, id := range remove {
		delete(grants, id)
	}
	return nil
}

func (m *memRepo) UserRoles(ctx context.Context, userID int64) ([]rbac.Role, error) {
	var out []rbac.Role
	for id := range m.userRoles[userID] {
		out = append(out, m.roles[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) RolesByIDs(ctx context.Context, ids []int64) ([]rbac.Role, error) {
	seen := make(map[int64]struct{})
	var out []rbac.Role
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if role, ok := m.roles[id]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

func (m *memRepo) ReplaceUserRoles(ctx context.Context, userID int64, add, remove []int64) error {
	assigned := m.userRoles[userID]
	if assigned == nil {
		assigned = make(map[int64]struct{})
		m.userRoles[userID] = assigned
	}
	for _, id := range add {
		assigned[id] = struct{}{}
	}
	for _, id := range remove {
		delete(assigned, id)
	}
	return nil
}

func (m *memRepo) GetUser(ctx context.Context, id int64) (rbac.ManagedUser, error) {
	user, ok := m.users[id]
	if !ok {
		return rbac.ManagedUser{}, shared.ErrNotFound
	}
	user.RoleKeys = nil
	for roleID := range m.userRoles[id] {
		user.RoleKeys = append(user.RoleKeys, m.roles[roleID].Key)
	}
	sort.Strings(user.RoleKeys)
	return user, nil
}

func (m *memRepo) ListUsers(ctx context.Context) ([]rbac.ManagedUser, error) {
	out := make([]rbac.ManagedUser, 0, len(m.users))
	for id := range m.users {
		user, _ := m.GetUser(ctx, id)
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) SetUserActive(ctx context.Context, id int64, active bool) error {
	user, ok := m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	user.IsActive = active
	m.users[id] = user
	return nil
}

func (m *memRepo) UserOverrides(ctx context.Context, userID int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(m.overrides[userID]))
	for id, permitted := range m.overrides[userID] {
		out[id] = permitted
	}
	return out, nil
}

func (m *memRepo) UpsertOverride(ctx context.Context, userID, permissionID int64, permitted bool) error {
	if m.overrides[userID] == nil {
		m.overrides[userID] = make(map[int64]bool)
	}
	m.overrides[userID][permissionID] = permitted
	return nil
}

func (m *memRepo) DeleteOverride(ctx context.Context, userID, permissionID int64) error {
	delete(m.overrides[userID], permissionID)
	return nil
}

var _ rbac.Repository = (*memRepo)(nil)

type recordingRefresher struct {
	refreshed []int64
}

func (r *recordingRefresher) RefreshUser(ctx context.Context, userID int64) error {
	r.refreshed = append(r.refreshed, userID)
	return nil
}

type fixture struct {
	repo      *memRepo
	service   *rbac.Service
	refresher *recordingRefresher

	adminRole   rbac.Role
	clienteRole rbac.Role
	adminUser   int64
	demoUser    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := newMemRepo()
	refresher := &recordingRefresher{}
	cfg := authz.Config{
		AdminRoleKey:   "admin",
		ProtectedCodes: shared.ProtectedAdminPermissions(),
		CacheTTL:       5 * time.Minute,
	}
	service := rbac.NewService(repo, cfg, refresher, nil, nil)

	if err := service.EnsureCatalog(ctx, shared.PermissionCatalog()); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	adminRole, err := service.EnsureRole(ctx, "admin", "Administrador", "")
	if err != nil {
		t.Fatalf("seed admin role: %v", err)
	}
	clienteRole, err := service.EnsureRole(ctx, "cliente", "Cliente", "")
	if err != nil {
		t.Fatalf("seed cliente role: %v", err)
	}
	var allCodes []string
	for _, entry := range shared.PermissionCatalog() {
		allCodes = append(allCodes, entry.Code)
	}
	if err := service.GrantByCodes(ctx, adminRole.ID, allCodes); err != nil {
		t.Fatalf("grant admin: %v", err)
	}
	if err := service.GrantByCodes(ctx, clienteRole.ID, []string{shared.PermProductosVer, shared.PermPedidosCrear}); err != nil {
		t.Fatalf("grant cliente: %v", err)
	}

	repo.users[1] = rbac.ManagedUser{ID: 1, Email: "admin@test.local", Name: "Admin", IsActive: true}
	repo.users[2] = rbac.ManagedUser{ID: 2, Email: "demo@test.local", Name: "Demo", IsActive: true}
	_ = repo.ReplaceUserRoles(ctx, 1, []int64{adminRole.ID}, nil)
	_ = repo.ReplaceUserRoles(ctx, 2, []int64{clienteRole.ID}, nil)

	return &fixture{
		repo:      repo,
		service:   service,
		refresher: refresher,
		adminRole: adminRole, clienteRole: clienteRole,
		adminUser: 1, demoUser: 2,
	}
}

func (f *fixture) permID(t *testing.T, code string) int64 {
	t.Helper()
	ids, err := f.repo.PermissionIDsByCodes(context.Background(), []string{code})
	if err != nil {
		t.Fatalf("resolve %s: %v", code, err)
	}
	id, ok := ids[code]
	if !ok {
		t.Fatalf("permission %s missing from catalog", code)
	}
	return id
}

func TestAdminRoleCannotBeRenamed(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.UpdateRole(context.Background(), f.adminUser, f.adminRole.ID, "Superuser", "")
	if !rbac.IsGuard(err) {
		t.Fatalf("expected guard rejection, got %v", err)
	}

	// The description alone may change.
	updated, err := f.service.UpdateRole(context.Background(), f.adminUser, f.adminRole.ID, "Administrador", "full access")
	if err != nil {
		t.Fatalf("description edit should pass: %v", err)
	}
	if updated.Description != "full access" {
		t.Fatalf("description not applied: %q", updated.Description)
	}
}

func TestAdminRoleCannotBeDeleted(t *testing.T) {
	f := newFixture(t)

	if err := f.service.DeleteRole(context.Background(), f.adminUser, f.adminRole.ID); !rbac.IsGuard(err) {
		t.Fatalf("expected guard rejection, got %v", err)
	}
}

func TestRoleWithMembersCannotBeDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.service.DeleteRole(ctx, f.adminUser, f.clienteRole.ID); !rbac.IsGuard(err) {
		t.Fatalf("expected guard rejection while user 2 holds the role, got %v", err)
	}

	if err := f.service.SetUserRoles(ctx, f.adminUser, f.demoUser, nil); err != nil {
		t.Fatalf("clear roles: %v", err)
	}
	if err := f.service.DeleteRole(ctx, f.adminUser, f.clienteRole.ID); err != nil {
		t.Fatalf("empty role should be deletable: %v", err)
	}
}

func TestProtectedPermissionsStayOnAdminRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.service.RolePermissionIDs(ctx, f.adminRole.ID)
	if err != nil {
		t.Fatalf("read grants: %v", err)
	}

	// Submit everything except CONFIG_VER.
	protected := f.permID(t, shared.PermConfigVer)
	var submitted []int64
	for _, id := range before {
		if id != protected {
			submitted = append(submitted, id)
		}
	}
	err = f.service.SetRolePermissions(ctx, f.adminUser, f.adminRole.ID, submitted)
	if !rbac.IsGuard(err) {
		t.Fatalf("expected guard rejection, got %v", err)
	}

	after, err := f.service.RolePermissionIDs(ctx, f.adminRole.ID)
	if err != nil {
		t.Fatalf("read grants: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("rejected edit must leave grants untouched: %d != %d", len(after), len(before))
	}
}

func TestSetRolePermissionsDoesNotRefreshSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	submitted := []int64{f.permID(t, shared.PermProductosVer)}
	if err := f.service.SetRolePermissions(ctx, f.adminUser, f.clienteRole.ID, submitted); err != nil {
		t.Fatalf("set role permissions: %v", err)
	}
	if len(f.refresher.refreshed) != 0 {
		t.Fatalf("role grant edits must not force session refreshes, got %v", f.refresher.refreshed)
	}
}

func TestCannotRemoveOwnAdminRole(t *testing.T) {
	f := newFixture(t)

	err := f.service.SetUserRoles(context.Background(), f.adminUser, f.adminUser, []int64{f.clienteRole.ID})
	if !rbac.IsGuard(err) {
		t.Fatalf("expected self-lockout guard, got %v", err)
	}
}

func TestOtherAdminMayRemoveAdminRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A second administrator edits the first one.
	f.repo.users[3] = rbac.ManagedUser{ID: 3, Email: "root@test.local", Name: "Root", IsActive: true}
	_ = f.repo.ReplaceUserRoles(ctx, 3, []int64{f.adminRole.ID}, nil)

	if err := f.service.SetUserRoles(ctx, 3, f.adminUser, []int64{f.clienteRole.ID}); err != nil {
		t.Fatalf("cross-admin edit should pass: %v", err)
	}
	if len(f.refresher.refreshed) != 1 || f.refresher.refreshed[0] != f.adminUser {
		t.Fatalf("target sessions must be refreshed, got %v", f.refresher.refreshed)
	}
}

func TestSetUserRolesRejectsUnknownRole(t *testing.T) {
	f := newFixture(t)

	err := f.service.SetUserRoles(context.Background(), f.adminUser, f.demoUser, []int64{9999})
	var invalid *rbac.ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDenyOverrideOnProtectedPermissionRejectedForAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	permID := f.permID(t, shared.PermUsuariosGestionar)

	err := f.service.SetUserOverride(ctx, f.adminUser, f.adminUser, permID, authz.OverrideDeny)
	if !rbac.IsGuard(err) {
		t.Fatalf("expected guard rejection, got %v", err)
	}
	if len(f.repo.overrides[f.adminUser]) != 0 {
		t.Fatal("rejected override must not be written")
	}
}

func TestOverrideLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	permID := f.permID(t, shared.PermPedidosCrear)

	if err := f.service.SetUserOverride(ctx, f.adminUser, f.demoUser, permID, authz.OverrideDeny); err != nil {
		t.Fatalf("deny override: %v", err)
	}
	if permitted, ok := f.repo.overrides[f.demoUser][permID]; !ok || permitted {
		t.Fatal("deny override row should exist with permitted=false")
	}

	if err := f.service.SetUserOverride(ctx, f.adminUser, f.demoUser, permID, authz.OverrideInherit); err != nil {
		t.Fatalf("inherit: %v", err)
	}
	if _, ok := f.repo.overrides[f.demoUser][permID]; ok {
		t.Fatal("inherit must delete the override row")
	}

	if got := len(f.refresher.refreshed); got != 2 {
		t.Fatalf("each override change must refresh the target's sessions, got %d", got)
	}
}

func TestAdminAccountCannotBeDeactivated(t *testing.T) {
	f := newFixture(t)

	active, err := f.service.ToggleUserActive(context.Background(), f.adminUser, f.adminUser)
	if !rbac.IsGuard(err) {
		t.Fatalf("expected guard rejection, got %v", err)
	}
	if !active {
		t.Fatal("flag must remain true after the rejected toggle")
	}
}

func TestToggleUserActiveRefreshesSessions(t *testing.T) {
	f := newFixture(t)

	active, err := f.service.ToggleUserActive(context.Background(), f.adminUser, f.demoUser)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if active {
		t.Fatal("expected the account to be deactivated")
	}
	if len(f.refresher.refreshed) != 1 || f.refresher.refreshed[0] != f.demoUser {
		t.Fatalf("expected one refresh for the demo user, got %v", f.refresher.refreshed)
	}
}

func TestUserPermissionMatrix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	permID := f.permID(t, shared.PermPedidosCrear)

	if err := f.service.SetUserOverride(ctx, f.adminUser, f.demoUser, permID, authz.OverrideDeny); err != nil {
		t.Fatalf("override: %v", err)
	}

	matrix, err := f.service.UserPermissionMatrix(ctx, f.demoUser)
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	if len(matrix) != len(shared.PermissionCatalog()) {
		t.Fatalf("matrix must cover the whole catalog, got %d rows", len(matrix))
	}
	byCode := make(map[string]rbac.UserPermissionView, len(matrix))
	for _, row := range matrix {
		byCode[row.Code] = row
	}
	if row := byCode[shared.PermProductosVer]; !row.GrantedByRole || row.Override != authz.OverrideInherit {
		t.Fatalf("PRODUCTOS_VER should be role-granted without override: %+v", row)
	}
	if row := byCode[shared.PermPedidosCrear]; !row.GrantedByRole || row.Override != authz.OverrideDeny {
		t.Fatalf("PEDIDOS_CREAR should be role-granted with a deny override: %+v", row)
	}
	if row := byCode[shared.PermConfigVer]; row.GrantedByRole || row.Override != authz.OverrideInherit {
		t.Fatalf("CONFIG_VER should be ungranted for the demo user: %+v", row)
	}
}

func TestCreateRoleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.CreateRole(ctx, f.adminUser, "   ", ""); err == nil {
		t.Fatal("blank name must be rejected")
	}
	if _, err := f.service.CreateRole(ctx, f.adminUser, "Cliente", ""); err == nil {
		t.Fatal("duplicate name must be rejected")
	}
	role, err := f.service.CreateRole(ctx, f.adminUser, "Jefe de Tienda", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if role.Key != "jefe-de-tienda" {
		t.Fatalf("unexpected key %q", role.Key)
	}
}
