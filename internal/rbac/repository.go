package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bodega-pos/bodega/internal/platform/db"
	"github.com/bodega-pos/bodega/internal/shared"
)

// Repository defines persistence for roles, the permission catalog, grants
// and overrides. Replace* methods must apply their diff in one transaction.
type Repository interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByKey(ctx context.Context, key string) (Role, error)
	CreateRole(ctx context.Context, key, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	RoleHasMembers(ctx context.Context, id int64) (bool, error)

	ListPermissions(ctx context.Context) ([]Permission, error)
	CreatePermission(ctx context.Context, code, description string) (Permission, error)
	PermissionByID(ctx context.Context, id int64) (Permission, error)
	PermissionIDsByCodes(ctx context.Context, codes []string) (map[string]int64, error)

	RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, add, remove []int64) error

	UserRoles(ctx context.Context, userID int64) ([]Role, error)
	RolesByIDs(ctx context.Context, ids []int64) ([]Role, error)
	ReplaceUserRoles(ctx context.Context, userID int64, add, remove []int64) error

	GetUser(ctx context.Context, id int64) (ManagedUser, error)
	ListUsers(ctx context.Context) ([]ManagedUser, error)
	SetUserActive(ctx context.Context, id int64, active bool) error

	UserOverrides(ctx context.Context, userID int64) (map[int64]bool, error)
	UpsertOverride(ctx context.Context, userID, permissionID int64, permitted bool) error
	DeleteOverride(ctx context.Context, userID, permissionID int64) error
}

// PGRepository implements Repository over PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const roleColumns = `id, key, name, description, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Key, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// GetRoleByKey fetches a role by its stable key.
func (r *PGRepository) GetRoleByKey(ctx context.Context, key string) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE key = $1`, key))
}

// CreateRole inserts a new role. Unique violations map to ErrDuplicate.
func (r *PGRepository) CreateRole(ctx context.Context, key, name, description string) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx,
		`INSERT INTO roles (key, name, description) VALUES ($1, $2, $3) RETURNING `+roleColumns,
		key, name, description))
	if err != nil {
		return Role{}, mapUnique(err)
	}
	return role, nil
}

// UpdateRole updates name and description.
func (r *PGRepository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx,
		`UPDATE roles SET name = $2, description = $3, updated_at = NOW() WHERE id = $1 RETURNING `+roleColumns,
		id, name, description))
	if err != nil {
		return Role{}, mapUnique(err)
	}
	return role, nil
}

// DeleteRole removes a role; grants cascade at the storage layer.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RoleHasMembers reports whether any user still holds the role.
func (r *PGRepository) RoleHasMembers(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_roles WHERE role_id = $1)`, id).Scan(&exists)
	return exists, err
}

// ListPermissions returns the catalog ordered by code.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, description FROM permissions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CreatePermission inserts a catalog entry.
func (r *PGRepository) CreatePermission(ctx context.Context, code, description string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx,
		`INSERT INTO permissions (code, description) VALUES ($1, $2) RETURNING id, code, description`,
		code, description).Scan(&p.ID, &p.Code, &p.Description)
	if err != nil {
		return Permission{}, mapUnique(err)
	}
	return p, nil
}

// PermissionByID fetches one catalog entry.
func (r *PGRepository) PermissionByID(ctx context.Context, id int64) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, description FROM permissions WHERE id = $1`, id).Scan(&p.ID, &p.Code, &p.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.ErrNotFound
		}
		return Permission{}, err
	}
	return p, nil
}

// PermissionIDsByCodes resolves codes to IDs; missing codes are absent from
// the result map.
func (r *PGRepository) PermissionIDsByCodes(ctx context.Context, codes []string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT code, id FROM permissions WHERE code = ANY($1)`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64, len(codes))
	for rows.Next() {
		var code string
		var id int64
		if err := rows.Scan(&code, &id); err != nil {
			return nil, err
		}
		out[code] = id
	}
	return out, rows.Err()
}

// RolePermissionIDs lists the permission IDs granted to the role.
func (r *PGRepository) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceRolePermissions applies the grant diff atomically.
func (r *PGRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, add, remove []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, id := range add {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				roleID, id); err != nil {
				return err
			}
		}
		if len(remove) > 0 {
			if _, err := tx.Exec(ctx,
				`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = ANY($2)`,
				roleID, remove); err != nil {
				return err
			}
		}
		return nil
	})
}

// UserRoles lists the roles held by a user.
func (r *PGRepository) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.key, r.name, r.description, r.created_at, r.updated_at
		 FROM roles r JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = $1 ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// RolesByIDs fetches the given roles.
func (r *PGRepository) RolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ReplaceUserRoles applies the membership diff atomically.
func (r *PGRepository) ReplaceUserRoles(ctx context.Context, userID int64, add, remove []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, id := range add {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				userID, id); err != nil {
				return err
			}
		}
		if len(remove) > 0 {
			if _, err := tx.Exec(ctx,
				`DELETE FROM user_roles WHERE user_id = $1 AND role_id = ANY($2)`,
				userID, remove); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetUser fetches the management view of a user, role keys included.
func (r *PGRepository) GetUser(ctx context.Context, id int64) (ManagedUser, error) {
	var user ManagedUser
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, is_active FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ManagedUser{}, shared.ErrNotFound
		}
		return ManagedUser{}, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT r.key FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = $1`, id)
	if err != nil {
		return ManagedUser{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return ManagedUser{}, err
		}
		user.RoleKeys = append(user.RoleKeys, key)
	}
	return user, rows.Err()
}

// ListUsers returns every account ordered by email.
func (r *PGRepository) ListUsers(ctx context.Context) ([]ManagedUser, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.email, u.name, u.is_active, COALESCE(array_agg(r.key) FILTER (WHERE r.key IS NOT NULL), '{}')
		 FROM users u
		 LEFT JOIN user_roles ur ON ur.user_id = u.id
		 LEFT JOIN roles r ON r.id = ur.role_id
		 GROUP BY u.id ORDER BY u.email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []ManagedUser
	for rows.Next() {
		var u ManagedUser
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.RoleKeys); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserActive updates the active flag.
func (r *PGRepository) SetUserActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UserOverrides lists the user's override rows keyed by permission ID.
func (r *PGRepository) UserOverrides(ctx context.Context, userID int64) (map[int64]bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT permission_id, permitted FROM user_permissions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		var permitted bool
		if err := rows.Scan(&id, &permitted); err != nil {
			return nil, err
		}
		out[id] = permitted
	}
	return out, rows.Err()
}

// UpsertOverride writes an allow/deny override row.
func (r *PGRepository) UpsertOverride(ctx context.Context, userID, permissionID int64, permitted bool) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_permissions (user_id, permission_id, permitted) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, permission_id) DO UPDATE SET permitted = EXCLUDED.permitted`,
		userID, permissionID, permitted)
	return err
}

// DeleteOverride removes the override row; absence means inherit.
func (r *PGRepository) DeleteOverride(ctx context.Context, userID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`,
		userID, permissionID)
	return err
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
