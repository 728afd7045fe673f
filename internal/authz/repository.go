package authz

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bodega-pos/bodega/internal/shared"
)

// Repository defines the read-side storage the decision engine consults.
type Repository interface {
	// FindSubject returns the user's id and active flag, or shared.ErrNotFound.
	FindSubject(ctx context.Context, userID int64) (Subject, error)
	// OverrideFor returns the override value for the exact (user, code) pair
	// and whether such a row exists.
	OverrideFor(ctx context.Context, userID int64, code string) (bool, bool, error)
	// AnyRoleGrants reports whether any of the user's roles grants the code.
	// A user with no roles grants nothing.
	AnyRoleGrants(ctx context.Context, userID int64, code string) (bool, error)
}

// PGRepository implements Repository over PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindSubject fetches the user's active flag.
func (r *PGRepository) FindSubject(ctx context.Context, userID int64) (Subject, error) {
	var sub Subject
	err := r.pool.QueryRow(ctx,
		`SELECT id, is_active FROM users WHERE id = $1`, userID,
	).Scan(&sub.ID, &sub.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, shared.ErrNotFound
		}
		return Subject{}, err
	}
	return sub, nil
}

// OverrideFor looks up the per-user override row for the permission code.
func (r *PGRepository) OverrideFor(ctx context.Context, userID int64, code string) (bool, bool, error) {
	var permitted bool
	err := r.pool.QueryRow(ctx,
		`SELECT up.permitted
		 FROM user_permissions up
		 JOIN permissions p ON p.id = up.permission_id
		 WHERE up.user_id = $1 AND p.code = $2`, userID, code,
	).Scan(&permitted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, nil
		}
		return false, false, err
	}
	return permitted, true, nil
}

// AnyRoleGrants checks the union of the user's role grants for the code.
func (r *PGRepository) AnyRoleGrants(ctx context.Context, userID int64, code string) (bool, error) {
	var granted bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1
			FROM user_roles ur
			JOIN role_permissions rp ON rp.role_id = ur.role_id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE ur.user_id = $1 AND p.code = $2
		)`, userID, code,
	).Scan(&granted)
	if err != nil {
		return false, err
	}
	return granted, nil
}

var _ Repository = (*PGRepository)(nil)
