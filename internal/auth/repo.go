package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bodega-pos/bodega/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
	SessionIDsForUser(ctx context.Context, userID int64) ([]string, error)
	DeleteSessionsForUser(ctx context.Context, userID int64) error
	RotateSecurityStamp(ctx context.Context, userID int64) (string, error)
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, name, password_hash, is_active, security_stamp, created_at, updated_at`

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// FindByID fetches a user by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// CreateSession persists a login session record for auditing and revocation.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_sessions (id, user_id, created_at, expires_at, ip, ua)
		VALUES ($1, $2, now(), $3, NULLIF($4, ''), NULLIF($5, ''))
		ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		id, userID, expiresAt.UTC(), ip, ua)
	if err != nil {
		return fmt.Errorf("auth: create session: %w", err)
	}
	return nil
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("auth: delete session: %w", err)
	}
	return nil
}

// SessionIDsForUser lists the live session IDs owned by a user.
func (r *PGRepository) SessionIDsForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM user_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("auth: list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSessionsForUser removes every session record owned by a user.
func (r *PGRepository) DeleteSessionsForUser(ctx context.Context, userID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("auth: delete user sessions: %w", err)
	}
	return nil
}

// RotateSecurityStamp assigns a fresh stamp to the user and returns it.
// Sessions carrying the old stamp are no longer honored.
func (r *PGRepository) RotateSecurityStamp(ctx context.Context, userID int64) (string, error) {
	stamp := uuid.NewString()
	tag, err := r.pool.Exec(ctx, `UPDATE users SET security_stamp = $1, updated_at = now() WHERE id = $2`, stamp, userID)
	if err != nil {
		return "", fmt.Errorf("auth: rotate security stamp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", shared.ErrNotFound
	}
	return stamp, nil
}

// DeleteExpiredSessions drops session records past their expiry.
func (r *PGRepository) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("auth: purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsActive, &u.SecurityStamp, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

var _ Repository = (*PGRepository)(nil)
