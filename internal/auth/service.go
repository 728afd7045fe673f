package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bodega-pos/bodega/internal/shared"
)

// SessionRevoker deletes live sessions from the session store. Implemented
// by shared.SessionManager.
type SessionRevoker interface {
	Revoke(ctx context.Context, ids ...string) error
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	sessions SessionRevoker
	logger   *slog.Logger
}

// NewService constructs a new Service. sessions and logger may be nil.
func NewService(repo Repository, sessions SessionRevoker, logger *slog.Logger) *Service {
	return &Service{repo: repo, sessions: sessions, logger: logger}
}

// Authenticate validates email/password credentials. Inactive accounts fail
// with the same error as a wrong password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// GetUser fetches an account by ID.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// RefreshUser invalidates every live session of the user: the security stamp
// is rotated, session rows are dropped, and the store copies are revoked so
// the next request forces re-authentication. Called after a management change
// that alters the user's roles, overrides, or active flag.
func (s *Service) RefreshUser(ctx context.Context, userID int64) error {
	if _, err := s.repo.RotateSecurityStamp(ctx, userID); err != nil {
		return fmt.Errorf("refresh user %d: %w", userID, err)
	}

	ids, err := s.repo.SessionIDsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("refresh user %d: %w", userID, err)
	}
	if err := s.repo.DeleteSessionsForUser(ctx, userID); err != nil {
		return fmt.Errorf("refresh user %d: %w", userID, err)
	}

	if s.sessions != nil && len(ids) > 0 {
		if err := s.sessions.Revoke(ctx, ids...); err != nil {
			return fmt.Errorf("refresh user %d: revoke: %w", userID, err)
		}
	}

	if s.logger != nil {
		s.logger.Info("user sessions refreshed", slog.Int64("user", userID), slog.Int("revoked", len(ids)))
	}
	return nil
}

// ValidateStamp reports whether the stamp captured at login still matches the
// stored one. A mismatch means the session predates a security refresh.
func (s *Service) ValidateStamp(ctx context.Context, userID int64, stamp string) (bool, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if !user.IsActive {
		return false, nil
	}
	return user.SecurityStamp == stamp, nil
}

// PurgeExpiredSessions removes session rows past their expiry.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx, time.Now())
}
