package authz

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/bodega-pos/bodega/internal/shared"
)

// Metrics receives decision outcomes. Implemented by observability.Metrics;
// a nil Metrics disables instrumentation.
type Metrics interface {
	AuthzDecision(allowed, fromCache bool)
}

// Service is the authorization decision engine. It combines per-user
// overrides with role grants, deny-by-default, memoized in the decision
// cache. The read path performs no writes beyond cache population.
type Service struct {
	repo    Repository
	cache   *DecisionCache
	logger  *slog.Logger
	metrics Metrics
	group   singleflight.Group
}

// NewService constructs the engine. The cache is required; logger and
// metrics may be nil.
func NewService(repo Repository, cache *DecisionCache, logger *slog.Logger, metrics Metrics) *Service {
	if cache == nil {
		cache = NewDecisionCache(0, nil)
	}
	return &Service{repo: repo, cache: cache, logger: logger, metrics: metrics}
}

// Can decides whether the user may perform the named permission.
//
// Authorization-normal denials (no principal, blank code, unknown or
// inactive user, missing grant) return (false, nil) and never an error;
// only storage failures and context cancellation surface as errors, and in
// that case no decision is cached.
func (s *Service) Can(ctx context.Context, userID int64, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if userID <= 0 || code == "" {
		return false, nil
	}

	if allowed, ok := s.cache.Get(userID, code); ok {
		s.record(allowed, true)
		return allowed, nil
	}

	// Collapse concurrent misses for the same key into one storage walk.
	v, err, _ := s.group.Do(decisionKey(userID, code), func() (any, error) {
		return s.decide(ctx, userID, code)
	})
	if err != nil {
		if s.logger != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("authz decision", slog.Int64("user", userID), slog.String("code", code), slog.Any("error", err))
		}
		return false, err
	}
	allowed := v.(bool)
	s.record(allowed, false)
	return allowed, nil
}

func (s *Service) decide(ctx context.Context, userID int64, code string) (bool, error) {
	sub, err := s.repo.FindSubject(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.cache.Set(userID, code, false)
			return false, nil
		}
		return false, err
	}
	if !sub.IsActive {
		s.cache.Set(userID, code, false)
		return false, nil
	}

	// Overrides beat role grants in both directions.
	if permitted, found, err := s.repo.OverrideFor(ctx, userID, code); err != nil {
		return false, err
	} else if found {
		s.cache.Set(userID, code, permitted)
		return permitted, nil
	}

	allowed, err := s.repo.AnyRoleGrants(ctx, userID, code)
	if err != nil {
		return false, err
	}
	s.cache.Set(userID, code, allowed)
	return allowed, nil
}

func (s *Service) record(allowed, fromCache bool) {
	if s.metrics != nil {
		s.metrics.AuthzDecision(allowed, fromCache)
	}
}
