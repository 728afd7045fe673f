package authz_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bodega-pos/bodega/internal/authz"
	"github.com/bodega-pos/bodega/internal/shared"
	_ "github.com/bodega-pos/bodega/testing"
)

type fakeRepo struct {
	subjects  map[int64]authz.Subject
	overrides map[int64]map[string]bool
	grants    map[int64]map[string]bool
	err       error

	subjectCalls int
	grantCalls   int
}

func (f *fakeRepo) FindSubject(ctx context.Context, userID int64) (authz.Subject, error) {
	f.subjectCalls++
	if f.err != nil {
		return authz.Subject{}, f.err
	}
	sub, ok := f.subjects[userID]
	if !ok {
		return authz.Subject{}, shared.ErrNotFound
	}
	return sub, nil
}

func (f *fakeRepo) OverrideFor(ctx context.Context, userID int64, code string) (bool, bool, error) {
	if f.err != nil {
		return false, false, f.err
	}
	permitted, ok := f.overrides[userID][code]
	return permitted, ok, nil
}

func (f *fakeRepo) AnyRoleGrants(ctx context.Context, userID int64, code string) (bool, error) {
	f.grantCalls++
	if f.err != nil {
		return false, f.err
	}
	return f.grants[userID][code], nil
}

func activeUser(id int64) map[int64]authz.Subject {
	return map[int64]authz.Subject{id: {ID: id, IsActive: true}}
}

func newEngine(repo *fakeRepo, clock func() time.Time) *authz.Service {
	return authz.NewService(repo, authz.NewDecisionCache(5*time.Minute, clock), nil, nil)
}

func TestCanDeniesWithoutPrincipal(t *testing.T) {
	repo := &fakeRepo{}
	svc := newEngine(repo, nil)

	allowed, err := svc.Can(context.Background(), 0, "PRODUCTOS_VER")
	if err != nil || allowed {
		t.Fatalf("expected silent deny, got (%v, %v)", allowed, err)
	}
	allowed, err = svc.Can(context.Background(), 5, "   ")
	if err != nil || allowed {
		t.Fatalf("expected silent deny for blank code, got (%v, %v)", allowed, err)
	}
	if repo.subjectCalls != 0 {
		t.Fatal("storage must not be consulted without a principal and code")
	}
}

func TestDenyOverrideBeatsRoleGrant(t *testing.T) {
	repo := &fakeRepo{
		subjects:  activeUser(1),
		overrides: map[int64]map[string]bool{1: {"PEDIDOS_CREAR": false}},
		grants:    map[int64]map[string]bool{1: {"PEDIDOS_CREAR": true}},
	}
	svc := newEngine(repo, nil)

	allowed, err := svc.Can(context.Background(), 1, "PEDIDOS_CREAR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("deny override must beat the role grant")
	}
	if repo.grantCalls != 0 {
		t.Fatal("role grants must not be consulted when an override exists")
	}
}

func TestAllowOverrideBeatsMissingGrant(t *testing.T) {
	repo := &fakeRepo{
		subjects:  activeUser(1),
		overrides: map[int64]map[string]bool{1: {"REPORTES_VER": true}},
	}
	svc := newEngine(repo, nil)

	allowed, err := svc.Can(context.Background(), 1, "REPORTES_VER")
	if err != nil || !allowed {
		t.Fatalf("allow override must win without any role grant, got (%v, %v)", allowed, err)
	}
}

func TestRoleGrantUnion(t *testing.T) {
	repo := &fakeRepo{
		subjects: activeUser(1),
		grants:   map[int64]map[string]bool{1: {"PRODUCTOS_VER": true}},
	}
	svc := newEngine(repo, nil)

	if allowed, err := svc.Can(context.Background(), 1, "PRODUCTOS_VER"); err != nil || !allowed {
		t.Fatalf("granted code should be allowed, got (%v, %v)", allowed, err)
	}
	if allowed, err := svc.Can(context.Background(), 1, "PRODUCTOS_ELIMINAR"); err != nil || allowed {
		t.Fatalf("ungranted code should be denied, got (%v, %v)", allowed, err)
	}
}

func TestUnknownUserDeniedAndCached(t *testing.T) {
	repo := &fakeRepo{}
	svc := newEngine(repo, nil)

	for i := 0; i < 2; i++ {
		allowed, err := svc.Can(context.Background(), 99, "CONFIG_VER")
		if err != nil || allowed {
			t.Fatalf("unknown user must be denied silently, got (%v, %v)", allowed, err)
		}
	}
	if repo.subjectCalls != 1 {
		t.Fatalf("negative decision should be cached, storage hit %d times", repo.subjectCalls)
	}
}

func TestInactiveUserDenied(t *testing.T) {
	repo := &fakeRepo{
		subjects: map[int64]authz.Subject{4: {ID: 4, IsActive: false}},
		grants:   map[int64]map[string]bool{4: {"CONFIG_VER": true}},
	}
	svc := newEngine(repo, nil)

	allowed, err := svc.Can(context.Background(), 4, "CONFIG_VER")
	if err != nil || allowed {
		t.Fatalf("inactive user must be denied even with grants, got (%v, %v)", allowed, err)
	}
	if repo.grantCalls != 0 {
		t.Fatal("grants must not be consulted for inactive users")
	}
}

func TestStorageErrorSurfacesAndCachesNothing(t *testing.T) {
	repo := &fakeRepo{err: errors.New("connection refused")}
	svc := newEngine(repo, nil)

	if _, err := svc.Can(context.Background(), 1, "CONFIG_VER"); err == nil {
		t.Fatal("storage failure must surface as an error")
	}

	// Recover the backend; the failed decision must not have been cached.
	repo.err = nil
	repo.subjects = activeUser(1)
	repo.grants = map[int64]map[string]bool{1: {"CONFIG_VER": true}}

	allowed, err := svc.Can(context.Background(), 1, "CONFIG_VER")
	if err != nil || !allowed {
		t.Fatalf("expected fresh decision after recovery, got (%v, %v)", allowed, err)
	}
}

func TestDecisionCachedUntilTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	repo := &fakeRepo{
		subjects: activeUser(1),
		grants:   map[int64]map[string]bool{1: {"PRODUCTOS_VER": true}},
	}
	svc := newEngine(repo, clock.Now)

	for i := 0; i < 3; i++ {
		if allowed, err := svc.Can(context.Background(), 1, "PRODUCTOS_VER"); err != nil || !allowed {
			t.Fatalf("call %d: got (%v, %v)", i, allowed, err)
		}
	}
	if repo.subjectCalls != 1 {
		t.Fatalf("repeat calls inside the TTL should hit the cache, storage hit %d times", repo.subjectCalls)
	}

	// Grants change mid-window: the cached decision keeps serving.
	repo.grants[1]["PRODUCTOS_VER"] = false
	if allowed, _ := svc.Can(context.Background(), 1, "PRODUCTOS_VER"); !allowed {
		t.Fatal("decision inside the TTL must be served from cache")
	}

	clock.Advance(5*time.Minute + time.Second)
	allowed, err := svc.Can(context.Background(), 1, "PRODUCTOS_VER")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("expired entry must be recomputed against current grants")
	}
	if repo.subjectCalls != 2 {
		t.Fatalf("expected exactly one recomputation, storage hit %d times", repo.subjectCalls)
	}
}

type countingMetrics struct {
	cacheHits  int
	storeReads int
}

func (m *countingMetrics) AuthzDecision(allowed, fromCache bool) {
	if fromCache {
		m.cacheHits++
	} else {
		m.storeReads++
	}
}

func TestMetricsDistinguishCacheSource(t *testing.T) {
	repo := &fakeRepo{
		subjects: activeUser(1),
		grants:   map[int64]map[string]bool{1: {"CONFIG_VER": true}},
	}
	metrics := &countingMetrics{}
	svc := authz.NewService(repo, authz.NewDecisionCache(5*time.Minute, nil), nil, metrics)

	_, _ = svc.Can(context.Background(), 1, "CONFIG_VER")
	_, _ = svc.Can(context.Background(), 1, "CONFIG_VER")

	if metrics.storeReads != 1 || metrics.cacheHits != 1 {
		t.Fatalf("expected 1 store read and 1 cache hit, got %d/%d", metrics.storeReads, metrics.cacheHits)
	}
}
