package authz

import (
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DecisionCache memoizes (userID, permissionCode) decisions for a short TTL.
// It is process-local and shared by every request in the process. Entries are
// never evicted when grants change: management mutations instead force the
// affected user's sessions to be refreshed, so a different live session for
// the same account may observe a stale decision for up to one TTL. That
// staleness bound is accepted behaviour, not a bug.
type DecisionCache struct {
	store *gocache.Cache
	ttl   time.Duration
	now   func() time.Time
}

type decisionEntry struct {
	allowed   bool
	expiresAt time.Time
}

// NewDecisionCache builds a cache with the given TTL. A nil clock defaults to
// time.Now; tests inject a fake clock to drive expiry deterministically.
func NewDecisionCache(ttl time.Duration, clock func() time.Time) *DecisionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &DecisionCache{
		store: gocache.New(ttl, time.Minute),
		ttl:   ttl,
		now:   clock,
	}
}

// Get returns the cached decision and whether a live entry exists.
func (c *DecisionCache) Get(userID int64, code string) (bool, bool) {
	v, ok := c.store.Get(decisionKey(userID, code))
	if !ok {
		return false, false
	}
	entry, ok := v.(decisionEntry)
	if !ok || c.now().After(entry.expiresAt) {
		return false, false
	}
	return entry.allowed, true
}

// Set stores a decision under the configured TTL. Recomputing the same key
// yields the same value, so last-write-wins overwrites are harmless.
func (c *DecisionCache) Set(userID int64, code string, allowed bool) {
	entry := decisionEntry{allowed: allowed, expiresAt: c.now().Add(c.ttl)}
	c.store.Set(decisionKey(userID, code), entry, c.ttl)
}

// TTL exposes the configured entry lifetime.
func (c *DecisionCache) TTL() time.Duration {
	return c.ttl
}

func decisionKey(userID int64, code string) string {
	return fmt.Sprintf("permiso:%d:%s", userID, strings.ToLower(code))
}
