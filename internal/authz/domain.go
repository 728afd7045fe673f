package authz

import (
	"fmt"
	"strings"
	"time"
)

// PolicyPrefix marks dynamically named permission policies. A handler guarded
// by "PERMISO:PRODUCTOS_VER" requires the PRODUCTOS_VER permission.
const PolicyPrefix = "PERMISO:"

// Override is the tri-state per-user permission override. Inherit means no
// override row exists and role grants decide.
type Override int

const (
	OverrideInherit Override = iota
	OverrideAllow
	OverrideDeny
)

// String returns the wire representation used by the management API.
func (o Override) String() string {
	switch o {
	case OverrideAllow:
		return "allow"
	case OverrideDeny:
		return "deny"
	default:
		return "inherit"
	}
}

// ParseOverride maps the wire representation back to an Override.
func ParseOverride(s string) (Override, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return OverrideAllow, nil
	case "deny":
		return OverrideDeny, nil
	case "inherit":
		return OverrideInherit, nil
	}
	return OverrideInherit, fmt.Errorf("authz: unknown override mode %q", s)
}

// Subject is the decision engine's view of a user account.
type Subject struct {
	ID       int64
	IsActive bool
}

// Config carries the knobs the engine and the guard rules share. The admin
// role is distinguished by its stable key, never by display name.
type Config struct {
	AdminRoleKey   string
	ProtectedCodes []string
	CacheTTL       time.Duration
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		AdminRoleKey: "admin",
		CacheTTL:     5 * time.Minute,
	}
}

// IsProtected reports whether code belongs to the protected admin subset.
func (c Config) IsProtected(code string) bool {
	for _, p := range c.ProtectedCodes {
		if p == code {
			return true
		}
	}
	return false
}

// ParsePolicy extracts the permission code from a PERMISO-prefixed policy
// name. It returns false for names outside the prefix or with a blank code.
func ParsePolicy(name string) (string, bool) {
	if !strings.HasPrefix(name, PolicyPrefix) {
		return "", false
	}
	code := strings.TrimSpace(strings.TrimPrefix(name, PolicyPrefix))
	if code == "" {
		return "", false
	}
	return code, true
}

// PolicyFor builds the policy name for a permission code.
func PolicyFor(code string) string {
	return PolicyPrefix + code
}
