package authz_test

import (
	"testing"

	"github.com/bodega-pos/bodega/internal/authz"
	_ "github.com/bodega-pos/bodega/testing"
)

func TestParsePolicy(t *testing.T) {
	cases := []struct {
		name   string
		policy string
		code   string
		ok     bool
	}{
		{"plain", "PERMISO:PRODUCTOS_VER", "PRODUCTOS_VER", true},
		{"trims spaces", "PERMISO: CONFIG_VER ", "CONFIG_VER", true},
		{"missing prefix", "PRODUCTOS_VER", "", false},
		{"blank code", "PERMISO:", "", false},
		{"blank code with spaces", "PERMISO:   ", "", false},
		{"lowercase prefix rejected", "permiso:CONFIG_VER", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, ok := authz.ParsePolicy(tc.policy)
			if ok != tc.ok || code != tc.code {
				t.Fatalf("ParsePolicy(%q) = (%q, %v), want (%q, %v)", tc.policy, code, ok, tc.code, tc.ok)
			}
		})
	}
}

func TestPolicyForRoundTrips(t *testing.T) {
	policy := authz.PolicyFor("USUARIOS_GESTIONAR")
	code, ok := authz.ParsePolicy(policy)
	if !ok || code != "USUARIOS_GESTIONAR" {
		t.Fatalf("round trip failed: got (%q, %v)", code, ok)
	}
}

func TestParseOverride(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want authz.Override
	}{
		{"allow", authz.OverrideAllow},
		{"DENY", authz.OverrideDeny},
		{" inherit ", authz.OverrideInherit},
	} {
		got, err := authz.ParseOverride(tc.in)
		if err != nil {
			t.Fatalf("ParseOverride(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseOverride(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := authz.ParseOverride("maybe"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestConfigIsProtected(t *testing.T) {
	cfg := authz.Config{ProtectedCodes: []string{"CONFIG_VER", "USUARIOS_VER"}}
	if !cfg.IsProtected("CONFIG_VER") {
		t.Fatal("CONFIG_VER should be protected")
	}
	if cfg.IsProtected("PRODUCTOS_VER") {
		t.Fatal("PRODUCTOS_VER should not be protected")
	}
}
