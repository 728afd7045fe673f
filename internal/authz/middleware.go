package authz

import (
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/bodega-pos/bodega/internal/shared"
)

// Middleware wires permission checks into HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequirePolicy guards a route with a PERMISO-prefixed policy name. Names
// outside the prefix fail closed: every request is rejected and the
// misconfiguration is logged once per request.
func (m Middleware) RequirePolicy(policy string) func(http.Handler) http.Handler {
	code, ok := ParsePolicy(policy)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ok {
				if m.Logger != nil {
					m.Logger.Error("authz policy without PERMISO prefix", slog.String("policy", policy))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			m.check(w, r, next, code)
		})
	}
}

// Require guards a route with a bare permission code.
func (m Middleware) Require(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.check(w, r, next, code)
		})
	}
}

func (m Middleware) check(w http.ResponseWriter, r *http.Request, next http.Handler, code string) {
	userID, ok := m.CurrentUserID(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	allowed, err := m.Service.Can(r.Context(), userID, code)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if !allowed {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	next.ServeHTTP(w, r)
}

// CurrentUserID resolves the authenticated user from the request session.
func (m Middleware) CurrentUserID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("authz parse session user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}
