package auth_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/bodega-pos/bodega/internal/auth"
	"github.com/bodega-pos/bodega/internal/shared"
	_ "github.com/bodega-pos/bodega/testing"
)

func newLoginRouter(t *testing.T, repo auth.Repository) (http.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := auth.NewHandler(logger, auth.NewService(repo, sessionManager, nil), sessionManager, csrfManager)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessionManager.Load(req.Context(), req)
			if err != nil {
				t.Fatalf("load session: %v", err)
			}
			ctx := shared.ContextWithSession(req.Context(), sess)
			next.ServeHTTP(w, req.WithContext(ctx))
			if err := sessionManager.Commit(ctx, w, req, sess); err != nil {
				t.Fatalf("commit session: %v", err)
			}
		})
	})
	r.Route("/auth", handler.MountRoutes)
	return r, sessionManager
}

func TestLoginSuccessReturnsUserAndCSRFToken(t *testing.T) {
	repo := newStubRepo()
	seedUser(t, repo, 1, "admin@test.local", "correctpass", true)
	router, _ := newLoginRouter(t, repo)

	body := `{"email":"admin@test.local","password":"correctpass"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var payload struct {
		User struct {
			ID    int64  `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.User.ID != 1 || payload.CSRFToken == "" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if len(repo.sessions) != 1 {
		t.Fatalf("login must register the session, got %d rows", len(repo.sessions))
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	repo := newStubRepo()
	seedUser(t, repo, 1, "admin@test.local", "correctpass", true)
	router, _ := newLoginRouter(t, repo)

	body := `{"email":"admin@test.local","password":"wrongpass1"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if len(repo.sessions) != 0 {
		t.Fatal("failed login must not register a session")
	}
}

func TestLoginRejectsMalformedPayload(t *testing.T) {
	router, _ := newLoginRouter(t, newStubRepo())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestMeRequiresAuthentication(t *testing.T) {
	router, _ := newLoginRouter(t, newStubRepo())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}
