package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bodega-pos/bodega/internal/auth"
	"github.com/bodega-pos/bodega/internal/observability"
	"github.com/bodega-pos/bodega/internal/products"
	"github.com/bodega-pos/bodega/internal/rbac"
	"github.com/bodega-pos/bodega/internal/shared"
	"github.com/bodega-pos/bodega/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SessionManager  *shared.SessionManager
	CSRFManager     *shared.CSRFManager
	Stamps          StampValidator
	AuthHandler     *auth.Handler
	ConfigHandler   *rbac.Handler
	ProductsHandler *products.Handler
	JobsHandler     *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Stamps:         params.Stamps,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Route("/config", params.ConfigHandler.MountRoutes)
	r.Route("/products", params.ProductsHandler.MountRoutes)
	r.Route("/store", params.ProductsHandler.MountStoreRoutes)
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
