package products

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bodega-pos/bodega/internal/authz"
	"github.com/bodega-pos/bodega/internal/platform/httpx"
	"github.com/bodega-pos/bodega/internal/shared"
)

// Handler wires HTTP endpoints for the product catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	authz     authz.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, authz: mw, validator: validator.New()}
}

// MountRoutes registers the management routes. Each operation is gated by
// its matching PERMISO policy.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePolicy(authz.PolicyFor(shared.PermProductosVer)))
		r.Get("/", h.list)
		r.Get("/{productID}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePolicy(authz.PolicyFor(shared.PermProductosCrear)))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePolicy(authz.PolicyFor(shared.PermProductosEditar)))
		r.Put("/{productID}", h.update)
		r.Post("/{productID}/visible", h.toggleVisible)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePolicy(authz.PolicyFor(shared.PermProductosEliminar)))
		r.Delete("/{productID}", h.delete)
	})
}

// MountStoreRoutes registers the customer-facing catalog listing. No policy
// gate: the listing is filtered to visible products instead.
func (h *Handler) MountStoreRoutes(r chi.Router) {
	r.Get("/products", h.storeList)
}

type productForm struct {
	SKU         string  `json:"sku" validate:"required,max=64"`
	Name        string  `json:"name" validate:"required,max=200"`
	Description string  `json:"description" validate:"max=2000"`
	Price       float64 `json:"price" validate:"gte=0"`
	Stock       int     `json:"stock" validate:"gte=0"`
	Visible     bool    `json:"visible"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	items, pagination, err := h.service.List(r.Context(), r.URL.Query().Get("search"), page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": items, "pagination": pagination})
}

func (h *Handler) storeList(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	items, pagination, err := h.service.ListVisible(r.Context(), r.URL.Query().Get("search"), page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": items, "pagination": pagination})
}

func pageParams(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return page, perPage
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	item, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	form, ok := h.decode(w, r)
	if !ok {
		return
	}
	item, err := h.service.Create(r.Context(), form.toProduct(0))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	form, ok := h.decode(w, r)
	if !ok {
		return
	}
	item, err := h.service.Update(r.Context(), form.toProduct(id))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toggleVisible(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	visible, err := h.service.ToggleVisible(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"visible": visible})
}

func (f productForm) toProduct(id int64) Product {
	return Product{
		ID:          id,
		SKU:         f.SKU,
		Name:        f.Name,
		Description: f.Description,
		Price:       f.Price,
		Stock:       f.Stock,
		Visible:     f.Visible,
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (productForm, bool) {
	var form productForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return form, false
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return form, false
	}
	return form, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid productID")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var invalid *ValidationError
	if errors.As(err, &invalid) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", invalid.Reason)
		return
	}
	if errors.Is(err, ErrDuplicateSKU) {
		httpx.Problem(w, http.StatusConflict, "Conflict", "a product with this SKU already exists")
		return
	}
	httpx.RespondError(w, err)
}
