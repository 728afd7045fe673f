package rbac

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

// Handler exposes the configuration/management API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	authz     authz.Middleware
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, authz: mw, validator: validator.New()}
}

// MountRoutes registers the /config management routes. Every group is gated
// by the matching PERMISO policy.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePolicy(authz.PolicyFor(shared.PermConfigVer)))
		r.Get("/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePolicy(authz.PolicyFor(shared.PermConfigGestionarRoles)))
		r.Get("/roles", h.listRoles)
		r.Post("/roles", h.createRole)
		r.Put("/roles/{roleID}", h.updateRole)
		r.Delete("/roles/{roleID}", h.deleteRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePolicy(authz.PolicyFor(shared.PermConfigGestionarPermisos)))
		r.Get("/roles/{roleID}/permissions", h.rolePermissions)
		r.Put("/roles/{roleID}/permissions", h.setRolePermissions)
		r.Get("/users/{userID}/permissions", h.userPermissions)
		r.Put("/users/{userID}/permissions/{permissionID}", h.setUserOverride)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePolicy(authz.PolicyFor(shared.PermUsuariosVer)))
		r.Get("/users", h.listUsers)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePolicy(authz.PolicyFor(shared.PermUsuariosGestionar)))
		r.Post("/users/{userID}/active", h.toggleUserActive)
		r.Get("/users/{userID}/roles", h.userRoles)
		r.Put("/users/{userID}/roles", h.setUserRoles)
	})
}

type roleForm struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type rolePermissionsForm struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required"`
}

type userRolesForm struct {
	RoleIDs []int64 `json:"role_ids" validate:"required"`
}

type overrideForm struct {
	Mode string `json:"mode" validate:"required,oneof=allow deny inherit"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var form roleForm
	if !h.decode(w, r, &form) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), h.actor(r), form.Name, form.Description)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var form roleForm
	if !h.decode(w, r, &form) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), h.actor(r), roleID, form.Name, form.Description)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), h.actor(r), roleID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	ids, err := h.service.RolePermissionIDs(r.Context(), roleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission_ids": ids})
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var form rolePermissionsForm
	if !h.decode(w, r, &form) {
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), h.actor(r), roleID, form.PermissionIDs); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) toggleUserActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	active, err := h.service.ToggleUserActive(r.Context(), h.actor(r), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"active": active})
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	roles, err := h.service.UserRoles(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) setUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	var form userRolesForm
	if !h.decode(w, r, &form) {
		return
	}
	if err := h.service.SetUserRoles(r.Context(), h.actor(r), userID, form.RoleIDs); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	matrix, err := h.service.UserPermissionMatrix(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(matrix))
	for _, row := range matrix {
		out = append(out, map[string]any{
			"permission_id":   row.PermissionID,
			"code":            row.Code,
			"description":     row.Description,
			"granted_by_role": row.GrantedByRole,
			"override":        row.Override.String(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

func (h *Handler) setUserOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	var form overrideForm
	if !h.decode(w, r, &form) {
		return
	}
	mode, err := authz.ParseOverride(form.Mode)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "mode must be allow, deny or inherit")
		return
	}
	if err := h.service.SetUserOverride(r.Context(), h.actor(r), userID, permissionID, mode); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, form any) bool {
	if err := httpx.DecodeJSON(r, form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+param)
		return 0, false
	}
	return id, true
}

func (h *Handler) actor(r *http.Request) int64 {
	id, _ := h.authz.CurrentUserID(r)
	return id
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var guard *GuardError
	if errors.As(err, &guard) {
		httpx.Problem(w, http.StatusConflict, "Guard Rejection", guard.Reason)
		return
	}
	var invalid *ValidationError
	if errors.As(err, &invalid) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", invalid.Reason)
		return
	}
	if !errors.Is(err, shared.ErrNotFound) {
		h.logger.Error("rbac operation failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
