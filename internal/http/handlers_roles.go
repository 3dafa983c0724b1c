package http

import (
	"net/http"

	"github.com/dropDatabas3/gatekeeper/internal/audit"
	"github.com/dropDatabas3/gatekeeper/internal/store"
)

// RolesController administra asignaciones RBAC.
type RolesController struct {
	Store *store.Store
	Audit *audit.Recorder
}

type assignRolesRequest struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

type rolesResponse struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// Assign maneja POST /v1/roles/assign (solo admin; el gate vive en el router).
func (c *RolesController) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		WriteError(w, ErrUnauthorized)
		return
	}

	var req assignRolesRequest
	if !ReadJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Roles == nil {
		WriteError(w, ErrMissingFields.WithDetail("user_id y roles son requeridos"))
		return
	}

	roles, err := c.Store.SetRoles(r.Context(), req.UserID, req.Roles)
	if err != nil {
		WriteError(w, ErrInternal.WithCause(err))
		return
	}

	c.Audit.Event(r.Context(), "role_assign", req.UserID, map[string]any{
		"roles":       roles,
		"assigned_by": id.Sub,
	})
	WriteJSON(w, http.StatusOK, rolesResponse{UserID: req.UserID, Roles: roles})
}

// Get maneja GET /v1/roles?userId=. Consultar a otro usuario requiere admin.
func (c *RolesController) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		WriteError(w, ErrUnauthorized)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = id.Sub
	}
	if userID != id.Sub && !hasAny(id.Roles, []string{"admin"}) {
		WriteError(w, ErrForbidden.WithDetail("solo admin puede consultar roles ajenos"))
		return
	}

	roles, err := c.Store.GetRoles(r.Context(), userID)
	if err != nil {
		WriteError(w, ErrInternal.WithCause(err))
		return
	}
	if roles == nil {
		roles = []string{}
	}
	WriteJSON(w, http.StatusOK, rolesResponse{UserID: userID, Roles: roles})
}
