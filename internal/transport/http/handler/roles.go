package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-kyc-access/internal/application/role"
	"github.com/go-kyc-access/internal/transport/http/middleware"
)

// RoleHandler handles role assignment endpoints (all admin-only).
type RoleHandler struct {
	svc role.Service
}

func NewRoleHandler(svc role.Service) *RoleHandler { return &RoleHandler{svc: svc} }

func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RolesEnvelope{Success: true, Roles: roles})
}

func (h *RoleHandler) Assign(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	a, err := h.svc.Assign(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "role"), p.UserID)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RoleEnvelope{Success: true, Role: a})
}

func (h *RoleHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.Revoke(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "role"), p.UserID); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Success: true, Message: "role revoked"})
}
