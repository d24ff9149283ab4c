package handler

import (
	"net/http"

	"github.com/go-kyc-access/internal/application/session"
	"github.com/go-kyc-access/internal/pkg/validate"
)

// SessionHandler handles session endpoints.
type SessionHandler struct {
	svc session.Service
}

func NewSessionHandler(svc session.Service) *SessionHandler {
	return &SessionHandler{svc: svc}
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req session.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpError(w, r, err)
		return
	}
	result, err := h.svc.Login(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthEnvelope{
		Success:   true,
		Bearer:    result.Bearer,
		SessionID: result.SessionID,
		ExpiresAt: result.ExpiresAt,
		User:      result.User,
	})
}
