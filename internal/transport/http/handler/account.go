package handler

import (
	"net/http"

	"github.com/go-kyc-access/internal/application/account"
	"github.com/go-kyc-access/internal/domain"
)

// codeSentMessage is returned whether or not the email is registered.
const codeSentMessage = "if the account exists, a code has been sent"

// AccountHandler handles signup and password reset endpoints.
type AccountHandler struct {
	svc account.Service
}

func NewAccountHandler(svc account.Service) *AccountHandler { return &AccountHandler{svc: svc} }

func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, r, err)
		return
	}
	u, err := h.svc.Register(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, UserEnvelope{Success: true, Message: "verification code sent", User: u})
}

func (h *AccountHandler) ResendSignupCode(w http.ResponseWriter, r *http.Request) {
	var req account.EmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, r, err)
		return
	}
	if err := h.svc.ResendSignupCode(r.Context(), req); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Success: true, Message: codeSentMessage})
}

func (h *AccountHandler) ConfirmSignup(w http.ResponseWriter, r *http.Request) {
	var req account.ConfirmSignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, r, err)
		return
	}
	if err := h.svc.ConfirmSignup(r.Context(), req); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Success: true, Message: "email confirmed"})
}

func (h *AccountHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req account.EmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, r, err)
		return
	}
	if err := h.svc.RequestPasswordReset(r.Context(), req); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Success: true, Message: codeSentMessage})
}

func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req account.ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, r, err)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Success: true, Message: "password updated"})
}
