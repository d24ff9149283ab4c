package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-kyc-access/internal/domain"
)

// maxJSONBody caps every JSON request body.
const maxJSONBody = 1 << 20

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AuthEnvelope wraps login responses.
type AuthEnvelope struct {
	Success   bool         `json:"success"`
	Bearer    string       `json:"Bearer,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user,omitempty"`
}

// UserEnvelope wraps signup responses.
type UserEnvelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	User    *domain.User `json:"user,omitempty"`
}

// GrantEnvelope wraps a signed read URL.
type GrantEnvelope struct {
	Success bool                      `json:"success"`
	Grant   *domain.SignedAccessGrant `json:"grant"`
}

// UploadTargetEnvelope wraps a presigned upload target.
type UploadTargetEnvelope struct {
	Success bool                 `json:"success"`
	Upload  *domain.UploadTarget `json:"upload"`
}

type DocumentEnvelope struct {
	Success  bool             `json:"success"`
	Document *domain.Document `json:"document"`
}

type DocumentsEnvelope struct {
	Success   bool              `json:"success"`
	Documents []domain.Document `json:"documents"`
}

type RolesEnvelope struct {
	Success bool                    `json:"success"`
	Roles   []domain.RoleAssignment `json:"roles"`
}

type RoleEnvelope struct {
	Success bool                   `json:"success"`
	Role    *domain.RoleAssignment `json:"role"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// decodeJSON reads a single JSON object from the body, rejecting unknown
// fields and trailing data. Errors wrap ErrBadRequest.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", domain.ErrBadRequest)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", domain.ErrBadRequest)
	}
	return nil
}
