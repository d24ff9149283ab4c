package domain

import (
	"fmt"
	"time"
)

// Role is an authorization role held by a user in the role_assignments table.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleCompliance Role = "compliance"
	RoleUser       Role = "user"
)

// ParseRole rejects anything outside the known set.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleCompliance, RoleUser:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q: %w", s, ErrBadRequest)
}

// RoleAssignment grants Role to UserID. PK: user_id, SK: role.
type RoleAssignment struct {
	UserID     string    `json:"user_id" dynamodbav:"user_id"`
	Role       Role      `json:"role" dynamodbav:"role"`
	AssignedBy string    `json:"assigned_by" dynamodbav:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at" dynamodbav:"assigned_at"`
}

// Principal is the caller identity resolved from a verified bearer token.
// It carries no roles; those are always looked up server-side.
type Principal struct {
	UserID    string
	Email     string
	SessionID string
}
