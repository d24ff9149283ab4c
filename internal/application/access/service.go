package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-kyc-access/internal/application/verification"
	"github.com/go-kyc-access/internal/domain"
)

// PrivilegedAction is a state-changing request proven by a verification code.
type PrivilegedAction struct {
	Email   string
	Purpose domain.Purpose
	Code    string
}

// Mutation runs only after the code validated and was claimed. If it
// fails the claim is released and the code stays usable.
type Mutation func(ctx context.Context, u *domain.User) error

type Authorizer interface {
	AuthorizePrivilegedAction(ctx context.Context, action PrivilegedAction, mutate Mutation) error
	AuthorizeRoleGatedRead(ctx context.Context, p domain.Principal, required ...domain.Role) error
}

type userLookup interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type roleLookup interface {
	HasRole(ctx context.Context, userID string, role domain.Role) (bool, error)
}

type authorizer struct {
	users  userLookup
	roles  roleLookup
	engine verification.Engine
}

func NewAuthorizer(users userLookup, roles roleLookup, engine verification.Engine) Authorizer {
	return &authorizer{users: users, roles: roles, engine: engine}
}

func (a *authorizer) AuthorizePrivilegedAction(ctx context.Context, action PrivilegedAction, mutate Mutation) error {
	u, err := a.users.GetByEmail(ctx, action.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// indistinguishable from a wrong code
			return domain.ErrInvalidCode
		}
		return fmt.Errorf("lookup subject: %w", err)
	}

	rec, err := a.engine.Validate(ctx, u.UserID, action.Purpose, action.Code)
	if err != nil {
		return err
	}
	if err := a.engine.Claim(ctx, rec); err != nil {
		return err
	}
	if err := mutate(ctx, u); err != nil {
		if rerr := a.engine.Release(ctx, rec); rerr != nil {
			slog.WarnContext(ctx, "release verification code", "user_id", u.UserID, "purpose", action.Purpose, "err", rerr)
		}
		return err
	}
	if err := a.engine.Consume(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "consume after mutation", "user_id", u.UserID, "purpose", action.Purpose, "err", err)
		return err
	}
	slog.InfoContext(ctx, "privileged action authorized", "user_id", u.UserID, "purpose", action.Purpose)
	return nil
}

// AuthorizeRoleGatedRead passes if the principal holds any of required.
// A lookup error or a missing assignment is ErrForbidden.
func (a *authorizer) AuthorizeRoleGatedRead(ctx context.Context, p domain.Principal, required ...domain.Role) error {
	if p.UserID == "" {
		return domain.ErrUnauthorized
	}
	var held []domain.Role
	for _, r := range required {
		ok, err := a.roles.HasRole(ctx, p.UserID, r)
		if err != nil {
			slog.WarnContext(ctx, "role lookup failed, denying", "user_id", p.UserID, "role", r, "err", err)
			return fmt.Errorf("role lookup: %w", domain.ErrForbidden)
		}
		if ok {
			held = append(held, r)
		}
	}
	for _, r := range required {
		if Allowed(held, r) {
			return nil
		}
	}
	slog.InfoContext(ctx, "role check denied", "user_id", p.UserID, "roles", required)
	return domain.ErrForbidden
}

// Allowed reports whether held contains required.
func Allowed(held []domain.Role, required domain.Role) bool {
	if required == "" {
		return false
	}
	for _, r := range held {
		if r == required {
			return true
		}
	}
	return false
}
