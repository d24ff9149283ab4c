package role

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-kyc-access/internal/domain"
)

type Service interface {
	List(ctx context.Context, userID string) ([]domain.RoleAssignment, error)
	Assign(ctx context.Context, userID, role, assignedBy string) (*domain.RoleAssignment, error)
	Revoke(ctx context.Context, userID, role, revokedBy string) error
}

type assignmentStore interface {
	Put(ctx context.Context, a *domain.RoleAssignment) error
	ListByUser(ctx context.Context, userID string) ([]domain.RoleAssignment, error)
	Delete(ctx context.Context, userID string, role domain.Role) error
}

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type service struct {
	repo  assignmentStore
	users userStore
}

func NewService(repo assignmentStore, users userStore) Service {
	return &service{repo: repo, users: users}
}

func (s *service) List(ctx context.Context, userID string) ([]domain.RoleAssignment, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *service) Assign(ctx context.Context, userID, role, assignedBy string) (*domain.RoleAssignment, error) {
	r, err := domain.ParseRole(role)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.Get(ctx, userID); err != nil {
		return nil, err
	}
	a := &domain.RoleAssignment{
		UserID:     userID,
		Role:       r,
		AssignedBy: assignedBy,
		AssignedAt: time.Now().UTC(),
	}
	if err := s.repo.Put(ctx, a); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "role assigned", "user_id", userID, "role", r, "action", "assign", "by", assignedBy)
	return a, nil
}

// Revoke refuses to drop the caller's own admin role so the last admin
// cannot lock everyone out by accident.
func (s *service) Revoke(ctx context.Context, userID, role, revokedBy string) error {
	r, err := domain.ParseRole(role)
	if err != nil {
		return err
	}
	if r == domain.RoleAdmin && userID == revokedBy {
		return fmt.Errorf("cannot revoke your own admin role: %w", domain.ErrConflict)
	}
	if err := s.repo.Delete(ctx, userID, r); err != nil {
		return err
	}
	slog.InfoContext(ctx, "role revoked", "user_id", userID, "role", r, "action", "revoke", "by", revokedBy)
	return nil
}
