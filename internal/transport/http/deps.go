package http

import (
	"context"
	"io"
	"time"

	"github.com/go-kyc-access/internal/domain"
	jwtinfra "github.com/go-kyc-access/internal/infrastructure/jwt"
)

// UserRepository is the minimal interface the router requires from a user store.
type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
}

// RoleAssignmentRepository is the minimal interface the router requires from a role store.
type RoleAssignmentRepository interface {
	Put(ctx context.Context, a *domain.RoleAssignment) error
	HasRole(ctx context.Context, userID string, role domain.Role) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]domain.RoleAssignment, error)
	Delete(ctx context.Context, userID string, role domain.Role) error
}

// VerificationRepository is the minimal interface the router requires from a
// verification code store. All writes are conditional.
type VerificationRepository interface {
	Insert(ctx context.Context, v *domain.VerificationCode) error
	FindByHash(ctx context.Context, subjectID, codeHash string) ([]domain.VerificationCode, error)
	ListUnused(ctx context.Context, subjectID string, purpose domain.Purpose) ([]domain.VerificationCode, error)
	Claim(ctx context.Context, subjectID, codeID, claimToken string, now, until time.Time) error
	Release(ctx context.Context, subjectID, codeID, claimToken string) error
	MarkUsed(ctx context.Context, subjectID, codeID string, reason domain.UseReason, claimToken string, now time.Time) error
	MarkSupersededPending(ctx context.Context, subjectID, codeID string) error
	RecordMiss(ctx context.Context, subjectID, codeID string) (int, error)
	SetDeliveryStatus(ctx context.Context, subjectID, codeID string, status domain.DeliveryStatus) error
}

// DocumentRepository is the minimal interface the router requires from a document metadata store.
type DocumentRepository interface {
	Put(ctx context.Context, d *domain.Document) error
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Document, error)
}

// ObjectStore is the minimal interface the router requires from an object storage backend.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (string, map[string]string, error)
	Delete(ctx context.Context, key string) error
}

// TokenProvider signs and verifies bearer tokens.
type TokenProvider interface {
	Sign(userID, email, sessionID string) (string, error)
	Verify(tokenStr string) (*jwtinfra.Claims, error)
}

// Throttle limits actions per key. Implementations must fail closed.
type Throttle interface {
	Allow(ctx context.Context, key string) error
}
