package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-kyc-access/internal/domain"
	"github.com/go-kyc-access/internal/pkg/id"
	"golang.org/x/crypto/bcrypt"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResult struct {
	Bearer    string       `json:"bearer"`
	SessionID string       `json:"session_id"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

type Service interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type jwtSigner interface {
	Sign(userID, email, sessionID string) (string, error)
}

type ServiceDeps struct {
	UserRepo    userStore
	JWTProvider jwtSigner
	TokenExpiry time.Duration
}

type service struct {
	userRepo    userStore
	jwtProvider jwtSigner
	expiry      time.Duration
}

func NewService(deps ServiceDeps) Service {
	return &service{userRepo: deps.UserRepo, jwtProvider: deps.JWTProvider, expiry: deps.TokenExpiry}
}

// dummyHash keeps the unknown-email path as slow as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	u, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		slog.InfoContext(ctx, "login failed", "user_id", u.UserID)
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	if !u.EmailConfirmed {
		return nil, fmt.Errorf("email not confirmed: %w", domain.ErrForbidden)
	}

	sessionID := id.New()
	bearer, err := s.jwtProvider.Sign(u.UserID, u.Email, sessionID)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "login", "user_id", u.UserID, "session_id", sessionID)
	return &LoginResult{
		Bearer:    bearer,
		SessionID: sessionID,
		ExpiresAt: time.Now().UTC().Add(s.expiry),
		User:      u,
	}, nil
}
