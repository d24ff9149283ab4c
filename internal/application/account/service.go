package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-kyc-access/internal/application/access"
	"github.com/go-kyc-access/internal/application/notification"
	"github.com/go-kyc-access/internal/application/verification"
	"github.com/go-kyc-access/internal/config"
	"github.com/go-kyc-access/internal/domain"
	"github.com/go-kyc-access/internal/pkg/id"
	"github.com/go-kyc-access/internal/pkg/password"
	"github.com/go-kyc-access/internal/pkg/validate"
	"golang.org/x/crypto/bcrypt"
)

// DynamoDB attribute names used in partial update maps.
const (
	fieldEmailConfirmed = "email_confirmed"
	fieldPasswordHash   = "password_hash"
)

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ConfirmSignupRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type Service interface {
	Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error)
	ResendSignupCode(ctx context.Context, req EmailRequest) error
	ConfirmSignup(ctx context.Context, req ConfirmSignupRequest) error
	RequestPasswordReset(ctx context.Context, req EmailRequest) error
	ResetPassword(ctx context.Context, req ResetPasswordRequest) error
}

type userStore interface {
	Create(ctx context.Context, u *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
}

type throttle interface {
	Allow(ctx context.Context, key string) error
}

type ServiceDeps struct {
	Users      userStore
	Engine     verification.Engine
	Authorizer access.Authorizer
	Notifier   notification.Dispatcher
	// Nil throttles disable per-email limits.
	RequestThrottle throttle
	AttemptThrottle throttle
	Codes           config.CodeConfig
}

type service struct {
	ServiceDeps
}

func NewService(deps ServiceDeps) Service {
	return &service{ServiceDeps: deps}
}

func (s *service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if err := password.CheckStrength(req.Password); err != nil {
		return nil, err
	}
	if err := s.allow(ctx, s.RequestThrottle, req.Email); err != nil {
		return nil, err
	}

	// The email-index GSI cannot enforce uniqueness; this check narrows the
	// window but two concurrent registrations can still both pass.
	_, err := s.Users.GetByEmail(ctx, req.Email)
	switch {
	case err == nil:
		return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Users.Create(ctx, u); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "user registered", "user_id", u.UserID)

	// The account exists from here on; a code that could not be issued is
	// recovered through ResendSignupCode, not by failing the signup.
	if err := s.issueAndSend(ctx, u, domain.PurposeSignupVerification, s.Codes.SignupTTL); err != nil {
		slog.WarnContext(ctx, "signup code not issued", "user_id", u.UserID, "err", err)
	}
	return u, nil
}

// ResendSignupCode succeeds for unknown and already-confirmed emails too.
func (s *service) ResendSignupCode(ctx context.Context, req EmailRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	if err := s.allow(ctx, s.RequestThrottle, req.Email); err != nil {
		return err
	}
	u, err := s.lookup(ctx, req.Email)
	if err != nil || u == nil {
		return err
	}
	if u.EmailConfirmed {
		slog.DebugContext(ctx, "resend for confirmed user ignored", "user_id", u.UserID)
		return nil
	}
	return s.issueAndSend(ctx, u, domain.PurposeSignupVerification, s.Codes.SignupTTL)
}

func (s *service) ConfirmSignup(ctx context.Context, req ConfirmSignupRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	if err := s.allow(ctx, s.AttemptThrottle, req.Email); err != nil {
		return err
	}
	action := access.PrivilegedAction{Email: req.Email, Purpose: domain.PurposeSignupVerification, Code: req.Code}
	return s.Authorizer.AuthorizePrivilegedAction(ctx, action, func(ctx context.Context, u *domain.User) error {
		return s.Users.Update(ctx, u.UserID, map[string]interface{}{fieldEmailConfirmed: true})
	})
}

// RequestPasswordReset succeeds whether or not the email is registered.
func (s *service) RequestPasswordReset(ctx context.Context, req EmailRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	if err := s.allow(ctx, s.RequestThrottle, req.Email); err != nil {
		return err
	}
	u, err := s.lookup(ctx, req.Email)
	if err != nil || u == nil {
		return err
	}
	return s.issueAndSend(ctx, u, domain.PurposePasswordReset, s.Codes.ResetTTL)
}

// ResetPassword checks the new password before touching the code, so a weak
// password never burns it.
func (s *service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	if err := password.CheckStrength(req.NewPassword); err != nil {
		return err
	}
	if err := s.allow(ctx, s.AttemptThrottle, req.Email); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	action := access.PrivilegedAction{Email: req.Email, Purpose: domain.PurposePasswordReset, Code: req.Code}
	return s.Authorizer.AuthorizePrivilegedAction(ctx, action, func(ctx context.Context, u *domain.User) error {
		if err := s.Users.Update(ctx, u.UserID, map[string]interface{}{fieldPasswordHash: string(hash)}); err != nil {
			return err
		}
		slog.InfoContext(ctx, "password reset", "user_id", u.UserID)
		return nil
	})
}

// lookup returns (nil, nil) for an unknown email.
func (s *service) lookup(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.Users.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		slog.DebugContext(ctx, "code request for unknown email")
		return nil, nil
	}
	return u, err
}

// issueAndSend mints a code and dispatches it. A failed dispatch is recorded
// on the code but not returned; the user can ask for a resend.
func (s *service) issueAndSend(ctx context.Context, u *domain.User, purpose domain.Purpose, ttl time.Duration) error {
	iss, err := s.Engine.Issue(ctx, u.UserID, purpose, ttl)
	if err != nil {
		return err
	}
	params := notification.Params{FirstName: u.FirstName, Code: iss.Code, TTLMinutes: int(ttl / time.Minute)}
	if err := s.Notifier.Send(ctx, string(purpose), u.Email, params); err != nil {
		slog.WarnContext(ctx, "verification code not delivered", "user_id", u.UserID, "purpose", purpose, "err", err)
		if merr := s.Engine.MarkDeliveryFailed(ctx, iss.Record); merr != nil {
			slog.WarnContext(ctx, "record delivery failure", "user_id", u.UserID, "err", merr)
		}
		return nil
	}
	if err := s.Engine.MarkDelivered(ctx, iss.Record); err != nil {
		slog.WarnContext(ctx, "record delivery", "user_id", u.UserID, "err", err)
	}
	return nil
}

func (s *service) allow(ctx context.Context, t throttle, email string) error {
	if t == nil {
		return nil
	}
	return t.Allow(ctx, strings.ToLower(strings.TrimSpace(email)))
}
