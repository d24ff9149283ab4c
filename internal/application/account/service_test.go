package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kyc-access/internal/application/access"
	"github.com/go-kyc-access/internal/application/notification"
	"github.com/go-kyc-access/internal/application/verification"
	"github.com/go-kyc-access/internal/application/verification/verificationtest"
	"github.com/go-kyc-access/internal/config"
	"github.com/go-kyc-access/internal/domain"
	"github.com/go-kyc-access/internal/pkg/otp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- fakes ---

type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]*domain.User
}

func newMemUsers() *memUsers { return &memUsers{byEmail: map[string]*domain.User{}} }

func (m *memUsers) Create(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *u
	m.byEmail[u.Email] = &c
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memUsers) Update(_ context.Context, userID string, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.UserID != userID {
			continue
		}
		if v, ok := updates[fieldEmailConfirmed].(bool); ok {
			u.EmailConfirmed = v
		}
		if v, ok := updates[fieldPasswordHash].(string); ok {
			u.PasswordHash = v
		}
		return nil
	}
	return domain.ErrNotFound
}

// mockNotifier remembers the last code sent to each recipient.
type mockNotifier struct {
	mock.Mock
	last map[string]string
}

func (m *mockNotifier) Send(ctx context.Context, templateID, recipient string, params notification.Params) error {
	if m.last == nil {
		m.last = map[string]string{}
	}
	m.last[recipient] = params.Code
	return m.Called(ctx, templateID, recipient).Error(0)
}

type countThrottle struct {
	limit int
	hits  map[string]int
}

func (c *countThrottle) Allow(_ context.Context, key string) error {
	if c.hits == nil {
		c.hits = map[string]int{}
	}
	c.hits[key]++
	if c.hits[key] > c.limit {
		return domain.ErrTooManyRequests
	}
	return nil
}

type fixture struct {
	svc      Service
	users    *memUsers
	codes    *verificationtest.MemStore
	notifier *mockNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := newMemUsers()
	codes := verificationtest.NewMemStore()
	engine := verification.NewEngine(codes, otp.NewHasher("pepper"), 30*time.Second, 5)
	notifier := &mockNotifier{}
	svc := NewService(ServiceDeps{
		Users:      users,
		Engine:     engine,
		Authorizer: access.NewAuthorizer(users, nil, engine),
		Notifier:   notifier,
		Codes:      config.CodeConfig{SignupTTL: 30 * time.Minute, ResetTTL: 15 * time.Minute},
	})
	return &fixture{svc: svc, users: users, codes: codes, notifier: notifier}
}

func (f *fixture) register(t *testing.T, email string) *domain.User {
	t.Helper()
	f.notifier.On("Send", mock.Anything, notification.TemplateSignupVerification, email).Return(nil).Once()
	u, err := f.svc.Register(context.Background(), domain.RegisterRequest{Email: email, Password: "s3cretpass", FirstName: "Ana"})
	require.NoError(t, err)
	return u
}

// --- signup ---

func TestRegisterAndConfirm(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "ana@example.com")
	assert.False(t, u.EmailConfirmed)
	assert.NotEqual(t, "s3cretpass", u.PasswordHash)

	code := f.notifier.last["ana@example.com"]
	require.Len(t, code, 6)

	err := f.svc.ConfirmSignup(context.Background(), ConfirmSignupRequest{Email: "ana@example.com", Code: code})
	require.NoError(t, err)
	stored, _ := f.users.GetByEmail(context.Background(), "ana@example.com")
	assert.True(t, stored.EmailConfirmed)

	err = f.svc.ConfirmSignup(context.Background(), ConfirmSignupRequest{Email: "ana@example.com", Code: code})
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ana@example.com")
	_, err := f.svc.Register(context.Background(), domain.RegisterRequest{Email: "ANA@example.com", Password: "s3cretpass"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRegister_WeakPassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), domain.RegisterRequest{Email: "ana@example.com", Password: "password"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	assert.Empty(t, f.users.byEmail)
}

func TestRegister_DeliveryFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.notifier.On("Send", mock.Anything, mock.Anything, "ana@example.com").Return(errors.New("smtp down"))

	u, err := f.svc.Register(context.Background(), domain.RegisterRequest{Email: "ana@example.com", Password: "s3cretpass"})
	require.NoError(t, err)

	var statuses []domain.DeliveryStatus
	for _, c := range f.codes.Rows {
		if c.SubjectID == u.UserID {
			statuses = append(statuses, c.DeliveryStatus)
		}
	}
	assert.Equal(t, []domain.DeliveryStatus{domain.DeliveryFailed}, statuses)
}

func TestRegister_CodeStoreFailureRecoveredByResend(t *testing.T) {
	f := newFixture(t)
	f.codes.ListErr = errors.New("dynamo down")

	u, err := f.svc.Register(context.Background(), domain.RegisterRequest{Email: "ana@example.com", Password: "s3cretpass"})
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Empty(t, f.codes.Rows)
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)

	f.codes.ListErr = nil
	f.notifier.On("Send", mock.Anything, notification.TemplateSignupVerification, "ana@example.com").Return(nil).Once()
	require.NoError(t, f.svc.ResendSignupCode(context.Background(), EmailRequest{Email: "ana@example.com"}))
	code := f.notifier.last["ana@example.com"]
	require.NoError(t, f.svc.ConfirmSignup(context.Background(), ConfirmSignupRequest{Email: "ana@example.com", Code: code}))
}

func TestResendSignupCode_SupersedesPrevious(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ana@example.com")
	first := f.notifier.last["ana@example.com"]

	f.notifier.On("Send", mock.Anything, notification.TemplateSignupVerification, "ana@example.com").Return(nil).Once()
	require.NoError(t, f.svc.ResendSignupCode(context.Background(), EmailRequest{Email: "ana@example.com"}))
	second := f.notifier.last["ana@example.com"]

	if first != second {
		err := f.svc.ConfirmSignup(context.Background(), ConfirmSignupRequest{Email: "ana@example.com", Code: first})
		assert.ErrorIs(t, err, domain.ErrInvalidCode)
	}
	require.NoError(t, f.svc.ConfirmSignup(context.Background(), ConfirmSignupRequest{Email: "ana@example.com", Code: second}))
}

func TestResendSignupCode_UnknownOrConfirmedIsSilent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.ResendSignupCode(context.Background(), EmailRequest{Email: "ghost@example.com"}))

	f.register(t, "ana@example.com")
	require.NoError(t, f.svc.ConfirmSignup(context.Background(), ConfirmSignupRequest{Email: "ana@example.com", Code: f.notifier.last["ana@example.com"]}))
	require.NoError(t, f.svc.ResendSignupCode(context.Background(), EmailRequest{Email: "ana@example.com"}))
	f.notifier.AssertNumberOfCalls(t, "Send", 1)
}

// --- password reset ---

func TestPasswordReset(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ana@example.com")
	f.notifier.On("Send", mock.Anything, notification.TemplatePasswordReset, "ana@example.com").Return(nil)

	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), EmailRequest{Email: "ana@example.com"}))
	code := f.notifier.last["ana@example.com"]

	// a weak password is refused without burning the code
	err := f.svc.ResetPassword(context.Background(), ResetPasswordRequest{Email: "ana@example.com", Code: code, NewPassword: "short"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	require.NoError(t, f.svc.ResetPassword(context.Background(), ResetPasswordRequest{Email: "ana@example.com", Code: code, NewPassword: "n3wpassword"}))
	u, _ := f.users.GetByEmail(context.Background(), "ana@example.com")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("n3wpassword")))

	err = f.svc.ResetPassword(context.Background(), ResetPasswordRequest{Email: "ana@example.com", Code: code, NewPassword: "an0therpass"})
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestPasswordReset_SignupCodeDoesNotWork(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ana@example.com")
	signup := f.notifier.last["ana@example.com"]

	err := f.svc.ResetPassword(context.Background(), ResetPasswordRequest{Email: "ana@example.com", Code: signup, NewPassword: "n3wpassword"})
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestRequestPasswordReset_UnknownEmailSucceeds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.RequestPasswordReset(context.Background(), EmailRequest{Email: "ghost@example.com"}))
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.codes.Rows)
}

func TestRequestPasswordReset_Throttled(t *testing.T) {
	f := newFixture(t)
	f.svc.(*service).RequestThrottle = &countThrottle{limit: 2}

	for i := 0; i < 2; i++ {
		require.NoError(t, f.svc.RequestPasswordReset(context.Background(), EmailRequest{Email: "ghost@example.com"}))
	}
	err := f.svc.RequestPasswordReset(context.Background(), EmailRequest{Email: "GHOST@example.com"})
	assert.ErrorIs(t, err, domain.ErrTooManyRequests)
}

func TestConfirmSignup_BadInput(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ConfirmSignup(context.Background(), ConfirmSignupRequest{Email: "not-an-email", Code: "123456"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}
