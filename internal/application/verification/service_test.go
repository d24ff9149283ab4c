package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-kyc-access/internal/application/verification/verificationtest"
	"github.com/go-kyc-access/internal/domain"
	"github.com/go-kyc-access/internal/pkg/otp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(t *testing.T) (*engine, *verificationtest.MemStore, *clock) {
	t.Helper()
	store := verificationtest.NewMemStore()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEngine(store, otp.NewHasher("pepper"), 30*time.Second, 5).(*engine)
	e.now = clk.now
	return e, store, clk
}

// seed stores a known code so tests can submit it.
func seed(e *engine, store *verificationtest.MemStore, subject string, purpose domain.Purpose, code string, ttl time.Duration) *domain.VerificationCode {
	now := e.now()
	rec := &domain.VerificationCode{
		CodeID:         "c-" + code + "-" + string(purpose),
		SubjectID:      subject,
		Purpose:        purpose,
		CodeHash:       e.hasher.Hash(subject, code),
		ExpiresAt:      now.Add(ttl).Unix(),
		DeliveryStatus: domain.DeliveryIssued,
		CreatedAt:      now,
	}
	_ = store.Insert(context.Background(), rec)
	return rec
}

func TestValidate_PasswordResetScenario(t *testing.T) {
	e, store, clk := newTestEngine(t)
	ctx := context.Background()
	seed(e, store, "user-1", domain.PurposePasswordReset, "123456", 10*time.Minute)

	_, err := e.Validate(ctx, "user-1", domain.PurposeSignupVerification, "123456")
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	clk.advance(11 * time.Minute)
	_, err = e.Validate(ctx, "user-1", domain.PurposePasswordReset, "123456")
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	clk.advance(-11*time.Minute + 5*time.Minute)
	rec, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "123456")
	require.NoError(t, err)
	require.NoError(t, e.Claim(ctx, rec))
	require.NoError(t, e.Consume(ctx, rec))
	assert.True(t, store.Rows[rec.CodeID].Used)
	assert.Equal(t, domain.UseReasonConsumed, store.Rows[rec.CodeID].UsedReason)

	_, err = e.Validate(ctx, "user-1", domain.PurposePasswordReset, "123456")
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestValidate_FailuresAreIndistinguishable(t *testing.T) {
	e, store, clk := newTestEngine(t)
	ctx := context.Background()
	seed(e, store, "user-1", domain.PurposePasswordReset, "111111", time.Minute)

	cases := []struct {
		name    string
		subject string
		purpose domain.Purpose
		code    string
	}{
		{"unknown code", "user-1", domain.PurposePasswordReset, "999999"},
		{"other subject", "user-2", domain.PurposePasswordReset, "111111"},
		{"wrong purpose", "user-1", domain.PurposeSignupVerification, "111111"},
		{"malformed", "user-1", domain.PurposePasswordReset, "11a111"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Validate(ctx, tc.subject, tc.purpose, tc.code)
			assert.Equal(t, domain.ErrInvalidCode, err)
		})
	}

	clk.advance(time.Minute)
	_, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "111111")
	assert.Equal(t, domain.ErrInvalidCode, err, "dead at exactly expires_at")
}

func TestValidate_StoreErrorPropagates(t *testing.T) {
	e, store, _ := newTestEngine(t)
	store.FindErr = errors.New("dynamo down")
	_, err := e.Validate(context.Background(), "user-1", domain.PurposePasswordReset, "123456")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidCode)
}

func TestIssue_SupersedesPriorCode(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Issue(ctx, "user-1", domain.PurposeSignupVerification, 30*time.Minute)
	require.NoError(t, err)
	assert.Len(t, first.Code, otp.Digits)
	assert.NotEqual(t, first.Code, first.Record.CodeHash)

	second, err := e.Issue(ctx, "user-1", domain.PurposeSignupVerification, 30*time.Minute)
	require.NoError(t, err)

	old := store.Rows[first.Record.CodeID]
	assert.True(t, old.Used)
	assert.Equal(t, domain.UseReasonSuperseded, old.UsedReason)

	if first.Code != second.Code {
		_, err = e.Validate(ctx, "user-1", domain.PurposeSignupVerification, first.Code)
		assert.ErrorIs(t, err, domain.ErrInvalidCode)
	}
	rec, err := e.Validate(ctx, "user-1", domain.PurposeSignupVerification, second.Code)
	require.NoError(t, err)
	assert.Equal(t, second.Record.CodeID, rec.CodeID)
}

func TestIssue_LeavesOtherPurposeAlone(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	reset := seed(e, store, "user-1", domain.PurposePasswordReset, "222222", 10*time.Minute)

	_, err := e.Issue(ctx, "user-1", domain.PurposeSignupVerification, 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, store.Rows[reset.CodeID].Used)
}

func TestIssue_DoesNotSupersedeClaimedCode(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	seed(e, store, "user-1", domain.PurposePasswordReset, "333333", 10*time.Minute)

	rec, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "333333")
	require.NoError(t, err)
	require.NoError(t, e.Claim(ctx, rec))

	_, err = e.Issue(ctx, "user-1", domain.PurposePasswordReset, 10*time.Minute)
	require.NoError(t, err)

	require.NoError(t, e.Consume(ctx, rec))
	assert.Equal(t, domain.UseReasonConsumed, store.Rows[rec.CodeID].UsedReason)
}

func TestIssue_RejectsBadInput(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Issue(ctx, "user-1", domain.Purpose("login"), time.Minute)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	_, err = e.Issue(ctx, "user-1", domain.PurposePasswordReset, 0)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestIssue_StoreErrorPropagates(t *testing.T) {
	e, store, _ := newTestEngine(t)
	store.ListErr = errors.New("dynamo down")
	_, err := e.Issue(context.Background(), "user-1", domain.PurposePasswordReset, time.Minute)
	require.Error(t, err)
	assert.Empty(t, store.Rows)
}

func TestClaim_SecondClaimLoses(t *testing.T) {
	e, store, clk := newTestEngine(t)
	ctx := context.Background()
	seed(e, store, "user-1", domain.PurposePasswordReset, "444444", 10*time.Minute)

	a, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "444444")
	require.NoError(t, err)
	b, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "444444")
	require.NoError(t, err)

	require.NoError(t, e.Claim(ctx, a))
	assert.ErrorIs(t, e.Claim(ctx, b), domain.ErrInvalidCode)

	// once the lease runs out the other holder may take it
	clk.advance(31 * time.Second)
	require.NoError(t, e.Claim(ctx, b))
	assert.ErrorIs(t, e.Consume(ctx, a), domain.ErrInvalidCode)
	require.NoError(t, e.Consume(ctx, b))
}

func TestRelease_LeavesCodeUsable(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	seed(e, store, "user-1", domain.PurposePasswordReset, "555555", 10*time.Minute)

	rec, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "555555")
	require.NoError(t, err)
	require.NoError(t, e.Claim(ctx, rec))
	require.NoError(t, e.Release(ctx, rec))
	assert.Empty(t, rec.ClaimToken)

	again, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "555555")
	require.NoError(t, err)
	require.NoError(t, e.Claim(ctx, again))
	require.NoError(t, e.Consume(ctx, again))
}

func TestRelease_RetiresCodeSupersededWhileClaimed(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	old := seed(e, store, "user-1", domain.PurposePasswordReset, "858585", 10*time.Minute)

	rec, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "858585")
	require.NoError(t, err)
	require.NoError(t, e.Claim(ctx, rec))

	_, err = e.Issue(ctx, "user-1", domain.PurposePasswordReset, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, store.Rows[old.CodeID].SupersededPending)
	assert.False(t, store.Rows[old.CodeID].Used)

	// the failed mutation path gives the lease back
	require.NoError(t, e.Release(ctx, rec))
	assert.True(t, store.Rows[old.CodeID].Used)
	assert.Equal(t, domain.UseReasonSuperseded, store.Rows[old.CodeID].UsedReason)

	_, err = e.Validate(ctx, "user-1", domain.PurposePasswordReset, "858585")
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestValidate_SupersededWhileClaimedIsRejected(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	seed(e, store, "user-1", domain.PurposePasswordReset, "868686", 10*time.Minute)

	rec, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "868686")
	require.NoError(t, err)
	require.NoError(t, e.Claim(ctx, rec))
	_, err = e.Issue(ctx, "user-1", domain.PurposePasswordReset, 10*time.Minute)
	require.NoError(t, err)

	_, err = e.Validate(ctx, "user-1", domain.PurposePasswordReset, "868686")
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestValidate_LocksCodeAfterMaxMisses(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	rec := seed(e, store, "user-1", domain.PurposePasswordReset, "242424", 10*time.Minute)

	for i := 0; i < e.maxAttempts; i++ {
		_, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "000000")
		require.ErrorIs(t, err, domain.ErrInvalidCode)
	}
	row := store.Rows[rec.CodeID]
	assert.True(t, row.Used)
	assert.Equal(t, domain.UseReasonLocked, row.UsedReason)
	assert.Equal(t, domain.CodeStateLocked, row.State(e.now()))

	_, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "242424")
	assert.ErrorIs(t, err, domain.ErrInvalidCode, "the real code is dead once locked")
}

func TestValidate_MissesBelowCapKeepCodeUsable(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	rec := seed(e, store, "user-1", domain.PurposePasswordReset, "252525", 10*time.Minute)
	other := seed(e, store, "user-1", domain.PurposeSignupVerification, "262626", 10*time.Minute)

	for i := 0; i < e.maxAttempts-1; i++ {
		_, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "000000")
		require.ErrorIs(t, err, domain.ErrInvalidCode)
	}
	assert.Equal(t, e.maxAttempts-1, store.Rows[rec.CodeID].Attempts)
	assert.Zero(t, store.Rows[other.CodeID].Attempts, "misses count per purpose")

	got, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "252525")
	require.NoError(t, err)
	assert.Equal(t, rec.CodeID, got.CodeID)
}

func TestConsume_FailsAfterLeaseRunsOut(t *testing.T) {
	e, store, clk := newTestEngine(t)
	ctx := context.Background()
	seed(e, store, "user-1", domain.PurposePasswordReset, "878787", 10*time.Minute)

	rec, err := e.Validate(ctx, "user-1", domain.PurposePasswordReset, "878787")
	require.NoError(t, err)
	require.NoError(t, e.Claim(ctx, rec))

	clk.advance(e.lease)
	assert.ErrorIs(t, e.Consume(ctx, rec), domain.ErrInvalidCode)
	assert.False(t, store.Rows[rec.CodeID].Used)
}

func TestConsume_RequiresClaim(t *testing.T) {
	e, store, _ := newTestEngine(t)
	rec := seed(e, store, "user-1", domain.PurposePasswordReset, "666666", 10*time.Minute)
	assert.ErrorIs(t, e.Consume(context.Background(), rec), domain.ErrInvalidCode)
	assert.False(t, store.Rows[rec.CodeID].Used)
}

func TestDeliveryTransitions(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	rec := seed(e, store, "user-1", domain.PurposeSignupVerification, "777777", 10*time.Minute)

	require.NoError(t, e.MarkDeliveryFailed(ctx, rec))
	assert.Equal(t, domain.DeliveryFailed, store.Rows[rec.CodeID].DeliveryStatus)
	require.NoError(t, e.MarkDelivered(ctx, rec))
	assert.Equal(t, domain.DeliveryDelivered, store.Rows[rec.CodeID].DeliveryStatus)

	// delivered cannot fall back to failed
	assert.ErrorIs(t, e.MarkDeliveryFailed(ctx, rec), domain.ErrConflict)
}
