package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpired_AtExactInstant(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := &VerificationCode{ExpiresAt: now.Unix()}
	assert.True(t, c.Expired(now))
	assert.False(t, c.Expired(now.Add(-time.Second)))
}

func TestState_Derivation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	live := now.Add(time.Minute).Unix()

	cases := []struct {
		name string
		code VerificationCode
		want CodeState
	}{
		{"fresh", VerificationCode{ExpiresAt: live, DeliveryStatus: DeliveryIssued}, CodeStateIssued},
		{"delivered", VerificationCode{ExpiresAt: live, DeliveryStatus: DeliveryDelivered}, CodeStateDelivered},
		{"delivery failed", VerificationCode{ExpiresAt: live, DeliveryStatus: DeliveryFailed}, CodeStateDeliveryFailed},
		{"expired", VerificationCode{ExpiresAt: now.Unix(), DeliveryStatus: DeliveryDelivered}, CodeStateExpired},
		{"consumed beats expired", VerificationCode{ExpiresAt: now.Unix(), Used: true, UsedReason: UseReasonConsumed}, CodeStateConsumed},
		{"superseded", VerificationCode{ExpiresAt: live, Used: true, UsedReason: UseReasonSuperseded}, CodeStateSuperseded},
		{"locked", VerificationCode{ExpiresAt: live, Used: true, UsedReason: UseReasonLocked}, CodeStateLocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.code.State(now))
		})
	}
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := &VerificationCode{CodeID: "c1", ExpiresAt: now.Add(time.Minute).Unix(), Used: true, UsedReason: UseReasonConsumed}

	err := c.Transition(CodeStateDelivered, now)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.True(t, CodeStateConsumed.Terminal())
	assert.True(t, CodeStateLocked.Terminal())
	assert.False(t, CodeStateDeliveryFailed.Terminal())
}

func TestTransition_DeliveryFailedCanRecover(t *testing.T) {
	assert.True(t, CanTransition(CodeStateDeliveryFailed, CodeStateDelivered))
	assert.False(t, CanTransition(CodeStateDelivered, CodeStateDeliveryFailed))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("admin")
	assert.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = ParseRole("root")
	assert.True(t, errors.Is(err, ErrBadRequest))
}
