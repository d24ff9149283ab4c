package domain

import (
	"fmt"
	"time"
)

// Purpose scopes a verification code to exactly one kind of action.
type Purpose string

const (
	PurposeSignupVerification Purpose = "signup_verification"
	PurposePasswordReset      Purpose = "password_reset"
)

func (p Purpose) Valid() bool {
	return p == PurposeSignupVerification || p == PurposePasswordReset
}

// UseReason records why a code left the unused state.
type UseReason string

const (
	UseReasonConsumed   UseReason = "consumed"
	UseReasonSuperseded UseReason = "superseded"
	UseReasonLocked     UseReason = "locked"
)

// DeliveryStatus tracks the outcome of handing the code to the notification channel.
type DeliveryStatus string

const (
	DeliveryIssued    DeliveryStatus = "issued"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "delivery_failed"
)

// VerificationCode is a single-use secret bound to (subject, purpose, expiry).
// PK: subject_id, SK: code_id. Only the keyed hash of the code is stored.
// Rows are never deleted; once Used is true the row is inert.
type VerificationCode struct {
	CodeID         string         `json:"id" dynamodbav:"code_id"`
	SubjectID      string         `json:"subject_id" dynamodbav:"subject_id"`
	Purpose        Purpose        `json:"purpose" dynamodbav:"purpose"`
	CodeHash       string         `json:"-" dynamodbav:"code_hash"`
	ExpiresAt      int64          `json:"expires_at" dynamodbav:"expires_at"` // Unix seconds
	Used           bool           `json:"used" dynamodbav:"used"`
	UsedAt         *time.Time     `json:"used_at,omitempty" dynamodbav:"used_at,omitempty"`
	UsedReason     UseReason      `json:"used_reason,omitempty" dynamodbav:"used_reason,omitempty"`
	DeliveryStatus DeliveryStatus `json:"delivery_status" dynamodbav:"delivery_status"`
	ClaimToken     string         `json:"-" dynamodbav:"claim_token,omitempty"`
	ClaimExpiresAt int64          `json:"-" dynamodbav:"claim_expires_at,omitempty"`
	// Attempts counts wrong submissions against the subject while this code was live.
	Attempts int `json:"-" dynamodbav:"attempts"`
	// SupersededPending marks a code superseded while leased. The lease
	// holder may still consume it; releasing it retires it instead.
	SupersededPending bool      `json:"-" dynamodbav:"superseded_pending,omitempty"`
	CreatedAt         time.Time `json:"created" dynamodbav:"created_at"`
}

// Expired reports whether the code is unusable at now. A code is dead at
// exactly ExpiresAt, not one second later.
func (c *VerificationCode) Expired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// CodeState is the lifecycle position of a code:
// Issued -> (Delivered | DeliveryFailed) -> Consumed | Superseded | Locked | Expired.
type CodeState string

const (
	CodeStateIssued         CodeState = "issued"
	CodeStateDelivered      CodeState = "delivered"
	CodeStateDeliveryFailed CodeState = "delivery_failed"
	CodeStateConsumed       CodeState = "consumed"
	CodeStateSuperseded     CodeState = "superseded"
	CodeStateLocked         CodeState = "locked"
	CodeStateExpired        CodeState = "expired"
)

// Terminal reports whether no further transition is possible.
func (s CodeState) Terminal() bool {
	switch s {
	case CodeStateConsumed, CodeStateSuperseded, CodeStateLocked, CodeStateExpired:
		return true
	}
	return false
}

// State derives the lifecycle state of the row at now.
func (c *VerificationCode) State(now time.Time) CodeState {
	if c.Used {
		switch c.UsedReason {
		case UseReasonSuperseded:
			return CodeStateSuperseded
		case UseReasonLocked:
			return CodeStateLocked
		}
		return CodeStateConsumed
	}
	if c.Expired(now) {
		return CodeStateExpired
	}
	switch c.DeliveryStatus {
	case DeliveryDelivered:
		return CodeStateDelivered
	case DeliveryFailed:
		return CodeStateDeliveryFailed
	}
	return CodeStateIssued
}

var codeTransitions = map[CodeState][]CodeState{
	CodeStateIssued:         {CodeStateDelivered, CodeStateDeliveryFailed, CodeStateConsumed, CodeStateSuperseded, CodeStateLocked, CodeStateExpired},
	CodeStateDelivered:      {CodeStateConsumed, CodeStateSuperseded, CodeStateLocked, CodeStateExpired},
	CodeStateDeliveryFailed: {CodeStateDelivered, CodeStateConsumed, CodeStateSuperseded, CodeStateLocked, CodeStateExpired},
}

// CanTransition reports whether moving from one state to another is allowed.
// A failed delivery may later succeed (resend on the same row).
func CanTransition(from, to CodeState) bool {
	for _, s := range codeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition returns an error wrapping ErrConflict when the move is illegal.
func (c *VerificationCode) Transition(to CodeState, now time.Time) error {
	from := c.State(now)
	if !CanTransition(from, to) {
		return fmt.Errorf("code %s: %s -> %s: %w", c.CodeID, from, to, ErrConflict)
	}
	return nil
}
