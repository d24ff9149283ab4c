package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-kyc-access/internal/domain"
	"github.com/go-kyc-access/internal/pkg/id"
	"github.com/go-kyc-access/internal/pkg/metrics"
	"github.com/go-kyc-access/internal/pkg/otp"
	pkgtoken "github.com/go-kyc-access/internal/pkg/token"
)

// Issued carries the plaintext code exactly once, for the notifier.
type Issued struct {
	Record *domain.VerificationCode
	Code   string
}

type Engine interface {
	Issue(ctx context.Context, subjectID string, purpose domain.Purpose, ttl time.Duration) (*Issued, error)
	Validate(ctx context.Context, subjectID string, purpose domain.Purpose, code string) (*domain.VerificationCode, error)
	Claim(ctx context.Context, rec *domain.VerificationCode) error
	Release(ctx context.Context, rec *domain.VerificationCode) error
	Consume(ctx context.Context, rec *domain.VerificationCode) error
	MarkDelivered(ctx context.Context, rec *domain.VerificationCode) error
	MarkDeliveryFailed(ctx context.Context, rec *domain.VerificationCode) error
}

type codeStore interface {
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

type engine struct {
	store       codeStore
	hasher      *otp.Hasher
	lease       time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewEngine builds the code engine. After maxAttempts wrong submissions
// against a subject, its live codes of that purpose are locked.
func NewEngine(store codeStore, hasher *otp.Hasher, lease time.Duration, maxAttempts int) Engine {
	return &engine{store: store, hasher: hasher, lease: lease, maxAttempts: maxAttempts, now: time.Now}
}

func (e *engine) Issue(ctx context.Context, subjectID string, purpose domain.Purpose, ttl time.Duration) (*Issued, error) {
	if subjectID == "" || !purpose.Valid() {
		return nil, fmt.Errorf("subject and purpose required: %w", domain.ErrBadRequest)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("code ttl must be positive: %w", domain.ErrBadRequest)
	}
	now := e.now().UTC()
	if err := e.supersede(ctx, subjectID, purpose, now); err != nil {
		return nil, err
	}

	code, err := otp.Generate()
	if err != nil {
		return nil, err
	}
	rec := &domain.VerificationCode{
		CodeID:         id.NewAt(now),
		SubjectID:      subjectID,
		Purpose:        purpose,
		CodeHash:       e.hasher.Hash(subjectID, code),
		ExpiresAt:      now.Add(ttl).Unix(),
		DeliveryStatus: domain.DeliveryIssued,
		CreatedAt:      now,
	}
	if err := e.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("issue code: %w", err)
	}
	metrics.CodesIssued.WithLabelValues(string(purpose)).Inc()
	slog.InfoContext(ctx, "verification code issued", "user_id", subjectID, "purpose", purpose, "code_id", rec.CodeID)
	return &Issued{Record: rec, Code: code}, nil
}

// supersede retires every unused code of (subject, purpose). A code under a
// lease is marked pending instead: its holder may still consume it, and a
// release retires it.
func (e *engine) supersede(ctx context.Context, subjectID string, purpose domain.Purpose, now time.Time) error {
	prior, err := e.store.ListUnused(ctx, subjectID, purpose)
	if err != nil {
		return fmt.Errorf("list prior codes: %w", err)
	}
	for _, c := range prior {
		if err := e.retire(ctx, subjectID, c.CodeID, now); err != nil {
			return fmt.Errorf("supersede code: %w", err)
		}
	}
	return nil
}

// retire alternates between the unleased and leased paths because a lease
// can be taken or dropped between the two conditional writes. ErrConflict on
// both means the row is already used.
func (e *engine) retire(ctx context.Context, subjectID, codeID string, now time.Time) error {
	for i := 0; i < 2; i++ {
		err := e.store.MarkUsed(ctx, subjectID, codeID, domain.UseReasonSuperseded, "", now)
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		err = e.store.MarkSupersededPending(ctx, subjectID, codeID)
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}
	return nil
}

// Validate checks existence, purpose, unused, then expiry, in that order.
// Every failure is ErrInvalidCode; the reason only reaches the debug log.
// A well-formed miss counts against the subject's live codes of purpose.
func (e *engine) Validate(ctx context.Context, subjectID string, purpose domain.Purpose, code string) (*domain.VerificationCode, error) {
	if !otp.WellFormed(code) {
		return nil, e.reject(ctx, subjectID, purpose, "malformed")
	}
	matches, err := e.store.FindByHash(ctx, subjectID, e.hasher.Hash(subjectID, code))
	if err != nil {
		return nil, fmt.Errorf("validate code: %w", err)
	}

	now := e.now()
	reason := "not_found"
	if len(matches) > 0 {
		reason = "wrong_purpose"
	}
	for i := range matches {
		c := &matches[i]
		if c.Purpose != purpose {
			continue
		}
		switch {
		case c.Used:
			reason = "used"
		case c.SupersededPending:
			reason = "superseded"
		case e.maxAttempts > 0 && c.Attempts >= e.maxAttempts:
			reason = "locked"
		case c.Expired(now):
			if reason != "used" {
				reason = "expired"
			}
		default:
			metrics.CodeChecks.WithLabelValues(string(purpose), "valid").Inc()
			return c, nil
		}
	}
	if err := e.recordMiss(ctx, subjectID, purpose, now); err != nil {
		return nil, err
	}
	return nil, e.reject(ctx, subjectID, purpose, reason)
}

// recordMiss bumps the attempt counter of every live code of (subject,
// purpose) and locks those that reach the cap.
func (e *engine) recordMiss(ctx context.Context, subjectID string, purpose domain.Purpose, now time.Time) error {
	if e.maxAttempts <= 0 {
		return nil
	}
	live, err := e.store.ListUnused(ctx, subjectID, purpose)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	for _, c := range live {
		if c.Expired(now) {
			continue
		}
		n, err := e.store.RecordMiss(ctx, subjectID, c.CodeID)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
		if n < e.maxAttempts {
			continue
		}
		err = e.store.MarkUsed(ctx, subjectID, c.CodeID, domain.UseReasonLocked, "", now)
		if err != nil && !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("lock code: %w", err)
		}
		slog.InfoContext(ctx, "verification code locked", "user_id", subjectID, "purpose", purpose, "code_id", c.CodeID)
	}
	return nil
}

func (e *engine) reject(ctx context.Context, subjectID string, purpose domain.Purpose, reason string) error {
	metrics.CodeChecks.WithLabelValues(string(purpose), reason).Inc()
	slog.DebugContext(ctx, "verification code rejected", "user_id", subjectID, "purpose", purpose, "reason", reason)
	return domain.ErrInvalidCode
}

// Claim leases rec to this caller until the lease runs out; Consume must
// land before then. Losing the race to another submission reads as an
// invalid code.
func (e *engine) Claim(ctx context.Context, rec *domain.VerificationCode) error {
	tok, err := pkgtoken.NewClaimToken()
	if err != nil {
		return err
	}
	now := e.now()
	if err := e.store.Claim(ctx, rec.SubjectID, rec.CodeID, tok, now, now.Add(e.lease)); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return e.reject(ctx, rec.SubjectID, rec.Purpose, "claimed")
		}
		return fmt.Errorf("claim code: %w", err)
	}
	rec.ClaimToken = tok
	return nil
}

// Release drops the caller's lease. A code superseded while leased is
// retired here rather than becoming usable again.
func (e *engine) Release(ctx context.Context, rec *domain.VerificationCode) error {
	if rec.ClaimToken == "" {
		return nil
	}
	err := e.store.Release(ctx, rec.SubjectID, rec.CodeID, rec.ClaimToken)
	rec.ClaimToken = ""
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("release code: %w", err)
	}
	return nil
}

func (e *engine) Consume(ctx context.Context, rec *domain.VerificationCode) error {
	if rec.ClaimToken == "" {
		return fmt.Errorf("consume without claim: %w", domain.ErrInvalidCode)
	}
	now := e.now()
	err := e.store.MarkUsed(ctx, rec.SubjectID, rec.CodeID, domain.UseReasonConsumed, rec.ClaimToken, now)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return e.reject(ctx, rec.SubjectID, rec.Purpose, "lease_lost")
		}
		return fmt.Errorf("consume code: %w", err)
	}
	rec.Used = true
	rec.UsedReason = domain.UseReasonConsumed
	rec.UsedAt = &now
	rec.ClaimToken = ""
	metrics.CodeChecks.WithLabelValues(string(rec.Purpose), "consumed").Inc()
	return nil
}

func (e *engine) MarkDelivered(ctx context.Context, rec *domain.VerificationCode) error {
	return e.setDelivery(ctx, rec, domain.CodeStateDelivered, domain.DeliveryDelivered)
}

func (e *engine) MarkDeliveryFailed(ctx context.Context, rec *domain.VerificationCode) error {
	return e.setDelivery(ctx, rec, domain.CodeStateDeliveryFailed, domain.DeliveryFailed)
}

func (e *engine) setDelivery(ctx context.Context, rec *domain.VerificationCode, to domain.CodeState, status domain.DeliveryStatus) error {
	if err := rec.Transition(to, e.now()); err != nil {
		return err
	}
	if err := e.store.SetDeliveryStatus(ctx, rec.SubjectID, rec.CodeID, status); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	rec.DeliveryStatus = status
	return nil
}
