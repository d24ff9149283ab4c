// Package verificationtest provides an in-memory verification code store for tests.
package verificationtest

import (
	"context"
	"sync"
	"time"

	"github.com/go-kyc-access/internal/domain"
)

// MemStore is an in-memory code store with the same conditional-update
// semantics as dynamo.VerificationRepo.
type MemStore struct {
	mu      sync.Mutex
	Rows    map[string]*domain.VerificationCode
	ListErr error // returned by ListUnused when set
	FindErr error // returned by FindByHash when set
}

func NewMemStore() *MemStore {
	return &MemStore{Rows: map[string]*domain.VerificationCode{}}
}

func (m *MemStore) Insert(_ context.Context, v *domain.VerificationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Rows[v.CodeID]; ok {
		return domain.ErrConflict
	}
	c := *v
	m.Rows[v.CodeID] = &c
	return nil
}

func (m *MemStore) FindByHash(_ context.Context, subjectID, codeHash string) ([]domain.VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	var out []domain.VerificationCode
	for _, c := range m.Rows {
		if c.SubjectID == subjectID && c.CodeHash == codeHash {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MemStore) ListUnused(_ context.Context, subjectID string, purpose domain.Purpose) ([]domain.VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []domain.VerificationCode
	for _, c := range m.Rows {
		if c.SubjectID == subjectID && c.Purpose == purpose && !c.Used {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MemStore) Claim(_ context.Context, _, codeID, tok string, now, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Rows[codeID]
	if !ok || c.Used || c.SupersededPending || c.ExpiresAt <= now.Unix() || (c.ClaimExpiresAt != 0 && c.ClaimExpiresAt > now.Unix()) {
		return domain.ErrConflict
	}
	c.ClaimToken, c.ClaimExpiresAt = tok, until.Unix()
	return nil
}

func (m *MemStore) Release(_ context.Context, _, codeID, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Rows[codeID]
	if !ok || c.ClaimToken != tok {
		return domain.ErrConflict
	}
	if c.SupersededPending {
		now := time.Now().UTC()
		c.Used, c.UsedReason, c.UsedAt = true, domain.UseReasonSuperseded, &now
		c.SupersededPending = false
	}
	c.ClaimToken, c.ClaimExpiresAt = "", 0
	return nil
}

func (m *MemStore) MarkSupersededPending(_ context.Context, _, codeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Rows[codeID]
	if !ok || c.Used || c.ClaimToken == "" {
		return domain.ErrConflict
	}
	c.SupersededPending = true
	return nil
}

func (m *MemStore) RecordMiss(_ context.Context, _, codeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Rows[codeID]
	if !ok || c.Used {
		return 0, domain.ErrConflict
	}
	c.Attempts++
	return c.Attempts, nil
}

func (m *MemStore) MarkUsed(_ context.Context, _, codeID string, reason domain.UseReason, tok string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Rows[codeID]
	if !ok || c.Used {
		return domain.ErrConflict
	}
	if tok != "" && (c.ClaimToken != tok || c.ClaimExpiresAt <= now.Unix()) {
		return domain.ErrConflict
	}
	if tok == "" && c.ClaimExpiresAt > now.Unix() {
		return domain.ErrConflict
	}
	c.Used, c.UsedReason, c.UsedAt = true, reason, &now
	c.ClaimToken, c.ClaimExpiresAt, c.SupersededPending = "", 0, false
	return nil
}

func (m *MemStore) SetDeliveryStatus(_ context.Context, _, codeID string, status domain.DeliveryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Rows[codeID]
	if !ok || c.Used {
		return domain.ErrConflict
	}
	c.DeliveryStatus = status
	return nil
}
