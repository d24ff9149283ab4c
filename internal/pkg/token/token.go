package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// New generates a cryptographically random hex token of 2*n characters.
func New(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewClaimToken returns a 32-character token identifying one holder of a code lease.
func NewClaimToken() (string, error) {
	return New(16)
}
