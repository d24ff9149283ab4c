// Package otp generates and hashes short human-enterable verification codes.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Digits is the length of every generated code.
const Digits = 6

var upperBound = big.NewInt(1_000_000)

// Generate returns a uniformly random zero-padded 6-digit code.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, upperBound)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", Digits, n.Int64()), nil
}

// Hasher derives the stored form of a code. The subject id is mixed in so
// equal codes issued to different subjects never share a hash.
type Hasher struct {
	key []byte
}

func NewHasher(pepper string) *Hasher {
	return &Hasher{key: []byte(pepper)}
}

func (h *Hasher) Hash(subjectID, code string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(subjectID))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// WellFormed reports whether s could be a code at all; callers reject
// anything else before touching the store.
func WellFormed(s string) bool {
	if len(s) != Digits {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
