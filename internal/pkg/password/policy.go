package password

import (
	"fmt"
	"unicode"

	"github.com/go-kyc-access/internal/domain"
)

const (
	MinLength = 8
	MaxLength = 72 // bcrypt ignores bytes beyond 72
)

// CheckStrength rejects passwords that are too short, too long for bcrypt,
// or missing either a letter or a digit.
func CheckStrength(pw string) error {
	if len(pw) < MinLength {
		return fmt.Errorf("password must be at least %d characters: %w", MinLength, domain.ErrBadRequest)
	}
	if len(pw) > MaxLength {
		return fmt.Errorf("password must be at most %d bytes: %w", MaxLength, domain.ErrBadRequest)
	}
	var letter, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return fmt.Errorf("password must contain a letter and a digit: %w", domain.ErrBadRequest)
	}
	return nil
}
