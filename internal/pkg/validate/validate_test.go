package validate

import (
	"errors"
	"testing"

	"github.com/go-kyc-access/internal/domain"
	"github.com/stretchr/testify/assert"
)

type sample struct {
	Email string `validate:"required,email"`
	Type  string `validate:"required,documenttype"`
}

func TestStruct_OK(t *testing.T) {
	assert.NoError(t, Struct(&sample{Email: "a@b.com", Type: "selfie"}))
}

func TestStruct_ReportsEveryField(t *testing.T) {
	err := Struct(&sample{Email: "nope", Type: "passport-scan"})
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
	assert.ErrorContains(t, err, "field 'Email' failed 'email'")
	assert.ErrorContains(t, err, "field 'Type' failed 'documenttype'")
}
