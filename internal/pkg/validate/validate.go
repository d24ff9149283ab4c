package validate

import (
	"fmt"
	"strings"

	"github.com/go-kyc-access/internal/domain"
	"github.com/go-playground/validator/v10"
)

// v is the package-level singleton validator. Custom tags are registered in
// init() before the first call to Struct.
var v = validator.New()

func init() {
	_ = v.RegisterValidation("documenttype", func(fl validator.FieldLevel) bool {
		_, ok := domain.DocumentPolicies[domain.DocumentType(fl.Field().String())]
		return ok
	})
}

// Struct validates the given struct using its validate tags.
// The returned error wraps domain.ErrBadRequest and is safe to show to clients.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		var msgs []string
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), domain.ErrBadRequest)
	}
	return nil
}
