package validation

import (
	"unicode"

	"github.com/go-playground/validator/v10"
)

// IsStrongPassword is the single password-complexity predicate shared by the
// request binding layer and any service-level check: at least 8 characters,
// one uppercase letter, one digit and one symbol.
func IsStrongPassword(password string) bool {
	if len(password) < 8 {
		return false
	}

	var hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			hasSymbol = true
		}
	}

	return hasUpper && hasDigit && hasSymbol
}

// New returns a validator with the project's custom rules registered.
func New() *validator.Validate {
	v := validator.New()
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return IsStrongPassword(fl.Field().String())
	})
	return v
}
