package auth

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateEmail rejects values that are not a single email address.
func ValidateEmail(email string) error {
	if err := validate.Var(email, "required,email,max=255"); err != nil {
		return fmt.Errorf("%w: email: %s", ErrInvalidInput, firstFailure(err))
	}
	return nil
}

// ValidateCallbackURL requires an absolute http(s) URL.
func ValidateCallbackURL(raw string) error {
	if err := validate.Var(raw, "required,http_url"); err != nil {
		return fmt.Errorf("%w: callback_url: %s", ErrInvalidInput, firstFailure(err))
	}
	return nil
}

func firstFailure(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return "failed on " + strings.ToLower(verrs[0].Tag())
	}
	return err.Error()
}
