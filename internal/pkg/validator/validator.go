// Package validator wraps go-playground/validator for declarative struct
// validation via `validate:"..."` tags.
package validator

import (
	"errors"
	"fmt"

	gvalidator "github.com/go-playground/validator/v10"
)

// ErrValidationFailed heads the error chain of every validation failure so
// callers can detect it with errors.Is regardless of the field details.
var ErrValidationFailed = errors.New("struct validation failed")

var validator = gvalidator.New(gvalidator.WithRequiredStructEnabled())

// Validate checks the struct against its validation tags. On failure it
// returns ErrValidationFailed joined with one formatted error per field.
func Validate(v any) error {
	if err := validator.Struct(v); err != nil {
		return formatError(err)
	}

	return nil
}

func formatError(err error) error {
	var validationErrors gvalidator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	errs := []error{ErrValidationFailed}
	for _, validationErr := range validationErrors {
		errs = append(errs, fmt.Errorf("'%s': value '%v' does not meet the requirements for the '%s' validation",
			validationErr.Field(),
			validationErr.Value(),
			validationErr.Tag(),
		))
	}

	return errors.Join(errs...)
}
