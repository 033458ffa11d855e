// Package validator turns ozzo-validation failures into invalid-request
// errors carrying per-field messages.
package validator

import (
	"errors"
	"sort"
	"strings"

	"github.com/KOMKZ/go-yogan-meter/errcode"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Validatable is implemented by request types that check themselves
type Validatable interface {
	Validate() error
}

// ValidateRequest runs req.Validate. Field errors become ErrInvalidRequest;
// other errors pass through unchanged.
func ValidateRequest(req Validatable) error {
	err := req.Validate()
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		return ConvertValidationError(fieldErrs)
	}
	return err
}

// ConvertValidationError builds an ErrInvalidRequest whose message names
// the failing fields in order and whose "fields" data maps each field to
// its reason.
func ConvertValidationError(errs validation.Errors) error {
	fields := make(map[string]string, len(errs))
	names := make([]string, 0, len(errs))
	for field, fieldErr := range errs {
		if fieldErr == nil {
			continue
		}
		fields[field] = fieldErr.Error()
		names = append(names, field)
	}
	sort.Strings(names)
	return errcode.ErrInvalidRequest.
		WithMsgf("invalid %s", strings.Join(names, ", ")).
		WithData("fields", fields)
}
