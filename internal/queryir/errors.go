package queryir

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable code of a validation error.
type ErrorCode int

const (
	CodeMissingRequiredParameter ErrorCode = 950200
	CodeInvalidParameterValue    ErrorCode = 950201
)

// ValidationTitle is the message reported alongside every validation error.
const ValidationTitle = "Validation Error"

// ValidationError reports a malformed or inconsistent query parameter.
//
// Parameter is the dotted path of the offending input, e.g.
// "filter.and[2].fragment.value" or "limit".
type ValidationError struct {
	Code      ErrorCode
	Parameter string
	Reason    string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Parameter, e.Reason)
}

// NewInvalidParameter creates an invalid-parameter-value error.
func NewInvalidParameter(parameter, format string, args ...any) *ValidationError {
	return &ValidationError{
		Code:      CodeInvalidParameterValue,
		Parameter: parameter,
		Reason:    fmt.Sprintf(format, args...),
	}
}

// NewMissingParameter creates a missing-required-parameter error.
func NewMissingParameter(parameter string) *ValidationError {
	return &ValidationError{
		Code:      CodeMissingRequiredParameter,
		Parameter: parameter,
		Reason:    "missing required parameter",
	}
}

// IsValidationError returns true if err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsValidationError extracts the *ValidationError from err, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// ErrMalformedBody is returned by ParseSearchRequest when the payload is not
// syntactically valid JSON.
var ErrMalformedBody = errors.New("malformed request body")
