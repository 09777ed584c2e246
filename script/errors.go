package script

import (
	"errors"
	"fmt"
)

// ErrValidation is the sentinel all ValidationError values match via
// errors.Is. The repair loop uses it to distinguish retryable candidate
// defects from terminal failures.
var ErrValidation = errors.New("validation error")

// ValidationError is a client-caused or candidate-caused defect carrying a
// stable machine-readable code and structured context. During generation
// attempts these are converted into prompt feedback rather than surfaced.
type ValidationError struct {
	// Code is a stable machine-readable identifier, e.g. "syntax_error",
	// "too_long_instructions", "non_deterministic_code".
	Code string

	// Message is the human-readable description.
	Message string

	// Details carries structured context: rule violations, offending
	// fragments, response key sets, and similar diagnostics.
	Details map[string]any
}

// NewValidationError creates a ValidationError with the given code and
// message. Details may be nil.
func NewValidationError(code, message string, details map[string]any) *ValidationError {
	return &ValidationError{Code: code, Message: message, Details: details}
}

// Error returns the message prefixed by the code.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether this error matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Detail returns one structured context value, or nil when absent.
func (e *ValidationError) Detail(key string) any {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// AsValidationError unwraps err into a *ValidationError when possible.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
