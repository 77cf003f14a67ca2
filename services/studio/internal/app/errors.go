package app

import "errors"

var (
	// ErrUnauthorized means no verified subject accompanied the request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the caller does not own the referenced resource.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means the referenced resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrGenerationFailed hides provider and storage failures from callers.
	// The underlying message is recorded on the job.
	ErrGenerationFailed = errors.New("generation failed")
)

// ValidationError is a client input problem, surfaced as 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
