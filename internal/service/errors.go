package service

import "errors"

// Use-case errors; handlers map them to HTTP status codes.
var (
	ErrValidation         = errors.New("validation failed")
	ErrEmailTaken         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
)

// validationError carries a caller-facing reason and matches ErrValidation.
type validationError struct {
	reason string
}

func invalid(reason string) error { return &validationError{reason: reason} }

func (e *validationError) Error() string        { return e.reason }
func (e *validationError) Is(target error) bool { return target == ErrValidation }
func (e *validationError) Validation() bool     { return true }
