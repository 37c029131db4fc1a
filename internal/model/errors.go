package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories when no row matches the given id.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by repositories when an insert hits a unique
// constraint.
var ErrDuplicate = errors.New("duplicate entry")

// ValidationError marks input the caller must correct (maps to 400).
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Invalidf builds a ValidationError with fmt-style formatting.
func Invalidf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
