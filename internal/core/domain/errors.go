package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidTransition marks a status change that violates the state
	// machine. Internal invariant class, never user-facing; a worker losing a
	// claim race observes it and moves on.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrTemporary         = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
