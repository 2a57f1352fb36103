// Package errs classifies failures of outbound calls so callers can tell a
// retryable blip from a terminal error.
package errs

import (
	"context"

	cr "github.com/cockroachdb/errors"
)

// ErrTransient marks failures that may succeed if the same call is repeated:
// timeouts, connection errors, throttling and 5xx responses.
var ErrTransient = cr.New("transient failure")

// Transient marks err as transient. It returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return cr.Mark(err, ErrTransient)
}

// IsTransient reports whether err carries the transient mark or is a
// context deadline.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return cr.Is(err, ErrTransient) || cr.Is(err, context.DeadlineExceeded)
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return cr.Wrapf(err, format, args...)
}
