package coordinator

import (
	cr "github.com/cockroachdb/errors"
)

var (
	// ErrRetryable marks an error the caller should answer with redelivery.
	ErrRetryable = cr.New("retryable")

	// ErrPaymentMismatch is returned when a payment event carries a reference
	// different from the one already recorded. The event is not applied.
	ErrPaymentMismatch = cr.New("payment reference mismatch")

	// ErrPromptTooShort is returned by Admit for prompts under the minimum length.
	ErrPromptTooShort = cr.New("prompt too short")

	// ErrRequestNotFound is returned when an event names an unknown request.
	ErrRequestNotFound = cr.New("image request not found")

	// ErrTerminal is returned by FailByOperator for requests already completed or failed.
	ErrTerminal = cr.New("image request already terminal")
)

func retryable(err error) error {
	return cr.Mark(err, ErrRetryable)
}

// IsRetryable reports whether err should cause the work item or webhook to be
// delivered again.
func IsRetryable(err error) bool {
	return err != nil && cr.Is(err, ErrRetryable)
}
