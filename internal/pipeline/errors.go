package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted marks a collaborator call that kept failing
	// transiently until the retry budget ran out.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrNotFound is returned when a search yields no content.
	ErrNotFound = errors.New("no documents found")
)

// TransientError wraps a collaborator failure that is worth retrying
// (service unavailable, timeout, rate limit).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError marks a collaborator response that did not match the
// expected shape. It is terminal: retrying a malformed-response bug with the
// same request wastes the budget.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid response: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
