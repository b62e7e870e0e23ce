package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyCompleted is returned when a redelivered message targets a completed job
	ErrJobAlreadyCompleted = errors.New("job already completed")

	// ErrInvalidMessage is returned when a queue message cannot be decoded or validated
	ErrInvalidMessage = errors.New("invalid task message")

	// ErrMissingURL is returned when neither interpretation nor fallback produced a target URL
	ErrMissingURL = errors.New("missing target url")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// PermanentError wraps failures that no redelivery can fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new permanent error
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err must not be redelivered
func IsPermanent(err error) bool {
	if errors.Is(err, ErrMissingURL) || errors.Is(err, ErrInvalidMessage) {
		return true
	}
	var perm *PermanentError
	return errors.As(err, &perm)
}
