package scm

import (
	"errors"
	"fmt"
)

// TransientError marks a listing failure that is expected to heal on its own:
// network errors, timeouts, 5xx responses. Callers retry with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError marks a 401/403 response. Fatal for the affected watcher until
// the configuration changes.
type AuthError struct {
	Op         string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed (HTTP %d)", e.Op, e.StatusCode)
}

// NotFoundError marks a missing repository. Fatal for the affected watcher
// until the configuration changes.
type NotFoundError struct {
	Repository string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("repository %s not found", e.Repository)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuth reports whether err is an authentication or authorization failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNotFound reports whether err indicates a missing repository.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}
