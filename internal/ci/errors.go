package ci

import (
	"errors"
	"fmt"
)

// TransientError marks a build server failure that is expected to heal on
// its own. The trigger is retried on the next reconciliation pass.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError marks a trigger the build server refused: build configuration
// disabled, quota exceeded, bad credentials. Rejections are recorded per pull
// request and not retried until the head commit changes.
type RejectedError struct {
	Op     string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: rejected by build server: %s", e.Op, e.Reason)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRejected reports whether err is a non-retryable rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
