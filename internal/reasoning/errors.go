// internal/reasoning/errors.go
package reasoning

import (
	"errors"
	"fmt"
)

// Kind says whether a reasoning failure is worth retrying
type Kind string

const (
	Transient Kind = "transient"
	Permanent Kind = "permanent"
)

// ErrNoEndpoints is returned when a client has nothing to call
var ErrNoEndpoints = errors.New("no reasoning endpoints configured")

// Error is a reasoning service failure
type Error struct {
	Kind     Kind
	Attempts int // attempts made before giving up, 0 if not retried
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("reasoning service %s error after %d attempts: %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("reasoning service %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable reasoning failure
func IsTransient(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == Transient
}

// IsPermanent reports whether err is a non-retryable reasoning failure
func IsPermanent(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == Permanent
}

func transientf(format string, args ...any) *Error {
	return &Error{Kind: Transient, Err: fmt.Errorf(format, args...)}
}

func permanentf(format string, args ...any) *Error {
	return &Error{Kind: Permanent, Err: fmt.Errorf(format, args...)}
}

// classifyStatus maps an HTTP status from any provider to a failure kind:
// timeouts, rate limiting and 5xx are transient, every other non-2xx is permanent
func classifyStatus(code int) Kind {
	switch {
	case code == 408 || code == 429 || code >= 500:
		return Transient
	default:
		return Permanent
	}
}
