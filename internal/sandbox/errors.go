// internal/sandbox/errors.go
package sandbox

import (
	"errors"
	"fmt"
)

// Kind classifies a failed execution
type Kind string

const (
	KindSyntax        Kind = "syntax"
	KindRuntime       Kind = "runtime"
	KindTimeout       Kind = "timeout"
	KindResourceLimit Kind = "resource_limit"
	KindInvalidAction Kind = "invalid_action"
)

// Repairable reports whether the reasoning service may be asked to fix the script
func (k Kind) Repairable() bool {
	return k == KindSyntax || k == KindRuntime
}

// Error is returned for every script failure
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sandbox %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

func failf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

var (
	errMemoryLimit = errors.New("memory limit exceeded")
	errOutputLimit = errors.New("output limit exceeded")
)
