// internal/store/errors.go
package store

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned for unknown session or plant ids
	ErrNotFound = errors.New("not found")

	// ErrSessionBusy is returned when another invocation holds the session lease
	ErrSessionBusy = errors.New("session busy")

	// ErrInvalidTransition is returned when a mutation would break the status state machine
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Error is a storage (I/O) failure. The kernel treats it as fatal for the
// current invocation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// IsStorage reports whether err is a storage failure
func IsStorage(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

func isSentinel(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSessionBusy) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsBusy reports SQLITE_BUSY and "database is locked" conditions
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		if code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED {
			return true
		}
	}
	s := err.Error()
	return strings.Contains(s, "SQLITE_BUSY") || strings.Contains(s, "database is locked")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
