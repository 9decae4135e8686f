//go:build linux

// internal/sandbox/rlimit_linux.go
package sandbox

import (
	"fmt"
	"syscall"
)

// limitMemory caps the writable data segment of the current process at n
// bytes. An allocation past the cap makes the runtime abort with an out of
// memory error, which the parent reports as a resource limit.
func limitMemory(n uint64) error {
	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_DATA, &rl); err != nil {
		return fmt.Errorf("get RLIMIT_DATA: %w", err)
	}
	rl.Cur = min(n, rl.Max)
	if err := syscall.Setrlimit(syscall.RLIMIT_DATA, &rl); err != nil {
		return fmt.Errorf("set RLIMIT_DATA: %w", err)
	}
	return nil
}
