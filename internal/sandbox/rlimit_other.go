//go:build !linux

// internal/sandbox/rlimit_other.go
package sandbox

// limitMemory is a no-op without RLIMIT_DATA; oversized allocations still
// abort the child rather than the host
func limitMemory(n uint64) error { return nil }
