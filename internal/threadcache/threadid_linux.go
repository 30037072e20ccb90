//go:build linux

package threadcache

import "golang.org/x/sys/unix"

// realThreadID returns the kernel thread id of the OS thread executing
// this call. A cgo-exported function always runs on the OS thread that
// invoked it for the duration of the call, and the Go runtime reuses the
// same M (and therefore the same gettid) for every subsequent call from
// the same pthread, so this is a stable per-thread identity across calls —
// the closest Go equivalent to the pthread TLS slot a native allocator
// would use.
func realThreadID() (uint64, bool) {
	return uint64(unix.Gettid()), true
}
