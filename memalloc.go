// Package memalloc is a thread-caching, lock-free general-purpose memory
// allocator: a drop-in replacement for the platform malloc/free/calloc/
// realloc/aligned_alloc surface, usable directly from Go or exported as a
// C ABI via cmd/libmemalloc.
//
// This package wraps internal/engine with the five allocation entry
// points over unsafe.Pointer, matching libc's contract exactly (null on
// out-of-memory or bad input, not a Go error return) so cmd/libmemalloc
// can delegate to it one-to-one.
package memalloc

import (
	"os"
	"unsafe"

	"github.com/orizon-lang/memalloc/internal/engine"
	"github.com/orizon-lang/memalloc/internal/stats"
)

var eng = engine.New(engine.WithVerbose(os.Getenv("MEMALLOC_VERBOSE") != ""))

// Malloc returns a pointer to at least size writable bytes, 8-byte
// aligned, or nil if the request cannot be satisfied.
func Malloc(size uintptr) unsafe.Pointer {
	observed.malloc.Store(true)

	if size == 0 {
		size = 1
	}

	ptr, err := eng.Alloc(8, size)
	if err != nil {
		return nil
	}

	return unsafe.Pointer(ptr)
}

// Calloc returns a pointer to n*size zeroed bytes, or nil on overflow or
// out-of-memory.
func Calloc(n, size uintptr) unsafe.Pointer {
	observed.calloc.Store(true)

	ptr, err := eng.Calloc(n, size)
	if err != nil {
		return nil
	}

	return unsafe.Pointer(ptr)
}

// Realloc resizes the allocation at ptr to newSize, preserving
// min(old, newSize) bytes. A nil ptr behaves like Malloc; a zero newSize
// frees ptr and returns a minimum-sized allocation. Returns nil (leaving
// the original allocation intact) if the resize cannot be satisfied.
func Realloc(ptr unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	observed.realloc.Store(true)

	out, err := eng.Realloc(uintptr(ptr), newSize)
	if err != nil {
		return nil
	}

	return unsafe.Pointer(out)
}

// Free releases the allocation at ptr. A nil ptr is a no-op.
func Free(ptr unsafe.Pointer) {
	observed.free.Store(true)
	eng.Free(uintptr(ptr))
}

// AlignedAlloc returns a pointer to size writable bytes whose address is
// a multiple of alignment. alignment must be a power of two; otherwise
// AlignedAlloc returns nil.
func AlignedAlloc(alignment, size uintptr) unsafe.Pointer {
	observed.alignedAlloc.Store(true)

	if size == 0 {
		size = 1
	}

	ptr, err := eng.Alloc(alignment, size)
	if err != nil {
		return nil
	}

	return unsafe.Pointer(ptr)
}

// Stats returns a diagnostic snapshot of outstanding blocks per size
// class. It never feeds back into an allocation decision.
func Stats() stats.Snapshot {
	return eng.Stats()
}

// UnbindCurrentThread drains the calling thread's cache back to the
// process heaps and detaches it from the thread-cache registry. A cgo
// consumer (cmd/libmemalloc) calls this from a pthread TLS destructor so
// a thread's cached blocks don't sit idle past its exit; callers outside
// cgo never need it.
func UnbindCurrentThread() {
	eng.UnbindThread()
}
