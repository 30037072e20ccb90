// Package segment is a thin wrapper over OS anonymous-mapping primitives.
// It is the only place in memalloc that talks to the operating system for
// address space; every other package asks segment for memory and never
// calls mmap/munmap itself.
package segment

import "github.com/orizon-lang/memalloc/internal/allocerr"

// Segment is a contiguous range of OS-mapped, zero-initialized, read-write
// address space.
type Segment struct {
	Base uintptr
	Size uintptr
}

// End returns the address one past the last byte of the segment.
func (s Segment) End() uintptr { return s.Base + s.Size }

// Contains reports whether ptr falls within [Base, End).
func (s Segment) Contains(ptr uintptr) bool {
	return ptr >= s.Base && ptr < s.End()
}

// Allocator obtains and releases segments from the OS. It is safe to call
// from any OS thread concurrently and never allocates through the public
// malloc path — it is a true leaf of the dependency graph.
type Allocator struct{}

// Allocate requests a new segment of at least size bytes, rounded up to a
// whole number of OS pages. Returns allocerr.OutOfMemory on failure.
func (Allocator) Allocate(size int) (Segment, error) {
	if size <= 0 {
		return Segment{}, allocerr.New(allocerr.OutOfMemory, "segment.Allocate", "non-positive size")
	}

	return osMap(size)
}

// Free releases a segment obtained from Allocate.
func (Allocator) Free(s Segment) error {
	if s.Base == 0 || s.Size == 0 {
		return nil
	}

	return osUnmap(s)
}

// PageSize returns the OS page size in bytes.
func PageSize() int { return osPageSize() }

func roundUpToPage(size, page int) int {
	if page <= 0 {
		return size
	}

	return (size + page - 1) &^ (page - 1)
}
