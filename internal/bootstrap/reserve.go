// Package bootstrap provides the memory the allocator hands out before it
// can serve requests through its own normal path: a bump-allocated reserve
// segment, and the re-entry guard whose use-bootstrap flag, while set,
// sends allocation requests to the reserve instead of the allocator that
// isn't ready yet. The engine sets that flag only around its one-time
// global init. The internal tables themselves (size-class table, page map,
// heap array, descriptor pool) and each thread's cache are allocated on
// the Go heap, not from the reserve.
package bootstrap

import (
	"sync"

	"github.com/orizon-lang/memalloc/internal/allocerr"
	"github.com/orizon-lang/memalloc/internal/segment"
)

// Reserve is a single segment handed out as a simple bump allocator.
// Allocate never fails once the reserve has been acquired except by
// running past its capacity; Free is a no-op, matching spec.md §4.H —
// bootstrap allocations live for the process lifetime.
//
// The original this allocator is modeled on only acquired its backing
// segment when one was already present, which a reserve starting empty
// can never satisfy. ensureLocked fixes that by acquiring the segment
// eagerly on first use and setting max to the acquired size before any
// bump occurs.
type Reserve struct {
	mu    sync.Mutex
	seg   segment.Allocator
	mem   segment.Segment
	next  uintptr
	avail uintptr
	max   uintptr
	ready bool
}

// NewReserve returns a reserve that will acquire size bytes from the
// segment allocator on first use. The segment allocator rounds size up to
// a whole number of pages, and that rounded size is the reserve's capacity.
func NewReserve(size uintptr) *Reserve {
	return &Reserve{avail: size}
}

func (r *Reserve) ensureLocked() error {
	if r.ready {
		return nil
	}

	seg, err := r.seg.Allocate(int(r.avail))
	if err != nil {
		return err
	}

	r.mem = seg
	r.next = seg.Base
	r.avail = seg.Size
	r.max = seg.Size
	r.ready = true

	return nil
}

// Allocate returns size bytes from the reserve, acquiring the backing
// segment on first call.
func (r *Reserve) Allocate(size uintptr) (uintptr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLocked(); err != nil {
		return 0, err
	}

	if size > r.avail {
		return 0, allocerr.New(allocerr.OutOfMemory, "bootstrap.Allocate", "reserve exhausted")
	}

	ret := r.next
	r.next += size
	r.avail -= size

	return ret, nil
}

// Free is a no-op: bootstrap allocations are never returned individually.
func (r *Reserve) Free(uintptr) {}

// Contains reports whether ptr lies within the reserve's backing segment,
// used by free() to ignore such a pointer instead of taking the normal
// engine path.
func (r *Reserve) Contains(ptr uintptr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ready {
		return false
	}

	return ptr >= r.mem.Base && ptr < r.mem.Base+r.max
}
