// Package engine orchestrates every other internal package into the three
// public allocation routines spec.md §4.I names: aligned allocation, free,
// and realloc. It is what both the root memalloc package and
// cmd/libmemalloc's cgo shim call into.
package engine

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/memalloc/internal/allocerr"
	"github.com/orizon-lang/memalloc/internal/bootstrap"
	"github.com/orizon-lang/memalloc/internal/descriptor"
	"github.com/orizon-lang/memalloc/internal/pagemap"
	"github.com/orizon-lang/memalloc/internal/procheap"
	"github.com/orizon-lang/memalloc/internal/segment"
	"github.com/orizon-lang/memalloc/internal/sizeclass"
	"github.com/orizon-lang/memalloc/internal/stats"
	"github.com/orizon-lang/memalloc/internal/threadcache"
)

// defaultBootstrapSize is the reserve's capacity. It only ever needs to
// cover the allocation requests that arrive while UseBootstrap is set
// during global init, which in practice is small and fixed.
const defaultBootstrapSize = 1 << 20

// Engine holds the process-wide services every allocation routes through.
// The zero value is not ready to use; call New.
type Engine struct {
	guard   *bootstrap.Guard
	reserve *bootstrap.Reserve

	pages    *pagemap.Map
	pool     *descriptor.Pool
	table    *procheap.Table
	registry *threadcache.Registry
	seg      segment.Allocator
	counters *stats.Counters

	ready atomic.Bool

	verbose       bool
	bootstrapSize uintptr
	logger        *log.Logger
}

// Option configures an Engine at construction. Every allocator entry
// point (Malloc, AlignedAlloc, ...) is fixed by spec.md; options only
// tune in-process behavior that has no externally observable contract.
type Option func(*Engine)

// WithVerbose turns on diagnostic logging to stderr for this engine.
// The hot path never checks this flag directly; only the handful of
// cold init/free-miss paths that call logf do.
func WithVerbose(v bool) Option {
	return func(e *Engine) { e.verbose = v }
}

// WithBootstrapSize overrides the bootstrap reserve's capacity. The
// reserve serves only requests that arrive while global init has
// bootstrap mode on; thread-cache installation never draws on it. A caller
// embedding the allocator in an environment with unusually large early
// allocations can grow it.
func WithBootstrapSize(size uintptr) Option {
	return func(e *Engine) { e.bootstrapSize = size }
}

func (e *Engine) logf(format string, args ...any) {
	if e.verbose {
		e.logger.Printf(format, args...)
	}
}

// New returns an engine. Global services are installed lazily, on the
// first allocation request, per spec.md §4.H.
func New(opts ...Option) *Engine {
	e := &Engine{
		guard:         bootstrap.NewGuard(),
		counters:      stats.NewCounters(),
		bootstrapSize: defaultBootstrapSize,
		logger:        log.New(os.Stderr, "memalloc: ", log.LstdFlags),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.reserve = bootstrap.NewReserve(e.bootstrapSize)

	return e
}

// Stats returns a point-in-time snapshot of outstanding blocks per size
// class, for tests and optional debug output. It is diagnostics only and
// never influences an allocation decision.
func (e *Engine) Stats() stats.Snapshot {
	return e.counters.Snapshot()
}

func (e *Engine) ensureGlobalInit() {
	if e.ready.Load() {
		return
	}

	if e.guard.EnterGlobalInit() {
		defer e.guard.ExitGlobalInit()

		// An earlier winner may have finished and left bootstrap mode
		// between this caller's ready check and its win.
		if e.ready.Load() {
			return
		}

		sizeclass.Init()

		e.pages = &pagemap.Map{}
		e.pool = descriptor.NewPool()
		e.table = procheap.NewTable(e.pool)
		e.registry = threadcache.NewRegistry(threadcache.Deps{
			Table: e.table,
			Pool:  e.pool,
			Pages: e.pages,
			Seg:   e.seg,
		})

		e.ready.Store(true)
		e.logf("global init complete")

		return
	}

	for !e.ready.Load() {
		runtime.Gosched()
	}
}

func isPowerOfTwo(n uintptr) bool {
	return n > 0 && n&(n-1) == 0
}

// classForAligned finds the smallest size class that serves size and
// whose block size is a multiple of alignment, so every block in that
// class lands on an alignment-satisfying address given the class's
// page-aligned superblocks. ok is false if no real class satisfies both
// constraints (the caller should fall back to the large path).
func classForAligned(size, alignment uintptr) (int, bool) {
	want := size
	if alignment > want {
		want = alignment
	}

	classIdx, ok := sizeclass.ClassForSize(int(want))
	if !ok {
		return 0, false
	}

	for classIdx < sizeclass.TotalClasses {
		class := sizeclass.Get(classIdx)
		if uintptr(class.BlockSize) >= size && uintptr(class.BlockSize)%alignment == 0 {
			return classIdx, true
		}

		classIdx++
	}

	return 0, false
}

// Alloc implements do_aligned_alloc.
func (e *Engine) Alloc(alignment, size uintptr) (uintptr, error) {
	if !isPowerOfTwo(alignment) {
		return 0, allocerr.BadAlignmentError("engine.Alloc", alignment)
	}

	e.ensureGlobalInit()

	if e.guard.UseBootstrap() {
		return e.reserve.Allocate(size)
	}

	pageSize := uintptr(segment.PageSize())
	maxSmall := uintptr(sizeclass.MaxSize())

	if size > maxSmall || alignment > pageSize {
		return e.largeAlloc(alignment, size)
	}

	classIdx, ok := classForAligned(size, alignment)
	if !ok {
		return e.largeAlloc(alignment, size)
	}

	token := threadcache.BindCurrentThread()
	if e.guard.EnterThreadInit(token) {
		e.logf("installing thread cache for token %d", token)
	}

	cache := e.registry.Current()

	ptr, err := cache.Pop(classIdx)
	if err != nil {
		return 0, err
	}

	e.counters.RecordAlloc(classIdx)

	return ptr, nil
}

// largeAlloc serves a request that is either bigger than the largest small
// class or more strictly aligned than a page. It maps a segment at least
// big enough to contain an alignment-satisfying sub-range (mmap/VirtualAlloc
// only guarantee page alignment, which is not enough when alignment itself
// exceeds the page size), registers the whole segment in the page map
// under one descriptor, and returns the aligned address within it. Because
// the page map resolves any address in the segment to the same descriptor,
// free() finds the full segment to release regardless of where within it
// the returned pointer sits.
func (e *Engine) largeAlloc(alignment, size uintptr) (uintptr, error) {
	want := size
	if alignment > want {
		want = alignment
	}

	mapSize := want
	if alignment > uintptr(segment.PageSize()) {
		mapSize = want + alignment
	}

	seg, err := e.seg.Allocate(int(mapSize))
	if err != nil {
		return 0, err
	}

	aligned := (seg.Base + alignment - 1) &^ (alignment - 1)

	descIdx, desc := e.pool.Alloc()
	desc.Init(seg.Base, seg.Size, seg.Size, 1, sizeclass.LargeClassIndex, -1)
	e.pages.Register(seg.Base, seg.Size, descIdx, sizeclass.LargeClassIndex)

	if _, ok := desc.PopBlock(); !ok {
		panic("engine: freshly initialized large descriptor had no block")
	}

	e.counters.RecordAlloc(sizeclass.LargeClassIndex)

	return aligned, nil
}

// Free implements do_free.
func (e *Engine) Free(ptr uintptr) {
	if ptr == 0 {
		return
	}

	if e.reserve.Contains(ptr) {
		return
	}

	e.ensureGlobalInit()

	descIdx, classIdx, ok := e.pages.Lookup(ptr)
	if !ok {
		e.logf("free: %x not owned by this allocator, ignoring", ptr)
		return
	}

	if classIdx == sizeclass.LargeClassIndex {
		desc := e.pool.Get(descIdx)
		e.pages.Unregister(desc.Base, desc.Size)
		_ = e.seg.Free(segment.Segment{Base: desc.Base, Size: desc.Size})
		e.pool.Retire(descIdx)
		e.counters.RecordFree(sizeclass.LargeClassIndex)

		return
	}

	token := threadcache.BindCurrentThread()
	if e.guard.EnterThreadInit(token) {
		e.logf("installing thread cache for token %d", token)
	}

	e.registry.Current().Push(classIdx, ptr)
	e.counters.RecordFree(classIdx)
}

// Realloc implements do_realloc.
func (e *Engine) Realloc(ptr, newSize uintptr) (uintptr, error) {
	if ptr == 0 {
		return e.Alloc(8, newSize)
	}

	if newSize == 0 {
		e.Free(ptr)
		return e.Alloc(8, 1)
	}

	descIdx, classIdx, ok := e.pages.Lookup(ptr)
	if !ok {
		return 0, allocerr.InvalidPointerError("engine.Realloc")
	}

	desc := e.pool.Get(descIdx)

	if classIdx == sizeclass.LargeClassIndex {
		oldSize := desc.BlockSize
		if newSize == oldSize {
			return ptr, nil
		}

		return e.reallocCopy(ptr, oldSize, newSize)
	}

	if newClassIdx, ok := sizeclass.ClassForSize(int(newSize)); ok && newClassIdx == classIdx {
		return ptr, nil
	}

	return e.reallocCopy(ptr, desc.BlockSize, newSize)
}

func (e *Engine) reallocCopy(ptr, oldSize, newSize uintptr) (uintptr, error) {
	newPtr, err := e.Alloc(8, newSize)
	if err != nil {
		return 0, err
	}

	n := oldSize
	if newSize < n {
		n = newSize
	}

	src := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(n))
	dst := unsafe.Slice((*byte)(unsafe.Pointer(newPtr)), int(n))
	copy(dst, src)

	e.Free(ptr)

	return newPtr, nil
}

// Calloc implements calloc's n*s sizing with overflow detection, on top
// of Alloc.
func (e *Engine) Calloc(n, size uintptr) (uintptr, error) {
	if n == 0 || size == 0 {
		return e.Alloc(8, 1)
	}

	total := n * size
	if total/n != size {
		return 0, allocerr.SizeOverflowError("engine.Calloc", n, size)
	}

	ptr, err := e.Alloc(8, total)
	if err != nil {
		return 0, err
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(total))
	for i := range dst {
		dst[i] = 0
	}

	return ptr, nil
}

// UnbindThread drains and detaches the calling thread's cache, returning
// its outstanding blocks to their owning process heaps. Call it from a
// thread-exit hook (cmd/libmemalloc wires this to a pthread TLS
// destructor). Skipping it leaves those blocks cached under the dead
// thread's token: no other thread takes blocks from that cache, and only a
// later thread given the same token picks it up again.
func (e *Engine) UnbindThread() {
	if !e.ready.Load() {
		return
	}

	e.registry.Unbind()
}

// UsableSize reports the block size backing ptr, or 0 if ptr is unknown to
// the allocator. It is a diagnostic helper, not part of the C ABI.
func (e *Engine) UsableSize(ptr uintptr) uintptr {
	descIdx, _, ok := e.pages.Lookup(ptr)
	if !ok {
		return 0
	}

	return uintptr(e.pool.Get(descIdx).BlockSize)
}

func (e *Engine) String() string {
	return fmt.Sprintf("engine{ready=%v}", e.ready.Load())
}
