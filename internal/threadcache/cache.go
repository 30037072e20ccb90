// Package threadcache implements the per-OS-thread cache described in
// spec.md §4.G: a LIFO bin per size class, threaded through the first
// word of each free block, requiring no synchronization because it is
// never touched by more than one thread.
package threadcache

import (
	"unsafe"

	"github.com/orizon-lang/memalloc/internal/allocerr"
	"github.com/orizon-lang/memalloc/internal/descriptor"
	"github.com/orizon-lang/memalloc/internal/pagemap"
	"github.com/orizon-lang/memalloc/internal/procheap"
	"github.com/orizon-lang/memalloc/internal/segment"
	"github.com/orizon-lang/memalloc/internal/sizeclass"
)

type bin struct {
	head  uintptr
	count int
}

func blockNext(addr uintptr) *uintptr { return (*uintptr)(unsafe.Pointer(addr)) }

// Deps are the process-wide services a cache needs to fill and flush its
// bins. Every field is shared across all threads' caches.
type Deps struct {
	Table *procheap.Table
	Pool  *descriptor.Pool
	Pages *pagemap.Map
	Seg   segment.Allocator
}

// Cache is one OS thread's set of per-class bins.
type Cache struct {
	deps Deps
	bins [sizeclass.TotalClasses]bin
}

// NewCache returns an empty cache backed by deps.
func NewCache(deps Deps) *Cache {
	return &Cache{deps: deps}
}

// Pop returns one block for classIdx, filling the bin from the process
// heap first if it is empty.
func (c *Cache) Pop(classIdx int) (uintptr, error) {
	b := &c.bins[classIdx]

	if b.count == 0 {
		if err := c.fill(classIdx); err != nil {
			return 0, err
		}
	}

	if b.count == 0 {
		return 0, allocerr.New(allocerr.OutOfMemory, "threadcache.Pop", "fill produced no blocks")
	}

	addr := b.head
	b.head = *blockNext(addr)
	b.count--

	return addr, nil
}

// Push returns a block to classIdx's bin, flushing half the bin to the
// process heap once it has reached the class's cache depth.
func (c *Cache) Push(classIdx int, addr uintptr) {
	b := &c.bins[classIdx]

	*blockNext(addr) = b.head
	b.head = addr
	b.count++

	class := sizeclass.Get(classIdx)
	if b.count >= int(class.CacheBlockNum) {
		c.flush(classIdx, b.count/2)
	}
}

// fill obtains a superblock descriptor (an existing PARTIAL one from the
// class's heap, or a freshly carved one) and pops blocks from its
// in-block free list into the bin, one single-word CAS per block.
func (c *Cache) fill(classIdx int) error {
	class := sizeclass.Get(classIdx)
	heap := c.deps.Table.Heap(classIdx)

	descIdx, desc, ok := heap.PopPartial()
	if !ok {
		var err error

		descIdx, desc, err = c.newSuperblock(classIdx, class)
		if err != nil {
			return err
		}
	}

	b := &c.bins[classIdx]

	taken := 0
	for taken < int(class.CacheBlockNum) {
		idx, ok := desc.PopBlock()
		if !ok {
			break
		}

		addr := desc.BlockAddr(idx)
		*blockNext(addr) = b.head
		b.head = addr
		b.count++
		taken++
	}

	if taken == 0 {
		return allocerr.New(allocerr.OutOfMemory, "threadcache.fill", "superblock had no free blocks")
	}

	if desc.State() != descriptor.StateFull {
		heap.PushPartial(descIdx)
	}

	return nil
}

func (c *Cache) newSuperblock(classIdx int, class sizeclass.Class) (uint32, *descriptor.Descriptor, error) {
	seg, err := c.deps.Seg.Allocate(int(class.SuperblockSize))
	if err != nil {
		return 0, nil, err
	}

	descIdx, desc := c.deps.Pool.Alloc()
	desc.Init(seg.Base, seg.Size, uintptr(class.BlockSize), class.BlockCount, classIdx, classIdx)
	c.deps.Pages.Register(seg.Base, seg.Size, descIdx, classIdx)

	return descIdx, desc, nil
}

// flush removes up to n blocks from classIdx's bin, groups them by owning
// descriptor via a page-map lookup per block, and returns each group with
// a single CAS on that descriptor's anchor.
func (c *Cache) flush(classIdx int, n int) {
	b := &c.bins[classIdx]
	if n > b.count {
		n = b.count
	}

	type group struct {
		desc       *descriptor.Descriptor
		descIdx    uint32
		headIdx    uint32
		tailIdx    uint32
		blockCount uint32
	}

	groups := map[uint32]*group{}

	for i := 0; i < n; i++ {
		addr := b.head
		b.head = *blockNext(addr)
		b.count--

		descIdx, _, ok := c.deps.Pages.Lookup(addr)
		if !ok {
			panic("threadcache: flushed block has no page map entry")
		}

		desc := c.deps.Pool.Get(descIdx)
		idx := desc.BlockIndex(addr)

		g, exists := groups[descIdx]
		if !exists {
			groups[descIdx] = &group{desc: desc, descIdx: descIdx, headIdx: idx, tailIdx: idx, blockCount: 1}
			continue
		}

		desc.LinkBlock(idx, g.headIdx)
		g.headIdx = idx
		g.blockCount++
	}

	for _, g := range groups {
		wasFull, becameEmpty := g.desc.PushBlocks(g.headIdx, g.tailIdx, g.blockCount)

		if wasFull && !becameEmpty {
			c.deps.Table.Heap(g.desc.ClassIdx).PushPartial(g.descIdx)
		}

		if becameEmpty {
			c.deps.Pages.Unregister(g.desc.Base, g.desc.Size)
			_ = c.deps.Seg.Free(segment.Segment{Base: g.desc.Base, Size: g.desc.Size})
			c.deps.Pool.Retire(g.descIdx)
		}
	}
}

// Drain flushes every non-empty bin. Called when a thread unbinds so no
// blocks are stranded in thread-local storage past the thread's lifetime.
func (c *Cache) Drain() {
	for classIdx := 1; classIdx < sizeclass.TotalClasses; classIdx++ {
		if c.bins[classIdx].count > 0 {
			c.flush(classIdx, c.bins[classIdx].count)
		}
	}
}
