// Package procheap implements the per-size-class process heap: the
// lock-free stack of PARTIAL superblock descriptors that a thread cache
// refills from and returns to. See spec.md §4.F.
package procheap

import (
	"github.com/orizon-lang/memalloc/internal/concurrency"
	"github.com/orizon-lang/memalloc/internal/descriptor"
	"github.com/orizon-lang/memalloc/internal/sizeclass"
)

// Heap owns the partial-superblock stack for one size class. Concurrent
// pushes and pops use the same tagged-index CAS stack as the descriptor
// pool, keyed through the pool so the link field lives on the descriptor
// itself rather than in a side table.
type Heap struct {
	ClassIdx int

	pool    *descriptor.Pool
	partial *concurrency.TagStack
}

// NewHeap returns an empty heap for classIdx, backed by pool for
// descriptor lookups.
func NewHeap(classIdx int, pool *descriptor.Pool) *Heap {
	return &Heap{ClassIdx: classIdx, pool: pool, partial: concurrency.NewTagStack()}
}

func (h *Heap) setNext(index, next uint32) { h.pool.Get(index).SetNextLink(next) }
func (h *Heap) getNext(index uint32) uint32 { return h.pool.Get(index).NextLink() }

// PushPartial links a PARTIAL descriptor onto the heap's stack. Callers
// must not push a descriptor that is FULL or EMPTY.
func (h *Heap) PushPartial(index uint32) {
	h.partial.Push(index, h.setNext)
}

// PopPartial removes a descriptor from the stack for a thread cache to
// refill from. The descriptor may have concurrently transitioned to FULL
// or EMPTY by the time the caller observes it; per spec.md §4.E that is
// handled by simply not relinking it, not by retrying here.
func (h *Heap) PopPartial() (index uint32, desc *descriptor.Descriptor, ok bool) {
	index, ok = h.partial.Pop(h.getNext)
	if !ok {
		return 0, nil, false
	}

	return index, h.pool.Get(index), true
}

// Table is the fixed array of per-class heaps, one per size class plus
// the large-object sentinel class.
type Table struct {
	heaps [sizeclass.TotalClasses]*Heap
}

// NewTable builds a heap for every size class, backed by a shared
// descriptor pool.
func NewTable(pool *descriptor.Pool) *Table {
	t := &Table{}
	for i := range t.heaps {
		t.heaps[i] = NewHeap(i, pool)
	}

	return t
}

// Heap returns the heap for classIdx.
func (t *Table) Heap(classIdx int) *Heap { return t.heaps[classIdx] }
