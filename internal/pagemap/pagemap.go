// Package pagemap maps any address within a page this allocator manages
// back to the descriptor that owns it and the size class it was carved
// for. It is the component a free() call consults first.
//
// The map is a lazily-populated 3-level radix trie over the page number
// (address >> pageShift), shaped like a hardware page table: each level
// is a fixed 4096-entry array, and inner nodes are installed on first
// touch with a single compare-and-swap. This keeps memory proportional to
// the number of distinct address ranges actually registered rather than
// to the size of the virtual address space, while still giving O(1)
// lookups with no locking.
package pagemap

import "sync/atomic"

const (
	pageShift = 12 // assumes 4KiB OS pages; see segment.PageSize for the runtime value
	pageSize  = 1 << pageShift

	levelBits  = 12
	levelSize  = 1 << levelBits
	levelMask  = levelSize - 1
	l3Shift    = 0
	l2Shift    = levelBits
	l1Shift    = levelBits * 2
)

// entry packs a present flag, descriptor slab index, and size-class index
// into one word so install/lookup is a single atomic load or store.
type entry struct{ word atomic.Uint64 }

const (
	presentBit  = uint64(1) << 63
	descShift   = 31
	descMask    = uint64(1)<<32 - 1
	classMask   = uint64(1)<<31 - 1
)

func encode(descIdx uint32, classIdx int) uint64 {
	return presentBit | (uint64(descIdx)&descMask)<<descShift | (uint64(uint32(classIdx)) & classMask)
}

func decode(word uint64) (descIdx uint32, classIdx int, ok bool) {
	if word&presentBit == 0 {
		return 0, 0, false
	}

	descIdx = uint32((word >> descShift) & descMask)
	classIdx = int(word & classMask)

	return descIdx, classIdx, true
}

type leaf struct {
	entries [levelSize]entry
}

type mid struct {
	children [levelSize]atomic.Pointer[leaf]
}

// Map is the process-wide page map. Its zero value is ready to use.
type Map struct {
	top [levelSize]atomic.Pointer[mid]
}

func split(pageNum uint64) (l1, l2, l3 int) {
	return int((pageNum >> l1Shift) & levelMask),
		int((pageNum >> l2Shift) & levelMask),
		int((pageNum >> l3Shift) & levelMask)
}

func (m *Map) leafFor(pageNum uint64, create bool) *leaf {
	l1, l2, _ := split(pageNum)

	midNode := m.top[l1].Load()
	if midNode == nil {
		if !create {
			return nil
		}

		fresh := &mid{}
		if m.top[l1].CompareAndSwap(nil, fresh) {
			midNode = fresh
		} else {
			midNode = m.top[l1].Load()
		}
	}

	leafNode := midNode.children[l2].Load()
	if leafNode == nil {
		if !create {
			return nil
		}

		fresh := &leaf{}
		if midNode.children[l2].CompareAndSwap(nil, fresh) {
			leafNode = fresh
		} else {
			leafNode = midNode.children[l2].Load()
		}
	}

	return leafNode
}

// Register associates every OS page in [base, base+size) with descIdx and
// classIdx. Called when a superblock (or a large allocation) is installed.
func (m *Map) Register(base, size uintptr, descIdx uint32, classIdx int) {
	word := encode(descIdx, classIdx)

	start := uint64(base) >> pageShift
	end := uint64(base+size+pageSize-1) >> pageShift

	for pn := start; pn < end; pn++ {
		_, _, l3 := split(pn)
		lf := m.leafFor(pn, true)
		lf.entries[l3].word.Store(word) // release: publishes the install to lookup's acquire load
	}
}

// Unregister clears every page entry in [base, base+size).
func (m *Map) Unregister(base, size uintptr) {
	start := uint64(base) >> pageShift
	end := uint64(base+size+pageSize-1) >> pageShift

	for pn := start; pn < end; pn++ {
		_, _, l3 := split(pn)
		lf := m.leafFor(pn, false)

		if lf == nil {
			continue
		}

		lf.entries[l3].word.Store(0)
	}
}

// Lookup returns the descriptor slab index and size class owning ptr, or
// ok=false if ptr is not known to the map.
func (m *Map) Lookup(ptr uintptr) (descIdx uint32, classIdx int, ok bool) {
	pn := uint64(ptr) >> pageShift

	_, _, l3 := split(pn)

	lf := m.leafFor(pn, false)
	if lf == nil {
		return 0, 0, false
	}

	return decode(lf.entries[l3].word.Load()) // acquire: observes any prior Register for this page
}
