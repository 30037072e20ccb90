// Package descriptor implements the superblock descriptor: the metadata
// record that tracks one superblock's free-block list and lifecycle state,
// and the lock-free pool descriptors are allocated from and retired to.
package descriptor

import "unsafe"

// Descriptor describes one superblock. BlockSize, MaxCount, Base, ClassIdx
// and HeapIdx are fixed at Init and never change for the descriptor's
// lifetime as a live superblock; only the anchor mutates.
type Descriptor struct {
	Base      uintptr
	Size      uintptr
	BlockSize uintptr
	MaxCount  uint32
	ClassIdx  int
	HeapIdx   int

	anchor anchor

	// link chains this descriptor into exactly one of two lock-free
	// stacks at a time: the owning heap's partial list while the
	// descriptor has a live superblock, or the descriptor pool's free
	// stack once retired. The two uses never overlap.
	link uint32
}

// Init (re-)initializes a descriptor for a freshly carved superblock of
// maxCount blocks of blockSize bytes starting at base. It threads the
// in-place free list through the blocks themselves: block i's first word
// holds the index of block i+1.
func (d *Descriptor) Init(base, size, blockSize uintptr, maxCount uint32, classIdx, heapIdx int) {
	if int(maxCount) > MaxBlocksPerSuperblock {
		panic("descriptor: superblock block count exceeds anchor capacity")
	}

	d.Base = base
	d.Size = size
	d.BlockSize = blockSize
	d.MaxCount = maxCount
	d.ClassIdx = classIdx
	d.HeapIdx = heapIdx

	for i := uint32(0); i+1 < maxCount; i++ {
		d.writeSlotNext(i, i+1)
	}

	d.anchor.init(maxCount)
}

func (d *Descriptor) slot(index uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(d.Base + uintptr(index)*d.BlockSize))
}

func (d *Descriptor) readSlotNext(index uint32) uint32 { return *d.slot(index) }
func (d *Descriptor) writeSlotNext(index, next uint32) { *d.slot(index) = next }

// BlockAddr returns the address of block index within this superblock.
func (d *Descriptor) BlockAddr(index uint32) uintptr {
	return d.Base + uintptr(index)*d.BlockSize
}

// BlockIndex is the inverse of BlockAddr: it returns the index of the
// block containing addr.
func (d *Descriptor) BlockIndex(addr uintptr) uint32 {
	return uint32((addr - d.Base) / d.BlockSize)
}

// LinkBlock sets block index's in-place free-list link to next, without
// touching the anchor. Callers outside this package use it to chain a
// group of blocks (e.g. a thread cache flush) before handing the chain to
// PushBlocks in a single CAS.
func (d *Descriptor) LinkBlock(index, next uint32) { d.writeSlotNext(index, next) }

// State returns the descriptor's current lifecycle state.
func (d *Descriptor) State() State {
	state, _, _, _ := d.anchor.load()
	return state
}

// NextLink and SetNextLink expose the descriptor's link field to other
// packages that chain descriptors through a concurrency.TagStack (the
// process heap's partial list), reusing the same field the descriptor
// pool's free stack uses since the two uses never overlap.
func (d *Descriptor) NextLink() uint32     { return d.link }
func (d *Descriptor) SetNextLink(v uint32) { d.link = v }

// PopBlock removes one block from the superblock's free list, per spec.md
// §4.E's "malloc from superblock" operation. ok is false if the superblock
// has no free blocks (state is FULL).
func (d *Descriptor) PopBlock() (blockIndex uint32, ok bool) {
	for {
		old := d.anchor.word.Load()
		_, avail, count, tag := decodeAnchor(old)

		if count == 0 {
			return 0, false
		}

		next := d.readSlotNext(avail)
		newCount := count - 1

		newState := StatePartial
		if newCount == 0 {
			newState = StateFull
		}

		newWord := encodeAnchor(newState, next, newCount, tag+1)
		if d.anchor.word.CompareAndSwap(old, newWord) {
			return avail, true
		}
	}
}

// PushBlocks returns a chain of k blocks (headIndex..tailIndex, already
// linked via the blocks' in-place next fields) back to the superblock's
// free list, per spec.md §4.E's "free into superblock" operation. wasFull
// reports whether the descriptor needs relinking onto the owning heap's
// partial list; becameEmpty reports whether it is now a retirement
// candidate.
func (d *Descriptor) PushBlocks(headIndex, tailIndex, k uint32) (wasFull, becameEmpty bool) {
	for {
		old := d.anchor.word.Load()
		state, avail, count, tag := decodeAnchor(old)

		d.writeSlotNext(tailIndex, avail)
		newCount := count + k

		newState := StatePartial
		if newCount >= d.MaxCount {
			newState = StateEmpty
		}

		newWord := encodeAnchor(newState, headIndex, newCount, tag+1)
		if d.anchor.word.CompareAndSwap(old, newWord) {
			return state == StateFull, newState == StateEmpty
		}
	}
}
