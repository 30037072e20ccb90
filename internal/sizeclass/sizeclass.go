// Package sizeclass implements the allocator's static size-class table:
// the fixed mapping from a requested byte count to the size class that
// serves it, and the per-class geometry (block size, superblock size,
// blocks per superblock, cache depth) every other package reads from.
//
// The table is populated once by Init, which is idempotent, and is
// immutable and freely shared by every goroutine/OS-thread thereafter.
package sizeclass

import (
	"os"
	"sync"
)

// Class describes the fixed geometry of one size class.
type Class struct {
	BlockSize      uint32 // bytes served by one block in this class
	SuperblockSize uint32 // bytes in one superblock for this class
	BlockCount     uint32 // SuperblockSize / BlockSize
	CacheBlockNum  uint32 // target thread-cache depth for this class
	SuperblockGoal uint32 // reserved superblocks per process heap
}

// NumClasses is the number of real size classes, not counting the class-0
// large-allocation sentinel.
const NumClasses = 32

// Class 0 is reserved as the large-allocation sentinel; real classes occupy
// indices [1, NumClasses].
const TotalClasses = NumClasses + 1

// LargeClassIndex is the sentinel index used for pages owned by a
// large (class-0) allocation in the page map.
const LargeClassIndex = 0

var (
	once    sync.Once
	classes [TotalClasses]Class
	// maxSZ is the largest request size served by a real class; anything
	// larger bypasses the table entirely.
	maxSZ int
	// lookup maps a compressed index (request size rounded up to a 16-byte
	// granule) directly to a class index, avoiding a linear/binary scan on
	// the hot path. Sized generously for the largest class this table's
	// spacing rule can produce; ClassForSize bound-checks every access.
	lookup [maxGranules]uint8
)

// granule is the rounding unit the direct lookup table is indexed by.
const granule = 16

// maxGranules bounds the lookup table; MaxSize()/granule must stay under it.
const maxGranules = 4096

// Init populates the size-class table. Safe to call from multiple
// goroutines/threads concurrently; only the first call has any effect.
func Init() {
	once.Do(initClasses)
}

func initClasses() {
	pageSize := uint32(os.Getpagesize())

	sizes := generateBlockSizes()
	for i, blockSize := range sizes {
		idx := i + 1 // index 0 is the large-allocation sentinel

		// Aim for roughly 64 blocks per superblock, rounded up to a whole
		// number of OS pages, with a floor of one page.
		target := blockSize * 64
		sbSize := roundUp(target, pageSize)
		if sbSize < pageSize {
			sbSize = pageSize
		}

		blockCount := sbSize / blockSize

		cacheDepth := blockCount
		if cacheDepth > 256 {
			cacheDepth = 256
		}

		if cacheDepth < 8 {
			cacheDepth = 8
		}

		classes[idx] = Class{
			BlockSize:      blockSize,
			SuperblockSize: sbSize,
			BlockCount:     blockCount,
			CacheBlockNum:  cacheDepth,
			SuperblockGoal: 1,
		}
	}

	maxSZ = int(classes[NumClasses].BlockSize)

	// Precompute the direct lookup table once, up front: every entry is
	// written exactly once here, before any goroutine can observe a
	// non-zero value, so ClassForSize's reads need no synchronization of
	// their own beyond the sync.Once that guards initClasses itself.
	classIdx := 1
	for g := 1; g < maxGranules; g++ {
		size := g * granule
		for classIdx < NumClasses && int(classes[classIdx].BlockSize) < size {
			classIdx++
		}

		if size > maxSZ {
			break
		}

		lookup[g] = uint8(classIdx)
	}
}

// generateBlockSizes produces the NumClasses ascending block sizes: 16-byte
// steps up to 128 bytes, then roughly 25% geometric growth thereafter,
// with each step rounded up to a multiple of 16 bytes — the spacing real allocators use to keep
// both internal fragmentation and class-table size small.
func generateBlockSizes() []uint32 {
	sizes := make([]uint32, 0, NumClasses)

	size := uint32(16)
	for len(sizes) < NumClasses {
		sizes = append(sizes, size)

		var step uint32
		if size < 128 {
			step = 16
		} else {
			step = roundUp(size/4, granule)
		}

		size += step
	}

	return sizes
}

func roundUp(n, m uint32) uint32 {
	if m == 0 {
		return n
	}

	return (n + m - 1) &^ (m - 1)
}

// MaxSize returns the largest request size served by the table (MAX_SZ in
// spec terms). Requests larger than this take the large-allocation path.
func MaxSize() int {
	Init()

	return maxSZ
}

// ClassForSize returns the index of the smallest class whose BlockSize is
// at least n, and true. If n exceeds MaxSize it returns (0, false) — the
// large-allocation sentinel.
func ClassForSize(n int) (int, bool) {
	Init()

	if n <= 0 {
		return 1, true
	}

	if n > maxSZ {
		return LargeClassIndex, false
	}

	granules := (n + granule - 1) / granule
	if granules >= len(lookup) {
		return LargeClassIndex, false
	}

	return int(lookup[granules]), true
}

// Get returns the geometry for class index idx (1..NumClasses, or the
// LargeClassIndex sentinel which carries a zero Class).
func Get(idx int) Class {
	Init()

	if idx < 0 || idx >= TotalClasses {
		return Class{}
	}

	return classes[idx]
}

// All returns the populated class table, indices [1, NumClasses].
func All() []Class {
	Init()

	return classes[1:TotalClasses]
}
