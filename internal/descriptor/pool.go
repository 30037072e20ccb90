package descriptor

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/memalloc/internal/concurrency"
	"github.com/orizon-lang/memalloc/internal/segment"
)

// slabBytes is the size of one descriptor slab's backing segment. A
// Descriptor holds no Go pointers (its fields are uintptr/int/uint32 and
// an atomic.Uint64), so carving an array of them out of raw OS-mapped
// memory needs no special GC treatment.
const slabBytes = descriptorsPerSlab * unsafe.Sizeof(Descriptor{})

// descriptorsPerSlab descriptors are carved from a single segment at a
// time, referenced by slab index rather than pointer so the pool's free
// stack (and every other structure that names a descriptor) fits in a
// single-word CAS.
const descriptorsPerSlab = 4096

type slabTable struct {
	slabs []*[descriptorsPerSlab]Descriptor
}

// Pool is the global, lock-free pool of descriptors described in spec.md
// §4.D: alloc() pops a free descriptor or grows the pool; retire() pushes
// a descriptor back once its superblock has been returned.
type Pool struct {
	growMu sync.Mutex
	table  atomic.Pointer[slabTable]
	free   *concurrency.TagStack
	seg    segment.Allocator
}

// NewPool returns an empty descriptor pool.
func NewPool() *Pool {
	p := &Pool{free: concurrency.NewTagStack()}
	p.table.Store(&slabTable{})

	return p
}

// Get returns the descriptor at index. The pool never moves or frees a
// descriptor once its slab is allocated, so the returned pointer remains
// valid for the process lifetime.
func (p *Pool) Get(index uint32) *Descriptor { return p.get(index) }

func (p *Pool) get(index uint32) *Descriptor {
	t := p.table.Load()
	slabIdx := index / descriptorsPerSlab
	off := index % descriptorsPerSlab

	return &t.slabs[slabIdx][off]
}

func (p *Pool) getNext(index uint32) uint32 { return p.get(index).link }
func (p *Pool) setNext(index, next uint32)  { p.get(index).link = next }

// Alloc pops a free descriptor from the pool, growing it from fresh memory
// if none is available.
func (p *Pool) Alloc() (uint32, *Descriptor) {
	if idx, ok := p.free.Pop(p.getNext); ok {
		return idx, p.get(idx)
	}

	p.grow()

	idx, ok := p.free.Pop(p.getNext)
	if !ok {
		panic("descriptor: pool grow did not make a descriptor available")
	}

	return idx, p.get(idx)
}

// Retire returns an EMPTY, unlinked descriptor to the free pool.
func (p *Pool) Retire(index uint32) {
	p.free.Push(index, p.setNext)
}

func (p *Pool) grow() {
	p.growMu.Lock()
	defer p.growMu.Unlock()

	old := p.table.Load()
	base := uint32(len(old.slabs)) * descriptorsPerSlab

	seg, err := p.seg.Allocate(int(slabBytes))
	if err != nil {
		panic("descriptor: failed to allocate a new descriptor slab: " + err.Error())
	}

	fresh := (*[descriptorsPerSlab]Descriptor)(unsafe.Pointer(seg.Base))

	grown := &slabTable{slabs: make([]*[descriptorsPerSlab]Descriptor, len(old.slabs)+1)}
	copy(grown.slabs, old.slabs)
	grown.slabs[len(old.slabs)] = fresh

	p.table.Store(grown)

	for i := uint32(descriptorsPerSlab); i > 0; i-- {
		p.free.Push(base+i-1, p.setNext)
	}
}
