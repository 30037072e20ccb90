package engine

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/orizon-lang/memalloc/internal/sizeclass"
)

func TestEngine_MallocWriteFree(t *testing.T) {
	e := New()

	ptr, err := e.Alloc(8, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), 8)
	for i := range b {
		b[i] = byte(i + 1)
	}

	for i := range b {
		if b[i] != byte(i+1) {
			t.Fatalf("byte %d corrupted: got %d", i, b[i])
		}
	}

	e.Free(ptr)
}

func TestEngine_MallocMayReuseFreedBlock(t *testing.T) {
	e := New()

	first, err := e.Alloc(8, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	e.Free(first)

	second, err := e.Alloc(8, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if second != first {
		t.Logf("second alloc at %x did not reuse freed block at %x (not required, just common)", second, first)
	}
}

func TestEngine_CallocZeroesMemory(t *testing.T) {
	e := New()

	ptr, err := e.Calloc(1, 8)
	if err != nil {
		t.Fatalf("Calloc: %v", err)
	}

	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), 8)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %d, want 0", i, v)
		}
	}
}

func TestEngine_CallocDetectsOverflow(t *testing.T) {
	e := New()

	const maxUintptr = ^uintptr(0)

	if _, err := e.Calloc(maxUintptr, 2); err == nil {
		t.Fatal("expected overflow error from Calloc")
	}
}

func TestEngine_ReallocSameClassReturnsSamePointer(t *testing.T) {
	e := New()

	sizeclass.Init()

	ptr, err := e.Alloc(8, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	class0, _ := sizeclass.ClassForSize(8)

	// Pick a second size guaranteed to land in the same class as 8.
	sameClassSize := int(sizeclass.Get(class0).BlockSize)

	again, err := e.Realloc(ptr, uintptr(sameClassSize))
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}

	if again != ptr {
		t.Fatalf("Realloc within the same class returned %x, want original %x", again, ptr)
	}
}

func TestEngine_ReallocGrowsAndPreservesPrefix(t *testing.T) {
	e := New()

	ptr, err := e.Alloc(8, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	src := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), 8)
	for i := range src {
		src[i] = byte(0xA0 + i)
	}

	grown, err := e.Realloc(ptr, 256)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}

	if grown == ptr {
		t.Fatal("expected a different pointer after growing across size classes")
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(grown)), 8)
	for i := range dst {
		if dst[i] != byte(0xA0+i) {
			t.Fatalf("byte %d = %#x, want %#x", i, dst[i], byte(0xA0+i))
		}
	}
}

func TestEngine_ReallocNullIsMalloc(t *testing.T) {
	e := New()

	ptr, err := e.Realloc(0, 32)
	if err != nil {
		t.Fatalf("Realloc(0, 32): %v", err)
	}

	if ptr == 0 {
		t.Fatal("Realloc(0, n) returned a null pointer")
	}
}

func TestEngine_ReallocZeroSizeFreesAndReturnsMinimum(t *testing.T) {
	e := New()

	ptr, err := e.Alloc(8, 64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	min, err := e.Realloc(ptr, 0)
	if err != nil {
		t.Fatalf("Realloc(ptr, 0): %v", err)
	}

	if min == 0 {
		t.Fatal("Realloc(ptr, 0) returned a null pointer")
	}
}

func TestEngine_AlignedAllocSatisfiesAlignment(t *testing.T) {
	e := New()

	ptr, err := e.Alloc(64, 128)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if ptr%64 != 0 {
		t.Fatalf("pointer %x is not 64-byte aligned", ptr)
	}
}

func TestEngine_AlignedAllocRejectsNonPowerOfTwo(t *testing.T) {
	e := New()

	if _, err := e.Alloc(3, 8); err == nil {
		t.Fatal("expected an error for a non-power-of-two alignment")
	}
}

func TestEngine_LargeAllocationUnregisteredAfterFree(t *testing.T) {
	e := New()

	sizeclass.Init()

	size := uintptr(sizeclass.MaxSize() + 1)

	ptr, err := e.Alloc(8, size)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	e.Free(ptr)

	if got := e.UsableSize(ptr); got != 0 {
		t.Fatalf("UsableSize after freeing a large allocation = %d, want 0", got)
	}
}

func TestEngine_ThirtyThreadsNetZeroOutstanding(t *testing.T) {
	e := New()

	const (
		workers = 30
		rounds  = 10
	)

	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < rounds; i++ {
				ptr, err := e.Alloc(8, 32)
				if err != nil {
					t.Errorf("Alloc: %v", err)
					return
				}

				e.Free(ptr)
			}
		}()
	}

	wg.Wait()

	if got := e.Stats().Total; got != 0 {
		t.Fatalf("outstanding blocks across all heaps = %d, want 0", got)
	}
}

func TestEngine_ConcurrentAllocFree(t *testing.T) {
	e := New()

	const (
		workers = 30
		rounds  = 10
	)

	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < rounds; i++ {
				ptr, err := e.Alloc(8, 24)
				if err != nil {
					t.Errorf("Alloc: %v", err)
					return
				}

				e.Free(ptr)
			}
		}()
	}

	wg.Wait()
}
