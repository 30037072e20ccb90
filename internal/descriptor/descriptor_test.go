package descriptor

import (
	"sync"
	"testing"
	"unsafe"
)

func newTestDescriptor(t *testing.T, maxCount uint32, blockSize uintptr) (*Descriptor, []byte) {
	t.Helper()

	buf := make([]byte, uintptr(maxCount)*blockSize)
	base := uintptr(unsafe.Pointer(&buf[0]))

	d := &Descriptor{}
	d.Init(base, uintptr(len(buf)), blockSize, maxCount, 3, 1)

	return d, buf
}

func TestDescriptor_PopBlockDrainsToFull(t *testing.T) {
	const maxCount = 16

	d, _ := newTestDescriptor(t, maxCount, 64)

	seen := map[uint32]bool{}

	for i := 0; i < maxCount; i++ {
		idx, ok := d.PopBlock()
		if !ok {
			t.Fatalf("PopBlock failed at iteration %d", i)
		}

		if seen[idx] {
			t.Fatalf("block %d popped twice", idx)
		}

		seen[idx] = true
	}

	if d.State() != StateFull {
		t.Fatalf("state = %v after draining all blocks, want FULL", d.State())
	}

	if _, ok := d.PopBlock(); ok {
		t.Fatal("PopBlock succeeded on a FULL descriptor")
	}

	if len(seen) != maxCount {
		t.Fatalf("saw %d distinct blocks, want %d", len(seen), maxCount)
	}
}

func TestDescriptor_PushBlocksRefillsToEmpty(t *testing.T) {
	const maxCount = 8

	d, _ := newTestDescriptor(t, maxCount, 32)

	var popped []uint32
	for i := 0; i < maxCount; i++ {
		idx, ok := d.PopBlock()
		if !ok {
			t.Fatalf("PopBlock failed at %d", i)
		}

		popped = append(popped, idx)
	}

	for i := 0; i < len(popped)-1; i++ {
		d.writeSlotNext(popped[i], popped[i+1])
	}

	wasFull, becameEmpty := d.PushBlocks(popped[0], popped[len(popped)-1], uint32(len(popped)))
	if !wasFull {
		t.Fatal("wasFull = false, want true (descriptor was drained to FULL)")
	}

	if !becameEmpty {
		t.Fatal("becameEmpty = false, want true (all blocks returned)")
	}

	if d.State() != StateEmpty {
		t.Fatalf("state = %v after returning every block, want EMPTY", d.State())
	}
}

func TestDescriptor_ConcurrentPopNoDoubleIssue(t *testing.T) {
	const (
		maxCount = 2048
		workers  = 16
	)

	d, _ := newTestDescriptor(t, maxCount, 16)

	var mu sync.Mutex

	seen := make(map[uint32]bool, maxCount)

	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				idx, ok := d.PopBlock()
				if !ok {
					return
				}

				mu.Lock()
				if seen[idx] {
					mu.Unlock()
					t.Errorf("block %d issued twice", idx)

					return
				}

				seen[idx] = true
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if len(seen) != maxCount {
		t.Fatalf("issued %d distinct blocks, want %d", len(seen), maxCount)
	}

	if d.State() != StateFull {
		t.Fatalf("state = %v after full drain, want FULL", d.State())
	}
}
