package sizeclass

import "testing"

func TestClassForSize_Monotonic(t *testing.T) {
	Init()

	prev := uint32(0)

	for n := 1; n <= MaxSize(); n++ {
		idx, ok := ClassForSize(n)
		if !ok {
			t.Fatalf("size %d within MaxSize unexpectedly routed to large path", n)
		}

		c := Get(idx)
		if uint32(n) > c.BlockSize {
			t.Fatalf("size %d assigned class %d with block size %d", n, idx, c.BlockSize)
		}

		if c.BlockSize < prev {
			t.Fatalf("class sizes not monotonic at size %d: %d < %d", n, c.BlockSize, prev)
		}

		prev = c.BlockSize
	}
}

func TestClassForSize_LargeSentinel(t *testing.T) {
	idx, ok := ClassForSize(MaxSize() + 1)
	if ok || idx != LargeClassIndex {
		t.Fatalf("expected large sentinel, got idx=%d ok=%v", idx, ok)
	}

	idx, ok = ClassForSize(1 << 30)
	if ok || idx != LargeClassIndex {
		t.Fatalf("expected large sentinel for huge size, got idx=%d ok=%v", idx, ok)
	}
}

func TestClassForSize_Zero(t *testing.T) {
	idx, ok := ClassForSize(0)
	if !ok {
		t.Fatal("size 0 should round up within the table")
	}

	if Get(idx).BlockSize == 0 {
		t.Fatal("class 0 block size should not be used for size 0")
	}
}

func TestAll_ClassCountAndGeometry(t *testing.T) {
	all := All()
	if len(all) != NumClasses {
		t.Fatalf("got %d classes, want %d", len(all), NumClasses)
	}

	for i, c := range all {
		if c.BlockCount == 0 || c.SuperblockSize == 0 {
			t.Fatalf("class %d has zero geometry: %+v", i+1, c)
		}

		if c.SuperblockSize < c.BlockSize*c.BlockCount {
			t.Fatalf("class %d superblock too small for its blocks: %+v", i+1, c)
		}

		if c.CacheBlockNum < 8 || c.CacheBlockNum > 256 {
			t.Fatalf("class %d cache depth out of bounds: %d", i+1, c.CacheBlockNum)
		}
	}
}

func TestInit_Idempotent(t *testing.T) {
	Init()
	before := All()[0]
	Init()
	Init()
	after := All()[0]

	if before != after {
		t.Fatalf("Init mutated the table on repeat calls: %+v vs %+v", before, after)
	}
}
