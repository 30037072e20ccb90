package threadcache

import (
	"testing"

	"github.com/orizon-lang/memalloc/internal/descriptor"
	"github.com/orizon-lang/memalloc/internal/pagemap"
	"github.com/orizon-lang/memalloc/internal/procheap"
	"github.com/orizon-lang/memalloc/internal/segment"
	"github.com/orizon-lang/memalloc/internal/sizeclass"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()

	sizeclass.Init()

	pool := descriptor.NewPool()
	deps := Deps{
		Table: procheap.NewTable(pool),
		Pool:  pool,
		Pages: &pagemap.Map{},
		Seg:   segment.Allocator{},
	}

	return NewCache(deps)
}

func TestCache_PopFillsFromFreshSuperblock(t *testing.T) {
	c := newTestCache(t)

	const classIdx = 3

	addr, err := c.Pop(classIdx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}

	if addr == 0 {
		t.Fatal("Pop returned a zero address")
	}
}

func TestCache_PushPopRoundTrip(t *testing.T) {
	c := newTestCache(t)

	const classIdx = 5

	addr, err := c.Pop(classIdx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}

	// A fresh fill leaves the bin one block short of the cache depth, so
	// pushing the only popped block back would reach the flush threshold
	// and flush it; keep a second block out so the push stays below it.
	if _, err := c.Pop(classIdx); err != nil {
		t.Fatalf("spare Pop: %v", err)
	}

	c.Push(classIdx, addr)

	again, err := c.Pop(classIdx)
	if err != nil {
		t.Fatalf("second Pop: %v", err)
	}

	if again != addr {
		t.Fatalf("expected LIFO reuse of %x, got %x", addr, again)
	}
}

func TestCache_DistinctBlocksAcrossManyPops(t *testing.T) {
	c := newTestCache(t)

	const classIdx = 2

	class := sizeclass.Get(classIdx)
	n := int(class.CacheBlockNum) * 3

	seen := make(map[uintptr]bool, n)

	for i := 0; i < n; i++ {
		addr, err := c.Pop(classIdx)
		if err != nil {
			t.Fatalf("Pop %d: %v", i, err)
		}

		if seen[addr] {
			t.Fatalf("address %x issued twice", addr)
		}

		seen[addr] = true
	}
}

func TestCache_FlushTriggeredByPushOverCacheDepth(t *testing.T) {
	c := newTestCache(t)

	const classIdx = 1

	class := sizeclass.Get(classIdx)

	addrs := make([]uintptr, 0, class.CacheBlockNum+1)
	for i := 0; i < int(class.CacheBlockNum)+1; i++ {
		addr, err := c.Pop(classIdx)
		if err != nil {
			t.Fatalf("Pop %d: %v", i, err)
		}

		addrs = append(addrs, addr)
	}

	for _, addr := range addrs {
		c.Push(classIdx, addr)
	}

	if c.bins[classIdx].count >= int(class.CacheBlockNum) {
		t.Fatalf("bin count %d did not shrink after crossing cache depth %d", c.bins[classIdx].count, class.CacheBlockNum)
	}
}

func TestCache_DrainEmptiesAllBins(t *testing.T) {
	c := newTestCache(t)

	const classIdx = 4

	addr, err := c.Pop(classIdx)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}

	c.Push(classIdx, addr)

	c.Drain()

	if c.bins[classIdx].count != 0 {
		t.Fatalf("bin count = %d after Drain, want 0", c.bins[classIdx].count)
	}
}
