package stats

import "testing"

func TestCounters_RecordAllocFree(t *testing.T) {
	c := NewCounters()

	c.RecordAlloc(3)
	c.RecordAlloc(3)
	c.RecordFree(3)

	snap := c.Snapshot()

	var got int64
	for _, cc := range snap.Classes {
		if cc.ClassIdx == 3 {
			got = cc.Outstanding
		}
	}

	if got != 1 {
		t.Fatalf("class 3 outstanding = %d, want 1", got)
	}

	if snap.Total != 1 {
		t.Fatalf("Total = %d, want 1", snap.Total)
	}
}

func TestCounters_ZeroInitially(t *testing.T) {
	c := NewCounters()

	snap := c.Snapshot()
	if snap.Total != 0 {
		t.Fatalf("Total = %d, want 0", snap.Total)
	}
}
