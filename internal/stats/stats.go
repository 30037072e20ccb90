// Package stats provides diagnostic counters consumed by tests and
// optional debug output. It never feeds back into an allocation decision;
// spec.md §1 explicitly puts allocation-pattern tuning out of scope, but
// the counters themselves are the same ambient observability the teacher
// repo carries in AllocatorStats.
package stats

import (
	"sync/atomic"

	"github.com/orizon-lang/memalloc/internal/sizeclass"
)

// Counters tracks outstanding (allocated-but-not-freed) blocks per size
// class. Safe for concurrent use from every allocating thread.
type Counters struct {
	outstanding [sizeclass.TotalClasses]atomic.Int64
}

// NewCounters returns a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{}
}

// RecordAlloc marks one more outstanding block in classIdx.
func (c *Counters) RecordAlloc(classIdx int) {
	c.outstanding[classIdx].Add(1)
}

// RecordFree marks one fewer outstanding block in classIdx.
func (c *Counters) RecordFree(classIdx int) {
	c.outstanding[classIdx].Add(-1)
}

// ClassCount is one size class's outstanding-block count in a Snapshot.
type ClassCount struct {
	ClassIdx    int
	Outstanding int64
}

// Snapshot is a point-in-time read of every class's outstanding count.
type Snapshot struct {
	Classes []ClassCount
	Total   int64
}

// Snapshot reads every class's counter. The result may be stale the
// instant it is returned under concurrent allocation; it is a diagnostic,
// not a linearizable view.
func (c *Counters) Snapshot() Snapshot {
	classes := make([]ClassCount, 0, sizeclass.TotalClasses)

	var total int64

	for i := range c.outstanding {
		v := c.outstanding[i].Load()
		total += v
		classes = append(classes, ClassCount{ClassIdx: i, Outstanding: v})
	}

	return Snapshot{Classes: classes, Total: total}
}
