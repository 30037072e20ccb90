package memalloc

import "sync/atomic"

// OverrideFlags reports which of the five C ABI entry points have been
// invoked at least once since process start — the diagnostic spec.md §8
// calls "idempotence of the override flags", used to verify that
// LD_PRELOAD interposition actually took effect rather than silently
// falling through to the platform's native allocator.
type OverrideFlags struct {
	Malloc       bool
	Calloc       bool
	Realloc      bool
	Free         bool
	AlignedAlloc bool
}

type overrideObserved struct {
	malloc       atomic.Bool
	calloc       atomic.Bool
	realloc      atomic.Bool
	free         atomic.Bool
	alignedAlloc atomic.Bool
}

var observed overrideObserved

// OverrideObserved returns which entry points have been called at least
// once. Each flag latches true on first call and never resets.
func OverrideObserved() OverrideFlags {
	return OverrideFlags{
		Malloc:       observed.malloc.Load(),
		Calloc:       observed.calloc.Load(),
		Realloc:      observed.realloc.Load(),
		Free:         observed.free.Load(),
		AlignedAlloc: observed.alignedAlloc.Load(),
	}
}
