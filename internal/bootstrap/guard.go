package bootstrap

import (
	"sync/atomic"

	"github.com/orizon-lang/memalloc/internal/concurrency"
)

// Guard is the re-entry guard from spec.md §4.H: a process-wide
// use-bootstrap flag, plus a per-thread flag recording whether a thread
// token has been seen before. Both are real compare-and-swap booleans rather than
// read-then-write pairs, per spec.md §9 — two threads racing to perform
// the one-time global init must not both believe they won.
type Guard struct {
	useBootstrap atomic.Bool
	threadInit   *concurrency.LockFreeMap[*atomic.Bool]
}

// NewGuard returns a guard with bootstrap mode off and no threads marked
// initialized.
func NewGuard() *Guard {
	return &Guard{
		threadInit: concurrency.NewUint64LockFreeMap[*atomic.Bool](256),
	}
}

// EnterGlobalInit reports whether the caller is the one that should
// perform one-time global initialization (the size-class table, page
// map, heap array, and descriptor pool), turning bootstrap mode on for
// the duration. Exactly one caller across all threads observes true until
// ExitGlobalInit turns bootstrap mode off; after that the next caller wins
// again.
func (g *Guard) EnterGlobalInit() bool {
	return g.useBootstrap.CompareAndSwap(false, true)
}

// ExitGlobalInit turns bootstrap mode off once global init has completed.
func (g *Guard) ExitGlobalInit() {
	g.useBootstrap.Store(false)
}

// UseBootstrap reports whether allocation requests should currently be
// satisfied from the bump reserve instead of the normal engine path.
func (g *Guard) UseBootstrap() bool {
	return g.useBootstrap.Load()
}

// EnterThreadInit reports whether this is the first call for the thread
// identified by token. Exactly one caller per token observes true; later
// calls for the same token always observe false. It does not turn
// bootstrap mode on, and the engine does not install thread caches from
// the reserve.
func (g *Guard) EnterThreadInit(token uint64) bool {
	flag, _ := g.threadInit.LoadOrStore(token, &atomic.Bool{})
	return flag.CompareAndSwap(false, true)
}
