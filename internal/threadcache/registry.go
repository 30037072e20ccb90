package threadcache

import "github.com/orizon-lang/memalloc/internal/concurrency"

// Registry maps an OS thread token to that thread's cache. It is the
// allocator's one piece of state addressed by thread identity rather than
// by size class or address, standing in for the pthread TLS slot a native
// allocator would use.
type Registry struct {
	deps  Deps
	byTok *concurrency.LockFreeMap[*Cache]
}

// NewRegistry returns an empty registry backed by deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:  deps,
		byTok: concurrency.NewUint64LockFreeMap[*Cache](256),
	}
}

// Current returns the calling thread's cache, creating one on first use.
func (r *Registry) Current() *Cache {
	tok := BindCurrentThread()

	if c, ok := r.byTok.Load(tok); ok {
		return c
	}

	c, _ := r.byTok.LoadOrStore(tok, NewCache(r.deps))

	return c
}

// Unbind drains and discards the calling thread's cache, if it has one.
// The cgo shim calls this from a pthread TLS destructor so no blocks are
// stranded when a thread exits with a non-empty cache.
func (r *Registry) Unbind() {
	tok := currentToken()

	if c, ok := r.byTok.Load(tok); ok {
		c.Drain()
		r.byTok.Delete(tok)
	}

	UnbindCurrentThread()
}
