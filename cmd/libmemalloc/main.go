// Command libmemalloc builds this allocator as a C shared library that
// exports the five libc entry points under their exact platform names, so
// it can be LD_PRELOAD'd ahead of the system allocator:
//
//	go build -buildmode=c-shared -o libmemalloc.so ./cmd/libmemalloc
//	LD_PRELOAD=./libmemalloc.so some-program
//
// Every exported function is a thin cgo wrapper delegating to the root
// memalloc package; all allocator logic lives there so it stays testable
// without cgo.
package main

/*
#include <pthread.h>

extern void memallocThreadExitHook(void *);

static inline void memalloc_make_key(pthread_key_t *key) {
	pthread_key_create(key, memallocThreadExitHook);
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/orizon-lang/memalloc"
)

var (
	tlsKeyOnce sync.Once
	tlsKey     C.pthread_key_t
)

// registerThreadExit installs this process's pthread TLS destructor once,
// then arms it for the calling thread by giving its slot a non-null
// value — pthread only invokes a key's destructor at thread exit if the
// slot held a non-null value. This is the Go side of spec.md §9's "thread
// exit cleanup" requirement; without it, blocks freed into a cache whose
// owning thread has exited stay unreachable until another thread's frees
// happen to drain the same superblocks.
func registerThreadExit() {
	tlsKeyOnce.Do(func() {
		C.memalloc_make_key(&tlsKey)
	})

	if C.pthread_getspecific(tlsKey) == nil {
		C.pthread_setspecific(tlsKey, unsafe.Pointer(&tlsKey))
	}
}

//export memallocThreadExitHook
func memallocThreadExitHook(_ unsafe.Pointer) {
	memalloc.UnbindCurrentThread()
}

//export malloc
func malloc(size C.size_t) unsafe.Pointer {
	registerThreadExit()

	return memalloc.Malloc(uintptr(size))
}

//export calloc
func calloc(n, size C.size_t) unsafe.Pointer {
	registerThreadExit()

	return memalloc.Calloc(uintptr(n), uintptr(size))
}

//export realloc
func realloc(ptr unsafe.Pointer, newSize C.size_t) unsafe.Pointer {
	registerThreadExit()

	return memalloc.Realloc(ptr, uintptr(newSize))
}

//export free
func free(ptr unsafe.Pointer) {
	memalloc.Free(ptr)
}

//export aligned_alloc
func aligned_alloc(alignment, size C.size_t) unsafe.Pointer {
	registerThreadExit()

	return memalloc.AlignedAlloc(uintptr(alignment), uintptr(size))
}

func main() {}
