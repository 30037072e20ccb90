package threadcache

import (
	"bytes"
	"runtime"
	"strconv"
)

// syntheticBase keeps a goroutine-derived fallback token out of the range
// a real gettid() could plausibly return, so the two spaces never collide
// even though only one is ever in use for a given build.
const syntheticBase = uint64(1) << 48

// BindCurrentThread returns a token identifying the calling thread: the
// kernel thread id on Linux (stable across every cgo call from the same
// pthread), or a synthetic token derived from the calling goroutine
// elsewhere (non-Linux builds, or plain `go test` with no cgo caller).
// The engine calls this on every small allocation and free; it does no
// bookkeeping of its own here because token derivation is stateless —
// Registry is what remembers a thread's cache.
func BindCurrentThread() uint64 {
	if tid, ok := realThreadID(); ok {
		return tid
	}

	return syntheticBase | goroutineID()
}

// UnbindCurrentThread exists for symmetry with BindCurrentThread and for
// the cgo shim's pthread TLS destructor to call; there is no per-thread
// Go-side state to release beyond what Registry.Unbind already handles.
func UnbindCurrentThread() {}

func currentToken() uint64 { return BindCurrentThread() }

// goroutineID parses the numeric id out of runtime.Stack's header line.
// It is only reached on the synthetic fallback path (non-Linux, or no
// cgo caller), where it gives a token that is stable for as long as the
// calling goroutine is pinned to its OS thread.
func goroutineID() uint64 {
	var buf [64]byte

	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])

	if len(fields) < 2 {
		return 0
	}

	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}

	return id
}
