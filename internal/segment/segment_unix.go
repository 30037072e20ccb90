//go:build unix

package segment

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/orizon-lang/memalloc/internal/allocerr"
)

func osPageSize() int { return unix.Getpagesize() }

// osMap allocates anonymous, zero-initialized, page-aligned memory via
// mmap. Grounded on the mmap-backed arena pattern used for large lock-free
// buffers elsewhere in the corpus (storj-storj's jobqueue_unix.go).
func osMap(size int) (Segment, error) {
	pageSize := unix.Getpagesize()
	rounded := roundUpToPage(size, pageSize)

	b, err := unix.Mmap(-1, 0, rounded, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return Segment{}, allocerr.New(allocerr.OutOfMemory, "segment.osMap", err.Error())
	}

	base := uintptr(unsafe.Pointer(&b[0]))
	if base&uintptr(pageSize-1) != 0 {
		// mmap is contractually page-aligned; this would indicate a
		// platform bug, not a recoverable allocator condition.
		panic("memalloc: mmap returned a non-page-aligned address")
	}

	return Segment{Base: base, Size: uintptr(rounded)}, nil
}

func osUnmap(s Segment) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(s.Base)), int(s.Size))

	if err := unix.Munmap(b); err != nil {
		return allocerr.New(allocerr.OutOfMemory, "segment.osUnmap", err.Error())
	}

	return nil
}
