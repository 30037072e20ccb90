//go:build windows

package segment

import (
	"golang.org/x/sys/windows"

	"github.com/orizon-lang/memalloc/internal/allocerr"
)

func osPageSize() int {
	var info windows.SystemInfo
	windows.GetSystemInfo(&info)

	return int(info.PageSize)
}

// osMap reserves and commits anonymous, zero-initialized memory via
// VirtualAlloc, mirroring the segment allocator's unix mmap counterpart.
func osMap(size int) (Segment, error) {
	pageSize := osPageSize()
	rounded := roundUpToPage(size, pageSize)

	addr, err := windows.VirtualAlloc(0, uintptr(rounded), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return Segment{}, allocerr.New(allocerr.OutOfMemory, "segment.osMap", err.Error())
	}

	return Segment{Base: addr, Size: uintptr(rounded)}, nil
}

func osUnmap(s Segment) error {
	if err := windows.VirtualFree(s.Base, 0, windows.MEM_RELEASE); err != nil {
		return allocerr.New(allocerr.OutOfMemory, "segment.osUnmap", err.Error())
	}

	return nil
}

