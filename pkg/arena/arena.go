// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

// Package arena implements the interposer's own small-object allocator
// (spec §4.7). pkg/region's free-map needs to grow its backing slice as
// a region fragments, and that growth must never recurse back into the
// interposer it is itself part of — so it runs over a private,
// page-aligned arena serviced only by pkg/realsys's raw syscall
// trampolines, never by the Go runtime's own allocator-via-mmap path
// (which, in the shared-library deployment this models, would itself
// be intercepted).
package arena

import (
	"sync"
	"unsafe"

	"github.com/zeebo/errs"

	"go.mosalloc.dev/mosalloc/pkg/realsys"
)

// Error is the error class for allocator misuse.
var Error = errs.Class("arena")

// DefaultSize is the static arena buffer size used when Arena is
// constructed via New with a zero size.
const DefaultSize = 256 * 1024

// overflowThreshold is the size above which allocations bypass the
// arena's bump-pointer tier and call into the real mmap directly.
const overflowThreshold = 4096

// maxAlign is the largest alignment the arena tier can satisfy; the
// arena buffer itself is only page-aligned.
const maxAlign = 4096

// Arena is a two-tier allocator: a monotonic bump-pointer watermark
// over a fixed buffer for allocations at or below overflowThreshold,
// and a direct real-mmap fallback for anything larger. Free only
// reclaims arena-tier memory when it is the most recent allocation
// (LIFO); all other Frees either release the overflow mapping or leak,
// which is acceptable because the interposer's own working set is
// bounded by the number of free-map ranges in flight.
type Arena struct {
	mu        sync.Mutex
	buf       []byte
	watermark int
}

// New returns an Arena backed by a page-aligned buffer of size bytes
// (DefaultSize if size is 0), installed via the real, unintercepted
// mmap rather than a Go-heap make([]byte, ...) (which the runtime
// aligns to its allocator's size classes, not the page boundary this
// package's doc promises). Panics if the kernel cannot satisfy the
// mapping, matching the fatal/programming-error class spec §7 assigns
// to a backing mmap failure.
func New(size int) *Arena {
	if size <= 0 {
		size = DefaultSize
	}
	ptr, errno := realsys.MmapAnon(uintptr(size))
	if errno != 0 {
		panic(Error.New("failed to map %d-byte arena buffer: %v", size, errno))
	}
	return &Arena{buf: unsafe.Slice((*byte)(ptr), size)}
}

// Alloc returns size bytes aligned to align, which must be a power of
// two no larger than maxAlign; any other alignment returns an error.
// Requests above overflowThreshold go straight to the real mmap and
// must be released with Free passing the same size.
func (a *Arena) Alloc(size, align uintptr) (unsafe.Pointer, error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return nil, Error.New("alignment %d is not a power of two", align)
	}
	if align > maxAlign {
		return nil, Error.New("alignment %d exceeds maximum supported alignment %d", align, maxAlign)
	}

	if size > overflowThreshold {
		ptr, errno := realsys.MmapAnon(size)
		if errno != 0 {
			return nil, Error.New("overflow mmap failed: %v", errno)
		}
		return ptr, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	base := uintptr(unsafe.Pointer(&a.buf[0]))
	cur := base + uintptr(a.watermark)
	aligned := (cur + align - 1) &^ (align - 1)
	offset := int(aligned-base) + int(size)
	if offset > len(a.buf) {
		return nil, Error.New("arena exhausted: requested %d bytes, %d remain", size, len(a.buf)-a.watermark)
	}

	a.watermark = offset
	return unsafe.Pointer(aligned), nil
}

// Free releases ptr/size. If ptr is the most recent arena-tier
// allocation it is reclaimed immediately (LIFO); any other arena-tier
// pointer leaks, by design. Overflow-tier allocations (size >
// overflowThreshold) are released via the real munmap.
func (a *Arena) Free(ptr unsafe.Pointer, size uintptr) {
	if size > overflowThreshold {
		_ = realsys.Munmap(uintptr(ptr), size)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	base := uintptr(unsafe.Pointer(&a.buf[0]))
	top := base + uintptr(a.watermark)
	if uintptr(ptr)+size == top {
		a.watermark -= int(size)
	}
}

// InUse returns the number of arena-tier bytes currently allocated,
// for diagnostics and tests.
func (a *Arena) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.watermark
}

// Cap returns the arena's total buffer size.
func (a *Arena) Cap() int {
	return len(a.buf)
}
