// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

package region

import (
	"golang.org/x/sys/unix"

	"go.mosalloc.dev/mosalloc/internal/memory"
	"go.mosalloc.dev/mosalloc/internal/sync2"
	"go.mosalloc.dev/mosalloc/pkg/arena"
	"go.mosalloc.dev/mosalloc/pkg/pageplan"
	"go.mosalloc.dev/mosalloc/pkg/realsys"
)

// Kind mirrors pageplan.Kind: which of the three managed regions this
// Region is. Expressed as a tag rather than via subtyping (spec §9,
// "polymorphism over region kind"), since the three kinds share all
// of their free-map machinery and differ only in a few conditional
// branches.
type Kind = pageplan.Kind

// Re-export the three kinds so callers need not import pageplan just
// to name a Region's kind.
const (
	KindHeap = pageplan.KindHeap
	KindAnon = pageplan.KindAnon
	KindFile = pageplan.KindFile
)

// Region owns a page-size plan, a free-map, and the OS backing behind
// every address it has reserved. Exactly one Region exists per kind
// for the lifetime of the process; it is created unplaced and placed
// once by Init. All mutation after Init happens under lock.
type Region struct {
	Kind Kind
	Pool *pageplan.Pool

	lock   *sync2.Futex
	free   *FreeMap
	start  uintptr
	max    uintptr
	end    uintptr // watermark: end of the highest currently reserved range
	placed bool
	dryrun bool
	arena  *arena.Arena
}

// New returns a Region for pool, unplaced (Start()/Max() read 0 until
// Init is called). dryrun, when true, skips huge-page backing
// installation entirely (spec's HPC_DRYRUN), useful for address-space
// layout tests that must not require any huge pages to actually be
// reserved on the host.
func New(kind Kind, pool *pageplan.Pool, a *arena.Arena, dryrun bool) *Region {
	return &Region{
		Kind:   kind,
		Pool:   pool,
		arena:  a,
		free:   NewFreeMap(a),
		lock:   sync2.NewFutex(),
		dryrun: dryrun,
	}
}

// Init places the region at start (aligned up to the pool's maximum
// page size), seeds the free-map with the whole span free, and resets
// the watermark to the region's start.
func (r *Region) Init(start uintptr) {
	maxPgsz := uintptr(r.Pool.MaxPageSize())
	start = alignUp(start, maxPgsz)

	r.start = start
	r.max = start + r.Pool.MaxEnd()
	r.end = start
	r.free.Give(r.start, r.max-r.start)
	r.placed = true
}

// Start returns the region's base address. Zero until Init is called.
func (r *Region) Start() uintptr { return r.start }

// Max returns one past the region's highest addressable byte.
func (r *Region) Max() uintptr { return r.max }

// Placed reports whether Init has run.
func (r *Region) Placed() bool { return r.placed }

// Watermark returns end: one past the highest address currently
// reserved in this region (the heap's brk). FreeRange retracts it.
func (r *Region) Watermark() uintptr {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.end
}

// FreeRanges returns a snapshot of the region's free-map, sorted
// ascending, for diagnostics and tests.
func (r *Region) FreeRanges() [][2]uintptr {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.free.Ranges()
}

// Contains reports whether addr falls within [Start, Max). Reads only
// immutable fields so callers needn't hold the lock (spec §5,
// "Observers ... do not need the lock").
func (r *Region) Contains(addr uintptr) bool {
	return r.placed && addr >= r.start && addr < r.max
}

// AllocRange reserves length bytes (rounded up to the base page size)
// per the placement rules in spec §4.2 and, unless dryrun or the
// region is file-kind, installs huge-page backing behind every byte.
// flags carries the caller's mmap(2) flag bits; only MAP_FIXED and
// MAP_FIXED_NOREPLACE affect placement here.
func (r *Region) AllocRange(hint, length uintptr, prot int32, flags int32, dryrun bool) (uintptr, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.allocRangeLocked(hint, length, prot, flags, dryrun)
}

// allocRangeLocked is AllocRange's body, for callers that already hold
// r.lock as part of a larger compound operation (AdjustBreak/
// AdjustBreakBy below) that must not release the lock between reading
// state and committing the allocation (spec §5).
func (r *Region) allocRangeLocked(hint, length uintptr, prot int32, flags int32, dryrun bool) (uintptr, bool) {
	length = alignUp(length, uintptr(pageplan.BasePageSize))

	addr, ok := r.allocLocked(hint, length, flags)
	if !ok {
		return 0, false
	}

	r.bumpWatermark(addr, length)

	if !dryrun && !r.dryrun && r.Kind != KindFile {
		r.installBacking(addr, length, prot)
	}

	return addr, true
}

func (r *Region) allocLocked(hint, length uintptr, flags int32) (uintptr, bool) {
	switch {
	case flags&unix.MAP_FIXED_NOREPLACE != 0:
		return r.free.Take(hint, length)

	case flags&unix.MAP_FIXED != 0:
		if addr, ok := r.free.Take(hint, length); ok {
			return addr, true
		}
		// MAP_FIXED over an already-reserved range: idempotent
		// overwrite, succeeds unconditionally per spec §4.2.
		return hint, true

	default:
		if addr, ok := r.free.Take(hint, length); ok {
			return addr, true
		}
		return r.free.Take(0, length)
	}
}

func (r *Region) bumpWatermark(addr, length uintptr) {
	if addr+length > r.end {
		r.end = addr + length
	}
}

// FreeRange returns [addr, addr+len) to the free-map and, if the freed
// range had extended the watermark, retracts end to the new
// high-water mark: the start of the region's topmost free range, or
// Start if the region is now entirely free.
func (r *Region) FreeRange(addr, length uintptr) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.freeRangeLocked(addr, length)
}

// freeRangeLocked is FreeRange's body, for callers that already hold
// r.lock (AdjustBreak/AdjustBreakBy below).
func (r *Region) freeRangeLocked(addr, length uintptr) {
	length = alignUp(length, uintptr(pageplan.BasePageSize))

	r.free.Give(addr, length)

	if addr+length < r.end {
		return
	}

	ranges := r.free.Ranges()
	if len(ranges) == 0 {
		r.end = r.max
		return
	}
	top := ranges[len(ranges)-1]
	if top[1] == r.max {
		r.end = top[0]
	} else {
		r.end = r.max
	}
}

// AdjustBreak implements the heap's brk(2) semantics: newbrk is an
// absolute target address. The read of the current watermark and the
// grow-or-shrink that follows it run under a single critical section,
// so two concurrent callers can never both observe the same old break
// and both act on it (spec §5, "all mutating operations on a region
// ... happen under the region's lock"). Returns the pre-adjustment
// watermark and whether the adjustment succeeded; a failed grow leaves
// the region unchanged.
func (r *Region) AdjustBreak(newbrk uintptr, prot, flags int32) (old uintptr, ok bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	old = r.end
	return old, r.adjustBreakLocked(newbrk, prot, flags)
}

// AdjustBreakBy implements the heap's sbrk(2) semantics: incr is
// relative to the current break. newbrk is computed from the current
// watermark in the same critical section as the adjustment itself, so
// a concurrent sbrk cannot land on a stale "old" value the way calling
// Watermark() and then AdjustBreak separately would (spec §5).
func (r *Region) AdjustBreakBy(incr int64, prot, flags int32) (old, newbrk uintptr, ok bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	old = r.end
	newbrk = uintptr(int64(old) + incr)
	return old, newbrk, r.adjustBreakLocked(newbrk, prot, flags)
}

// adjustBreakLocked grows or shrinks the heap's unique allocated
// interval [start, end) to newbrk, per spec §4.3's brk/sbrk core.
// Callers must already hold r.lock.
func (r *Region) adjustBreakLocked(newbrk uintptr, prot, flags int32) bool {
	if newbrk < r.start || newbrk >= r.max {
		return false
	}

	old := r.end
	switch {
	case newbrk > old:
		if _, ok := r.allocRangeLocked(old, newbrk-old, prot, flags, false); !ok {
			return false
		}
	case newbrk < old:
		r.freeRangeLocked(newbrk, old-newbrk)
	}
	return true
}

// installBacking walks page-size tiles covering [addr, addr+length)
// per the region's pool and issues a real, fixed, huge-page-flagged
// mmap for each, per spec §4.2. EEXIST is the expected overlap with a
// previously installed tile and is ignored; any other errno is a fatal
// programming error or missing huge-page reservation.
func (r *Region) installBacking(addr, length uintptr, prot int32) {
	basePgsz := uintptr(pageplan.BasePageSize)
	effectiveProt := int(prot) | unix.PROT_READ | unix.PROT_WRITE

	cur := addr
	end := addr + length
	for cur < end {
		offset := cur - r.start
		pgsz := uintptr(r.Pool.PageSizeAt(offset))
		tileStart := alignDown(cur, pgsz)

		flags := unix.MAP_ANONYMOUS | unix.MAP_PRIVATE | unix.MAP_FIXED_NOREPLACE
		if pgsz > basePgsz {
			flags |= unix.MAP_HUGETLB | realsys.MmapHugeShift(pgsz, basePgsz)
		}

		_, errno := realsys.Mmap(tileStart, pgsz, effectiveProt, flags, -1, 0)
		if errno != 0 && errno != unix.EEXIST {
			panic("region: backing mmap failed at " + itoa(tileStart) + ": " + errno.Error())
		}

		cur = tileStart + pgsz
	}
}

func alignUp(v, align uintptr) uintptr {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func alignDown(v, align uintptr) uintptr {
	if align == 0 {
		return v
	}
	return v &^ (align - 1)
}

// itoa avoids pulling in strconv just for a panic message's address;
// panics here are already fatal bootstrap/programming-error paths.
func itoa(v uintptr) string {
	if v == 0 {
		return "0x0"
	}
	const hex = "0123456789abcdef"
	buf := make([]byte, 0, 18)
	buf = append(buf, '0', 'x')
	started := false
	for shift := 60; shift >= 0; shift -= 4 {
		digit := (v >> uint(shift)) & 0xf
		if digit != 0 {
			started = true
		}
		if started {
			buf = append(buf, hex[digit])
		}
	}
	return string(buf)
}

// Size is re-exported for callers composing pools without importing
// pageplan's memory dependency directly.
type Size = memory.Size
