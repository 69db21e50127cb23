// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

// Package interpose routes intercepted anonymous-memory syscalls to
// the region that owns the address (or to the real syscall, when none
// does), and translates region-level success/failure into the
// return-value-plus-errno contract the kernel itself would produce
// (spec §4.3).
//
// Dispatcher is the Go-native stand-in for "the interception layer"
// spec.md treats as an external collaborator: a real LD_PRELOAD or
// ptrace front-end would call these methods from its own intercepted
// libc symbols; this module cannot be loaded as a libc symbol
// interposer itself, so Dispatcher is instead driven directly by
// tests standing in for that missing front end; the bundled CLI tools
// do not use it (SPEC_FULL.md §1 EXPANSION).
package interpose

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"go.mosalloc.dev/mosalloc/pkg/bootstrap"
	"go.mosalloc.dev/mosalloc/pkg/realsys"
	"go.mosalloc.dev/mosalloc/pkg/region"
)

// mapFailed is MAP_FAILED, the (void *)-1 sentinel mmap/mremap return
// on failure.
const mapFailed = ^uintptr(0)

// sbrkFailed is the usize::MAX sentinel spec §7 assigns to a failing
// sbrk.
const sbrkFailed = ^uintptr(0)

// explicitHugeFlags are the mmap(2) flag bits that mean the caller is
// already asking for huge or special pages directly; when any is set
// on a request landing in the anon region, the request is forwarded
// unchanged rather than re-interposed (spec §4.3).
const explicitHugeFlags = unix.MAP_SHARED | unix.MAP_SHARED_VALIDATE | unix.MAP_GROWSDOWN | unix.MAP_HUGETLB

// Dispatcher owns the three managed regions and the drain gate, and
// exposes one method per interposed syscall.
type Dispatcher struct {
	Heap *region.Region
	Anon *region.Region
	File *region.Region

	// Drain gates every managed brk/sbrk/anon-mmap path until the
	// fronting allocator has exhausted its pre-hook reserve (spec
	// §4.5). File-region requests are never gated: a file mapping was
	// never going to come from that allocator's pre-hook heap.
	Drain *bootstrap.Drain

	// StrictProtect resolves spec §9 Open Question 2: when false (the
	// spec-faithful default) mprotect/madvise are no-ops for
	// heap/anon regions; when true they're forwarded to the real
	// syscall instead.
	StrictProtect bool

	log *zap.SugaredLogger
}

// New returns a Dispatcher over the three placed regions and drain
// gate. log may be nil.
func New(heap, anon, file *region.Region, drain *bootstrap.Drain, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{Heap: heap, Anon: anon, File: file, Drain: drain, log: log}
}

// regionByAddr returns the region containing addr, or nil if none
// does (the call should be forwarded).
func (d *Dispatcher) regionByAddr(addr uintptr) *region.Region {
	switch {
	case d.Heap.Contains(addr):
		return d.Heap
	case d.Anon.Contains(addr):
		return d.Anon
	case d.File.Contains(addr):
		return d.File
	default:
		return nil
	}
}

// regionForMmap applies spec §4.3's mmap-specific region selection:
// addr=0 picks anon or file by fd, otherwise it's address-based.
func (d *Dispatcher) regionForMmap(addr uintptr, fd int) *region.Region {
	if addr == 0 {
		if fd == -1 {
			return d.Anon
		}
		return d.File
	}
	return d.regionByAddr(addr)
}

// Mmap implements the mmap(2) contract of spec §4.3.
func (d *Dispatcher) Mmap(addr, length uintptr, prot, flags int32, fd int, offset int64) (uintptr, unix.Errno) {
	r := d.regionForMmap(addr, fd)
	if r == nil {
		return realsys.Mmap(addr, length, int(prot), int(flags), fd, offset)
	}

	if r.Kind == region.KindAnon && flags&explicitHugeFlags != 0 {
		return realsys.Mmap(addr, length, int(prot), int(flags), fd, offset)
	}

	if r.Kind != region.KindFile && !d.Drain.Done() {
		return mapFailed, unix.ENOMEM
	}

	got, ok := r.AllocRange(addr, length, prot, flags, false)
	if !ok {
		if flags&unix.MAP_FIXED_NOREPLACE != 0 {
			return mapFailed, unix.EEXIST
		}
		return mapFailed, unix.ENOMEM
	}
	if got+length > r.Max() {
		panic("interpose: region allocation spans past region end")
	}

	if r.Kind == region.KindFile {
		_, errno := realsys.Mmap(got, length, int(prot), int(flags)|unix.MAP_FIXED_NOREPLACE, fd, offset)
		if errno != 0 {
			return mapFailed, errno
		}
	}

	return got, 0
}

// Munmap implements the munmap(2) contract of spec §4.3. Pre-drain,
// a heap/anon region's free-map is still seeded [start, max) in full;
// returning [addr, addr+len) to it before the gate opens would hand
// FreeMap.Give a range overlapping what's already free, corrupting the
// map (freemap.go's disjointness precondition), so those requests fail
// with EINVAL (spec §7) instead of ever reaching FreeRange.
func (d *Dispatcher) Munmap(addr, length uintptr) unix.Errno {
	r := d.regionByAddr(addr)
	if r == nil {
		return realsys.Munmap(addr, length)
	}
	if r.Kind != region.KindFile && !d.Drain.Done() {
		return unix.EINVAL
	}

	r.FreeRange(addr, length)

	if r.Kind == region.KindFile {
		return realsys.Munmap(addr, length)
	}
	return 0
}

// Mprotect implements spec §4.3: forwarded outside regions and for
// the file region, a no-op for heap/anon unless StrictProtect is set.
func (d *Dispatcher) Mprotect(addr, length uintptr, prot int32) unix.Errno {
	r := d.regionByAddr(addr)
	if r == nil || r.Kind == region.KindFile || d.StrictProtect {
		return realsys.Mprotect(addr, length, int(prot))
	}
	return 0
}

// Madvise implements spec §4.3: forwarded outside regions and for the
// file region, a no-op for heap/anon unless StrictProtect is set.
func (d *Dispatcher) Madvise(addr, length uintptr, advice int32) unix.Errno {
	r := d.regionByAddr(addr)
	if r == nil || r.Kind == region.KindFile || d.StrictProtect {
		return realsys.Madvise(addr, length, int(advice))
	}
	return 0
}

// Brk implements the brk(2) contract of spec §4.3: returns 0 on
// success, sbrkFailed ("-1" widened to uintptr) on failure.
func (d *Dispatcher) Brk(newbrk uintptr) (uintptr, unix.Errno) {
	if !d.Drain.Done() {
		return sbrkFailed, unix.ENOMEM
	}

	if _, ok := d.Heap.AdjustBreak(newbrk, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE); !ok {
		return sbrkFailed, unix.ENOMEM
	}
	return 0, 0
}

// Sbrk implements the sbrk(2) contract of spec §4.3: returns the
// pre-adjustment break on success, usize::MAX on failure.
func (d *Dispatcher) Sbrk(incr int64) (uintptr, unix.Errno) {
	if !d.Drain.Done() {
		return sbrkFailed, unix.ENOMEM
	}

	old, _, ok := d.Heap.AdjustBreakBy(incr, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if !ok {
		return sbrkFailed, unix.ENOMEM
	}
	return old, 0
}

// Mremap implements the mremap(2) contract of spec §4.3.
func (d *Dispatcher) Mremap(oldAddr, oldSize, newSize uintptr, flags int32, newAddr uintptr) (uintptr, unix.Errno) {
	r := d.regionByAddr(oldAddr)
	if r == nil {
		return realsys.Mremap(oldAddr, oldSize, newSize, int(flags), newAddr)
	}
	if r.Kind != region.KindFile && !d.Drain.Done() {
		return mapFailed, unix.ENOMEM
	}

	if flags&unix.MREMAP_FIXED != 0 {
		if newAddr+newSize > r.Max() {
			return mapFailed, unix.EINVAL
		}
		return d.mremapFixed(r, oldAddr, oldSize, newSize, newAddr)
	}

	if oldSize >= newSize {
		r.FreeRange(oldAddr+newSize, oldSize-newSize)
		return oldAddr, 0
	}

	addr, ok := r.AllocRange(oldAddr+oldSize, newSize-oldSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE, false)
	if ok && addr == oldAddr+oldSize {
		return oldAddr, 0
	}
	if ok {
		// Anywhere-fallback landed somewhere other than the
		// contiguous extension we wanted; give it back.
		r.FreeRange(addr, newSize-oldSize)
	}
	if flags&unix.MREMAP_MAYMOVE == 0 {
		return mapFailed, unix.ENOMEM
	}
	return d.mremapFixed(r, oldAddr, oldSize, newSize, 0)
}

// mremapFixed services both the MREMAP_FIXED path and the
// MREMAP_MAYMOVE relocating fallback (req=0 selects anywhere
// placement, per FreeMap.Take's hint=0 convention).
func (d *Dispatcher) mremapFixed(r *region.Region, oldAddr, oldSize, newSize, req uintptr) (uintptr, unix.Errno) {
	addr, ok := r.AllocRange(req, newSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_FIXED_NOREPLACE, false)
	if !ok {
		if req != 0 {
			return mapFailed, unix.EEXIST
		}
		return mapFailed, unix.ENOMEM
	}
	r.FreeRange(oldAddr, oldSize)
	return addr, 0
}
