// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

// Package realsys wraps the kernel syscalls the interposer must call
// with its own hand, bypassing whatever interception mechanism routed
// the caller here in the first place. Every function in this package
// is a thin, allocation-free wrapper over golang.org/x/sys/unix (or a
// raw unix.Syscall for the handful of contracts x/sys/unix does not
// expose on linux/amd64 in a form this package's callers need), so
// that pkg/region, pkg/bootstrap and pkg/arena never have to reach for
// a syscall package directly.
package realsys

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmapHugeShift returns the MAP_HUGETLB page-size-selector flag bits for
// a huge page size, i.e. (log2(pageSize) << MAP_HUGE_SHIFT). Passing the
// base page size returns 0: no MAP_HUGETLB bit is meaningful for it.
func MmapHugeShift(pageSize, basePageSize uintptr) int {
	if pageSize <= basePageSize {
		return 0
	}
	shift := 0
	for sz := pageSize; sz > 1; sz >>= 1 {
		shift++
	}
	return shift << unix.MAP_HUGE_SHIFT
}

// Mmap issues the real mmap(2) syscall at a fixed address. Unlike
// unix.Mmap (which hands back a []byte slice sized to len and has no
// fd=-1, offset=0 shorthand convenient for anonymous fixed mappings),
// this returns the raw resulting address and an errno so callers can
// reproduce the mmap(2) contract (MAP_FAILED sentinel + errno) exactly.
func Mmap(addr, length uintptr, prot, flags, fd int, offset int64) (uintptr, unix.Errno) {
	ret, _, errno := unix.Syscall6(unix.SYS_MMAP,
		addr, length,
		uintptr(prot), uintptr(flags),
		uintptr(fd), uintptr(offset))
	return ret, errno
}

// Munmap issues the real munmap(2) syscall.
func Munmap(addr, length uintptr) unix.Errno {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0)
	return errno
}

// Mprotect issues the real mprotect(2) syscall.
func Mprotect(addr, length uintptr, prot int) unix.Errno {
	_, _, errno := unix.Syscall(unix.SYS_MPROTECT, addr, length, uintptr(prot))
	return errno
}

// Madvise issues the real madvise(2) syscall.
func Madvise(addr, length uintptr, advice int) unix.Errno {
	_, _, errno := unix.Syscall(unix.SYS_MADVISE, addr, length, uintptr(advice))
	return errno
}

// Mremap issues the real mremap(2) syscall. newAddr is ignored unless
// flags carries MREMAP_FIXED.
func Mremap(oldAddr, oldSize, newSize uintptr, flags int, newAddr uintptr) (uintptr, unix.Errno) {
	ret, _, errno := unix.Syscall6(unix.SYS_MREMAP,
		oldAddr, oldSize, newSize, uintptr(flags), newAddr, 0)
	return ret, errno
}

// Brk issues the real brk(2) syscall. Linux's brk(2) always returns the
// resulting break (never -1): callers detect failure by observing the
// break did not move to the requested value.
func Brk(newbrk uintptr) uintptr {
	ret, _, _ := unix.Syscall(unix.SYS_BRK, newbrk, 0, 0)
	return ret
}

// CurrentBrk returns the process's current program break, i.e. the
// classic sbrk(0) query.
func CurrentBrk() uintptr {
	return Brk(0)
}

// MmapAnon is the Overflow-tier convenience realsys.Mmap callers in
// pkg/arena use: anonymous, private, no file backing.
func MmapAnon(length uintptr) (unsafe.Pointer, unix.Errno) {
	addr, errno := Mmap(0, length, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE, -1, 0)
	if errno != 0 {
		return nil, errno
	}
	return unsafe.Pointer(addr), 0
}
