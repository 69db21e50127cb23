// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information

package sync2

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Futex is a three-state mutex built directly on the futex(2) syscall
// instead of sync.Mutex, so a region lock costs one atomic op on the
// uncontended path and never touches the Go runtime's scheduler-aware
// mutex machinery. Region locks are held while splicing a free-map and,
// outside dryrun, while installing backing tiles, so the extra call overhead of sync.Mutex's
// semaphore-based slow path matters at the syscall-dispatch rate this
// package runs at.
//
// Grounded on the counting futex in the original allocator's lock
// implementation: the state word is 1 when free, 0 when locked-uncontended,
// and negative when locked-and-contended.
type Futex struct {
	state int32
}

// NewFutex returns an unlocked Futex.
func NewFutex() *Futex {
	return &Futex{state: 1}
}

func futexWait(addr *int32, val int32) {
	_, _, _ = unix.Syscall(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAIT|unix.FUTEX_PRIVATE_FLAG),
		uintptr(val))
}

func futexWake(addr *int32, n int32) {
	_, _, _ = unix.Syscall(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAKE|unix.FUTEX_PRIVATE_FLAG),
		uintptr(n))
}

// Lock acquires the mutex, blocking via futex(2) if it is already held.
func (f *Futex) Lock() {
	if atomic.AddInt32(&f.state, -1) != 0 {
		for atomic.SwapInt32(&f.state, -1) != 1 {
			futexWait(&f.state, -1)
		}
	}
}

// Unlock releases the mutex, waking one waiter via futex(2) if any goroutine
// blocked on Lock while it was held.
func (f *Futex) Unlock() {
	if atomic.AddInt32(&f.state, 1) != 1 {
		atomic.StoreInt32(&f.state, 1)
		futexWake(&f.state, 1)
	}
}
