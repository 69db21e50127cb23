// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information

package sync2

import "sync"

// Fence is a one-shot gate: goroutines calling Wait block until Release
// is called once, after which every past and future Wait returns
// immediately. The zero value is usable.
//
// It backs the bootstrap drain gate (§4.5): the dispatcher checks
// Released on every hot-path syscall instead of calling Wait, since a
// managed path must fail fast pre-drain rather than block forever.
type Fence struct {
	once     sync.Once
	released chan struct{}
	initOnce sync.Once
}

func (fence *Fence) init() {
	fence.initOnce.Do(func() {
		fence.released = make(chan struct{})
	})
}

// Wait blocks until Release has been called.
func (fence *Fence) Wait() {
	fence.init()
	<-fence.released
}

// Release opens the gate. Calling it more than once is a no-op.
func (fence *Fence) Release() {
	fence.init()
	fence.once.Do(func() {
		close(fence.released)
	})
}

// Released reports whether Release has been called, without blocking.
func (fence *Fence) Released() bool {
	fence.init()
	select {
	case <-fence.released:
		return true
	default:
		return false
	}
}
