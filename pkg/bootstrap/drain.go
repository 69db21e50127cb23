// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

package bootstrap

import (
	"go.uber.org/zap"

	"go.mosalloc.dev/mosalloc/internal/sync2"
)

// drainChunkSize is the small-chunk allocation size Drain.Run asks
// for on every iteration (spec §4.5: "small chunks (64 bytes)").
const drainChunkSize = 64

// Drain forces whatever allocator sits in front of the interposer to
// exhaust its pre-hook reserve, then opens the gate that lets managed
// paths (brk/sbrk/anon-mmap inside the three regions) proceed. Before
// the gate opens, those paths must fail with out-of-memory (spec
// §4.5, §7) so the fronting allocator is pushed into its overflow
// behavior, which is what routes it through the interposer from then
// on.
//
// A Go process has no libc malloc to drain through: this models the
// reusable mechanism spec.md describes (repeatedly invoke a supplied
// small-chunk allocator until it reports exhaustion) rather than any
// particular C runtime's heap, so the real preload front-end supplies
// its own Exhaust callback while tests supply a fake one.
type Drain struct {
	gate sync2.Fence
}

// NewDrain returns an undrained Drain.
func NewDrain() *Drain {
	return &Drain{}
}

// Gate returns the fence callers should check before servicing a
// managed brk/sbrk/anon-mmap request: Gate().Released() is the single
// "drained" flag spec §4.5 describes.
func (d *Drain) Gate() *sync2.Fence { return &d.gate }

// Done reports whether the drain has completed, without blocking.
func (d *Drain) Done() bool { return d.gate.Released() }

// Run repeatedly calls exhaust(drainChunkSize) until it returns false
// (the fronting allocator reports it cannot service the request any
// more), then releases the gate. log receives one message on
// completion; callers typically run this on its own goroutine right
// after Place succeeds.
func (d *Drain) Run(exhaust func(size int) bool, log *zap.SugaredLogger) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	iterations := 0
	for exhaust(drainChunkSize) {
		iterations++
	}

	d.gate.Release()
	log.Infow("drain complete", "iterations", iterations)
}
