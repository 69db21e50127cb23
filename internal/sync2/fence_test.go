// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information

package sync2_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"go.mosalloc.dev/mosalloc/internal/sync2"
)

func TestFence(t *testing.T) {
	t.Parallel()

	var group errgroup.Group
	var fence sync2.Fence
	var done int32

	for i := 0; i < 10; i++ {
		group.Go(func() error {
			fence.Wait()
			if atomic.LoadInt32(&done) == 0 {
				return errors.New("fence not yet released")
			}
			return nil
		})
	}

	// wait a bit for all goroutines to hit the fence
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		group.Go(func() error {
			atomic.StoreInt32(&done, 1)
			fence.Release()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestFenceReleased(t *testing.T) {
	t.Parallel()

	var fence sync2.Fence
	if fence.Released() {
		t.Fatal("fence reports released before Release was called")
	}

	fence.Release()
	if !fence.Released() {
		t.Fatal("fence reports not released after Release was called")
	}

	// Release must be idempotent.
	fence.Release()
	if !fence.Released() {
		t.Fatal("fence reports not released after second Release call")
	}
}
