// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information

package sync2_test

import (
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"go.mosalloc.dev/mosalloc/internal/sync2"
)

func TestFutexMutualExclusion(t *testing.T) {
	t.Parallel()

	futex := sync2.NewFutex()
	counter := 0

	var group errgroup.Group
	for i := 0; i < 50; i++ {
		group.Go(func() error {
			for j := 0; j < 1000; j++ {
				futex.Lock()
				counter++
				futex.Unlock()
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		t.Fatal(err)
	}

	if counter != 50*1000 {
		t.Fatalf("lost updates under contention: got %d, expected %d", counter, 50*1000)
	}
}

func TestFutexBlocksContender(t *testing.T) {
	t.Parallel()

	futex := sync2.NewFutex()
	futex.Lock()

	unlocked := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(unlocked)
		futex.Unlock()
	}()

	acquired := make(chan struct{})
	go func() {
		futex.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		select {
		case <-unlocked:
		default:
			t.Fatal("second Lock returned before Unlock was called")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second Lock never returned")
	}
}
