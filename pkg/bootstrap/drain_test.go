// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

package bootstrap_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.mosalloc.dev/mosalloc/pkg/bootstrap"
)

func TestDrainGateBlocksUntilRun(t *testing.T) {
	d := bootstrap.NewDrain()
	require.False(t, d.Done())

	budget := 5
	d.Run(func(size int) bool {
		require.Equal(t, 64, size)
		if budget == 0 {
			return false
		}
		budget--
		return true
	}, nil)

	require.True(t, d.Done())
	require.True(t, d.Gate().Released())
}

func TestDrainGateReleaseUnblocksWaiters(t *testing.T) {
	d := bootstrap.NewDrain()

	done := make(chan struct{})
	go func() {
		d.Gate().Wait()
		close(done)
	}()

	d.Run(func(size int) bool { return false }, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain gate never released waiter")
	}
}
