// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

package arena_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.mosalloc.dev/mosalloc/pkg/arena"
)

func TestAllocWatermarkAdvances(t *testing.T) {
	a := arena.New(4096)

	p1, err := a.Alloc(64, 8)
	require.NoError(t, err)
	require.NotNil(t, p1)
	require.Equal(t, 64, a.InUse())

	p2, err := a.Alloc(64, 8)
	require.NoError(t, err)
	require.Greater(t, uintptr(p2), uintptr(p1))
	require.Equal(t, 128, a.InUse())
}

func TestFreeIsLIFOOnly(t *testing.T) {
	a := arena.New(4096)

	p1, err := a.Alloc(32, 8)
	require.NoError(t, err)
	p2, err := a.Alloc(32, 8)
	require.NoError(t, err)

	// Freeing the non-top allocation leaks; watermark is unchanged.
	a.Free(p1, 32)
	require.Equal(t, 64, a.InUse())

	// Freeing the top allocation reclaims it.
	a.Free(p2, 32)
	require.Equal(t, 32, a.InUse())
}

func TestAllocExhaustion(t *testing.T) {
	a := arena.New(128)

	_, err := a.Alloc(128, 1)
	require.NoError(t, err)

	_, err = a.Alloc(1, 1)
	require.Error(t, err)
}

func TestAllocRejectsOversizedAlignment(t *testing.T) {
	a := arena.New(4096)

	_, err := a.Alloc(16, 8192)
	require.Error(t, err)
}

func TestAllocRejectsNonPowerOfTwoAlignment(t *testing.T) {
	a := arena.New(4096)

	_, err := a.Alloc(16, 3)
	require.Error(t, err)
}

func TestAllocAlignment(t *testing.T) {
	a := arena.New(4096)

	_, err := a.Alloc(1, 1)
	require.NoError(t, err)

	p, err := a.Alloc(64, 64)
	require.NoError(t, err)
	require.Zero(t, uintptr(p)%64)
}

func TestOverflowTierBypassesArenaWatermark(t *testing.T) {
	a := arena.New(4096)

	p, err := a.Alloc(8192, 8)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Zero(t, a.InUse())

	a.Free(p, 8192)
}
