// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

package realsys_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"go.mosalloc.dev/mosalloc/pkg/realsys"
)

func TestMmapHugeShift(t *testing.T) {
	const base = 4096

	require.Equal(t, 0, realsys.MmapHugeShift(base, base))
	require.Equal(t, 0, realsys.MmapHugeShift(2048, base))

	twoMiB := uintptr(2 << 20)
	require.Equal(t, 21<<unix.MAP_HUGE_SHIFT, realsys.MmapHugeShift(twoMiB, base))

	oneGiB := uintptr(1 << 30)
	require.Equal(t, 30<<unix.MAP_HUGE_SHIFT, realsys.MmapHugeShift(oneGiB, base))
}
