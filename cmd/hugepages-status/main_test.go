// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.mosalloc.dev/mosalloc/internal/memory"
)

func TestParsePoolDirName(t *testing.T) {
	size, ok := parsePoolDirName("hugepages-2048kB")
	require.True(t, ok)
	require.Equal(t, 2*memory.MB, size)

	size, ok = parsePoolDirName("hugepages-1048576kB")
	require.True(t, ok)
	require.Equal(t, 1*memory.GB, size)

	_, ok = parsePoolDirName("not-a-pool-dir")
	require.False(t, ok)
}

func TestReadPoolStatusMissingRootReturnsEmpty(t *testing.T) {
	pools, err := readPoolStatus(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Empty(t, pools)
}

func TestReadPoolStatusReadsCounters(t *testing.T) {
	root := t.TempDir()
	poolDir := filepath.Join(root, "hugepages-2048kB")
	require.NoError(t, os.MkdirAll(poolDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(poolDir, "nr_hugepages"), []byte("10\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(poolDir, "free_hugepages"), []byte("4\n"), 0o644))

	pools, err := readPoolStatus(root)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, 2*memory.MB, pools[0].PageSize)
	require.Equal(t, 10, pools[0].Total)
	require.Equal(t, 4, pools[0].Free)
}
