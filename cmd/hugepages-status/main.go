// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

// Command hugepages-status is a read-only diagnostic: it reports the
// huge-page pools currently reserved on the host by reading
// /sys/kernel/mm/hugepages, the same information the kernel exposes to
// any caller. It never inspects or attaches to another process (spec's
// Non-goals on process attachment hold for every tool in cmd/).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.mosalloc.dev/mosalloc/internal/memory"
	"go.mosalloc.dev/mosalloc/pkg/config"
	"go.mosalloc.dev/mosalloc/pkg/process"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "hugepages-status",
	Short: "report huge-page pools reserved on this host",
	RunE:  run,
}

func init() {
	process.Bind(rootCmd, &cfg)
}

const hugepagesRoot = "/sys/kernel/mm/hugepages"

// poolStatus is one hugepages-<size>kB/ directory's nr/free counters.
type poolStatus struct {
	PageSize memory.Size
	Total    int
	Free     int
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	pools, err := readPoolStatus(hugepagesRoot)
	if err != nil {
		return err
	}

	sort.Slice(pools, func(i, j int) bool { return pools[i].PageSize < pools[j].PageSize })

	for _, p := range pools {
		log.Infow("huge-page pool",
			"page_size", p.PageSize.String(),
			"total", p.Total,
			"free", p.Free,
			"in_use", p.Total-p.Free)
	}
	if len(pools) == 0 {
		log.Infow("no huge-page pools reserved on this host")
	}
	return nil
}

func readPoolStatus(root string) ([]poolStatus, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var pools []poolStatus
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		size, ok := parsePoolDirName(entry.Name())
		if !ok {
			continue
		}

		total, err := readCounter(filepath.Join(root, entry.Name(), "nr_hugepages"))
		if err != nil {
			return nil, err
		}
		free, err := readCounter(filepath.Join(root, entry.Name(), "free_hugepages"))
		if err != nil {
			return nil, err
		}

		pools = append(pools, poolStatus{PageSize: size, Total: total, Free: free})
	}
	return pools, nil
}

// parsePoolDirName parses "hugepages-2048kB" into a 2MB memory.Size.
func parsePoolDirName(name string) (memory.Size, bool) {
	const prefix, suffix = "hugepages-", "kB"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	kb, err := strconv.ParseInt(name[len(prefix):len(name)-len(suffix)], 10, 64)
	if err != nil {
		return 0, false
	}
	return memory.Size(kb) * memory.KB, true
}

func readCounter(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return n, nil
}

func main() {
	if err := process.Exec(rootCmd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
