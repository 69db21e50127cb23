// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

// Command planlint validates a page-plan CSV file (spec.md §6) without
// placing or backing anything: it is a pure static check a caller runs
// before handing the same file to a real interposer front end.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.mosalloc.dev/mosalloc/pkg/config"
	"go.mosalloc.dev/mosalloc/pkg/pageplan"
	"go.mosalloc.dev/mosalloc/pkg/process"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "planlint",
	Short: "validate a huge-page region plan CSV",
	RunE:  run,
}

func init() {
	process.Bind(rootCmd, &cfg)
}

func run(cmd *cobra.Command, args []string) error {
	if cfg.ConfigFile == "" {
		return fmt.Errorf("planlint: --config-file is required")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	plan, err := pageplan.LoadCSV(cfg.ConfigFile)
	if err != nil {
		log.Errorw("plan failed validation", "file", cfg.ConfigFile, "error", err)
		return err
	}

	for _, kind := range []pageplan.Kind{pageplan.KindHeap, pageplan.KindAnon, pageplan.KindFile} {
		pool := plan.Pool(kind)
		if pool == nil {
			log.Infow("region absent from plan", "kind", kind)
			continue
		}
		log.Infow("region plan ok",
			"kind", kind,
			"intervals", len(pool.Intervals),
			"max_end", pool.MaxEnd(),
			"max_page_size", pool.MaxPageSize())
	}

	return nil
}

func main() {
	if err := process.Exec(rootCmd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
