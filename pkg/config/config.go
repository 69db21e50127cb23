// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

// Package config declares the process-wide Config struct bound to
// flags and HPC_* environment variables by pkg/process/pkg/cfgstruct,
// per spec.md §6.
package config

import "go.mosalloc.dev/mosalloc/internal/memory"

// Config holds every setting the bundled CLIs accept. Field names
// become dashed flags (pkg/cfgstruct.dashed) and HPC_<NAME>
// environment variables (pkg/process.Exec).
type Config struct {
	ConfigFile string `default:"" usage:"path to a page-plan CSV file (pkg/pageplan.LoadCSV)"`

	AnonFFASize memory.Size `default:"2MB" usage:"fixed allocation size the anon region is pre-tiled with"`

	FileFFASize memory.Size `default:"2MB" usage:"fixed allocation size the file region is pre-tiled with"`

	FilePoolSize memory.Size `default:"1GB" usage:"total size reserved for the file-backed region"`

	AnalyzeHPBRs bool `default:"false" usage:"log a huge-page backing report for every installed region on exit"`

	DryRun bool `default:"false" usage:"skip installing real huge-page backing; for layout-only testing"`
}
