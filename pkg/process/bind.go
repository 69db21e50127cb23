// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

// Package process wires a cobra command's flags to environment
// variables (the HPC_* configuration surface of spec.md §6) and
// provides the small amount of process-lifecycle glue (Main) the
// bundled diagnostic CLIs in cmd/ build on, following the shape of
// storj.io/storj's pkg/process.
package process

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"go.mosalloc.dev/mosalloc/pkg/cfgstruct"
)

// EnvPrefix is the environment-variable prefix every bound flag is
// read from. The variable name is the prefix plus the flag name
// upper-cased with dashes and dots turned into underscores, so
// config-file is HPC_CONFIG_FILE and anon-ffasize (AnonFFASize) is
// HPC_ANON_FFASIZE; HPC_ANON_FFA_SIZE and HPC_FILE_FFA_SIZE are not read.
const EnvPrefix = "HPC"

// Bind registers config's fields as flags on cmd, exactly as
// cfgstruct.Bind does against a bare *pflag.FlagSet.
func Bind(cmd *cobra.Command, config interface{}, opts ...cfgstruct.BindOpt) {
	cfgstruct.Bind(cmd.Flags(), config, opts...)
}

// Exec merges the global stdlib flag.CommandLine into cmd's flags (so
// go test's -test.* flags and any other stdlib-registered flags
// remain valid when cobra parses os.Args), binds every flag to its
// HPC_<NAME> environment variable via viper, applies any environment
// overrides for flags the caller didn't set explicitly on the command
// line, and finally runs the command.
func Exec(cmd *cobra.Command) error {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	cmd.Flags().AddFlagSet(pflag.CommandLine)

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		_ = cmd.Flags().Set(f.Name, v.GetString(f.Name))
	})

	return cmd.Execute()
}

// SaveConfig writes every non-hidden flag on cmd as a commented
// "# name: value" line to path, mirroring the commented-defaults YAML
// file storj.io/storj's process.SaveConfig produces, so a generated
// config file documents every available setting without silently
// enabling any of them.
func SaveConfig(cmd *cobra.Command, path string) error {
	var names []string
	values := map[string]string{}

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		names = append(names, f.Name)
		values[f.Name] = f.Value.String()
	})
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("# generated configuration: uncomment a line to override its default\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "# %s: %s\n", name, values[name])
	}

	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
