// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

package process

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// ErrLogger is returned when Main cannot construct its logger.
var ErrLogger = errs.Class("process")

// Service is something Main can hand a logger to and then run, so
// Main can own logger setup and error propagation uniformly.
type Service interface {
	SetLogger(*zap.Logger) error
	Process(ctx context.Context, cmd *cobra.Command, args []string) error
}

// Main runs f (typically flag parsing / validation already completed
// by the caller's cobra RunE), then hands every service a fresh zap
// logger and runs it in turn, stopping at the first error.
func Main(f func() error, services ...Service) error {
	if err := f(); err != nil {
		return err
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return ErrLogger.Wrap(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	for _, svc := range services {
		if err := svc.SetLogger(logger); err != nil {
			return err
		}
		if err := svc.Process(ctx, nil, nil); err != nil {
			return err
		}
	}
	return nil
}
