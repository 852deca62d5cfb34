// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/watch"
)

// runWatch executes the watch command.
func runWatch(cmd *cobra.Command, args []string) {
	os.Exit(watchMain(args))
}

func watchMain(args []string) int {
	cons := newConsole(silent)
	target := targetFromArgs(args)

	eng, cfg, cleanup, err := setup()
	if err != nil {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}
	defer cleanup()

	set, err := cfg.Compile()
	if err != nil {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}

	debounce, err := time.ParseDuration(watchDebounce)
	if err != nil {
		cons.Errorf("Error: invalid --debounce: %v", err)
		return CLIExitError
	}
	interval, err := time.ParseDuration(watchInterval)
	if err != nil {
		cons.Errorf("Error: invalid --interval: %v", err)
		return CLIExitError
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}

	// Watch mode never prompts: runs trigger unattended.
	opts := runOptions(cfg)
	opts.DryRun = false
	opts.Interactive = false

	trigger := func(ctx context.Context) error {
		result, err := eng.PlanAndExecute(ctx, target, set, opts)
		if err != nil {
			return err
		}
		if result.Moved > 0 || result.Failed > 0 {
			cons.Printf("organized: moved %d, failed %d (run %s)\n",
				result.Moved, result.Failed, result.RunID)
		}
		return nil
	}

	watcher, err := watch.New(absTarget, trigger, eng.Logger, watch.Options{
		Debounce:    debounce,
		MinInterval: interval,
	})
	if err != nil {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cons.Titlef("Watching %s (Ctrl-C to stop)", absTarget)
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}
	return CLIExitSuccess
}
