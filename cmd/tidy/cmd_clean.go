// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/engine"
)

// runClean executes the clean command.
func runClean(cmd *cobra.Command, args []string) {
	os.Exit(cleanMain(args))
}

func cleanMain(args []string) int {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := runOptions(cfg)
	progress := NewProgressCounter(silent || interactive || dryRun)

	absTarget, err := filepath.Abs(target)
	if err != nil {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}

	rel := func(path string) string {
		r, err := filepath.Rel(absTarget, path)
		if err != nil {
			return path
		}
		return r
	}

	eng.Approver = NewInteractivePrompter(os.Stdin, os.Stderr)
	eng.OnPlanned = func(m engine.Move) {
		cons.Movef(rel(m.Source), rel(m.Destination))
	}
	eng.OnOutcome = func(o engine.Outcome) {
		if o.Err != nil {
			cons.Errorf("failed: %s (%v)", rel(o.Move.Source), o.Err)
			return
		}
		cons.Movef(rel(o.Move.Source), rel(o.Move.Destination))
	}
	eng.OnProgress = progress.Update

	if opts.DryRun {
		cons.Titlef("Planning %s (dry run)", absTarget)
	} else {
		cons.Titlef("Organizing %s", absTarget)
	}

	result, err := eng.PlanAndExecute(ctx, target, set, opts)
	progress.Done()
	if err != nil {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}

	switch {
	case result.DryRun:
		cons.Printf("\n%d of %d files would move. Run without --dry-run to apply.\n",
			result.Planned, result.Scanned)
	case result.Planned == 0 && result.Failed == 0:
		cons.Mutedf("Nothing to organize.")
	default:
		cons.Printf("\nMoved %d, skipped %d, failed %d.\n",
			result.Moved, result.Skipped, result.Failed)
		if result.Moved > 0 {
			cons.Mutedf("Undo with: tidy revert %s --run %s", target, result.RunID)
		}
	}

	return exitCode(result.Failed, nil)
}
