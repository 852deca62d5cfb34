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
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/history"
)

// runRevert executes the revert command.
func runRevert(cmd *cobra.Command, args []string) {
	os.Exit(revertMain(args))
}

func revertMain(args []string) int {
	cons := newConsole(silent)
	target := targetFromArgs(args)

	eng, _, cleanup, err := setup()
	if err != nil {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := revertRunID
	if runID == "" && len(args) > 1 {
		runID = args[1]
	}
	if runID == "" {
		refs, err := eng.ListRevertPoints(ctx, target)
		if err != nil {
			cons.Errorf("Error: %v", err)
			return CLIExitError
		}
		if len(refs) == 0 {
			cons.Mutedf("No recorded runs for %s.", target)
			return CLIExitSuccess
		}
		runID = refs[0].RunID
	}

	result, err := eng.Revert(ctx, target, runID)
	if err != nil {
		switch {
		case errors.Is(err, history.ErrLogCorrupt):
			cons.Errorf("Error: the move log for run %s is corrupt; no files were touched.", runID)
		case errors.Is(err, history.ErrRunNotFound):
			cons.Errorf("Error: no run %s recorded for %s. See: tidy runs %s", runID, target, target)
		default:
			cons.Errorf("Error: %v", err)
		}
		return CLIExitError
	}

	cons.Titlef("Reverted run %s", runID)
	cons.Printf("Restored %d, failed %d.\n", result.Restored, result.Failed)
	for _, restoreErr := range result.Errors {
		cons.Errorf("  %v", restoreErr)
	}
	if result.Failed > 0 {
		cons.Mutedf("The move log was kept; retry after resolving the conflicts.")
	}

	return exitCode(result.Failed, nil)
}

// runRuns executes the runs command.
func runRuns(cmd *cobra.Command, args []string) {
	os.Exit(runsMain(args))
}

func runsMain(args []string) int {
	cons := newConsole(silent)
	target := targetFromArgs(args)

	eng, _, cleanup, err := setup()
	if err != nil {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}
	defer cleanup()

	refs, err := eng.ListRevertPoints(context.Background(), target)
	if err != nil {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}
	if len(refs) == 0 {
		cons.Mutedf("No recorded runs for %s.", target)
		return CLIExitSuccess
	}

	cons.Titlef("Runs for %s", target)
	for _, ref := range refs {
		status := "complete"
		if ref.FinishedAt.IsZero() {
			status = "interrupted"
		}
		cons.Printf("  %s  %s  %d entries, %d revertible (%s)\n",
			ref.RunID,
			ref.StartedAt.Format("2006-01-02 15:04:05"),
			ref.EntryCount,
			ref.MovedCount,
			status,
		)
	}
	return CLIExitSuccess
}
