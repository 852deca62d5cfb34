// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package engine plans and executes organizing runs.

A run is scan -> classify -> plan -> (confirm) -> execute -> log. The
engine owns the ordering guarantees:

  - Destinations are reserved before any file moves, so concurrent
    workers never race on a name.
  - Every executed move is durably logged before the run continues,
    so any completed move is revertible.
  - In quarantine mode nothing is committed unless every file stages
    successfully.

The engine is pure orchestration: terminals, colors and flags live in
the CLI, which injects an Approver and display callbacks.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/history"
	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/rules"
	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/scan"
	"github.com/AleutianAI/AleutianTidy/pkg/logging"
)

// Engine wires the run pipeline together.
//
// # Thread Safety
//
// One Engine may run one PlanAndExecute or Revert at a time. The
// callbacks are invoked from a single goroutine at a time.
type Engine struct {
	// Logger receives structured run events. Required.
	Logger *logging.Logger

	// Store persists move logs. Required except for pure dry runs.
	Store history.Store

	// Approver handles interactive confirmation. Required only when
	// Options.Interactive is set.
	Approver Approver

	// OnPlanned is called for each planned move in a dry run.
	OnPlanned func(Move)

	// OnOutcome is called after each executed move.
	OnOutcome func(Outcome)

	// OnProgress is called after each completed move with running
	// totals.
	OnProgress func(done, total int)

	// Clock overrides time.Now for date-rule evaluation. Tests use it;
	// nil means wall clock.
	Clock func() time.Time
}

// RunResult summarizes one organizing run.
type RunResult struct {
	RunID   string
	DryRun  bool
	Scanned int
	Planned int
	Moved   int
	Skipped int
	Failed  int
}

// RevertResult summarizes one revert.
type RevertResult struct {
	RunID    string
	Restored int
	Failed   int

	// LogDeleted is true when every entry restored and the move log
	// was removed.
	LogDeleted bool

	// Errors holds one error per failed restore.
	Errors []error
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// -----------------------------------------------------------------------------
// Organizing Runs
// -----------------------------------------------------------------------------

// PlanAndExecute performs one organizing run against targetDir.
//
// # Description
//
// Scans the directory, classifies every candidate against the rule
// set, reserves collision-free destinations, then executes the moves
// on a bounded worker pool. Dry runs stop after planning. Interactive
// runs confirm each move first; declined moves are logged as skipped.
// A zero-Planned result means there was nothing to organize.
//
// # Inputs
//
//   - ctx: Cancels scanning and execution between files.
//   - targetDir: Directory to organize. Must exist.
//   - set: Rule set for classification and filtering.
//   - opts: Run options; Include/Exclude override the set's filters.
//
// # Outputs
//
//   - *RunResult: Counts plus the run ID (empty for dry runs).
//   - error: Non-nil for setup failures or an unusable move log.
//     Individual move failures are counted, not returned.
func (e *Engine) PlanAndExecute(ctx context.Context, targetDir string, set *rules.Set, opts Options) (*RunResult, error) {
	targetDir, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target directory: %w", err)
	}
	info, err := os.Stat(targetDir)
	if err != nil {
		return nil, fmt.Errorf("target directory %s: %w", targetDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("target %s is not a directory", targetDir)
	}
	if opts.Interactive && e.Approver == nil {
		return nil, errors.New("interactive mode requires an approver")
	}
	if !opts.DryRun && e.Store == nil {
		return nil, errors.New("move-log store is required for non-dry runs")
	}

	runSet := *set
	if opts.Include != nil {
		runSet.Include = opts.Include
	}
	if opts.Exclude != nil {
		runSet.Exclude = opts.Exclude
	}

	files, err := scan.Run(ctx, targetDir, &runSet, scan.Options{Recursive: opts.Recursive})
	if err != nil {
		return nil, err
	}

	result := &RunResult{DryRun: opts.DryRun, Scanned: len(files)}
	now := e.now()
	pl := newPlanner()

	var moves []Move
	var planFailed []Outcome
	for _, f := range files {
		folder := rules.Classify(f, &runSet, now)
		destDir := filepath.Join(targetDir, folder)
		if filepath.Dir(f.Path) == destDir {
			// Already where it belongs.
			continue
		}

		dest, err := pl.plan(f.Path, destDir)
		if err != nil {
			planFailed = append(planFailed, Outcome{
				Move: Move{Source: f.Path, Folder: folder},
				Err:  err,
			})
			continue
		}
		moves = append(moves, Move{Source: f.Path, Destination: dest, Folder: folder})
	}
	result.Planned = len(moves)
	result.Failed = len(planFailed)

	e.Logger.Info("run planned",
		"target_dir", targetDir,
		"scanned", result.Scanned,
		"planned", result.Planned,
		"dry_run", opts.DryRun,
		"quarantine", opts.Quarantine,
	)

	if opts.DryRun {
		for _, m := range moves {
			if e.OnPlanned != nil {
				e.OnPlanned(m)
			}
		}
		return result, nil
	}
	if len(moves) == 0 && len(planFailed) == 0 {
		return result, nil
	}

	var declined []Move
	if opts.Interactive {
		moves, declined, err = e.confirmMoves(ctx, targetDir, moves)
		if err != nil {
			return nil, err
		}
		result.Skipped = len(declined)
	}

	if !opts.Quarantine && opts.workers(len(moves)) > 1 {
		e.Logger.Warn("running multi-threaded without quarantine; an interrupted run leaves the directory partially organized", "threads", opts.Threads)
	}

	runID, err := e.Store.Begin(ctx, targetDir, opts.Quarantine)
	if err != nil {
		return nil, err
	}
	result.RunID = runID

	for _, m := range declined {
		if err := e.appendEntry(ctx, targetDir, runID, m, history.StatusSkipped, nil, ""); err != nil {
			return nil, err
		}
	}
	for _, o := range planFailed {
		if err := e.appendEntry(ctx, targetDir, runID, o.Move, history.StatusFailed, o.Err, ""); err != nil {
			return nil, err
		}
	}

	if len(moves) > 0 {
		if opts.Quarantine {
			err = e.executeQuarantined(ctx, targetDir, runID, moves, opts, result)
		} else {
			err = e.executeDirect(ctx, targetDir, runID, moves, opts, result)
		}
		if err != nil {
			// Best effort: stamp what we have before surfacing.
			_ = e.Store.Finalize(ctx, targetDir, runID)
			return result, err
		}
	}

	if err := e.Store.Finalize(ctx, targetDir, runID); err != nil {
		return result, err
	}

	e.Logger.Info("run finished",
		"run_id", runID,
		"moved", result.Moved,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// confirmMoves asks the approver about each planned move, serially so
// prompts never interleave.
func (e *Engine) confirmMoves(ctx context.Context, targetDir string, moves []Move) (approved, declined []Move, err error) {
	for _, m := range moves {
		rel, relErr := filepath.Rel(targetDir, m.Destination)
		if relErr != nil {
			rel = m.Destination
		}
		prompt := fmt.Sprintf("Move %s -> %s?", filepath.Base(m.Source), rel)

		ok, err := e.Approver.Confirm(ctx, prompt)
		if err != nil {
			return nil, nil, fmt.Errorf("confirmation aborted: %w", err)
		}
		if ok {
			approved = append(approved, m)
		} else {
			declined = append(declined, m)
		}
	}
	return approved, declined, nil
}

// executeDirect moves files straight to their destinations on the
// worker pool.
func (e *Engine) executeDirect(ctx context.Context, targetDir, runID string, moves []Move, opts Options, result *RunResult) error {
	done := 0
	total := len(moves)

	return runPool(ctx, moves, opts.workers(total),
		func(m Move) error {
			return moveFile(m.Source, m.Destination)
		},
		func(o Outcome) error {
			done++
			return e.recordOutcome(ctx, targetDir, runID, o, result, done, total, "")
		},
	)
}

// executeQuarantined stages every file into a hidden per-run directory
// first, and commits to final destinations only if staging fully
// succeeded. A staging failure rolls every staged file back to its
// source, so the target is never left half-organized by this run.
func (e *Engine) executeQuarantined(ctx context.Context, targetDir, runID string, moves []Move, opts Options, result *RunResult) error {
	stageDir := filepath.Join(targetDir, scan.QuarantineDirName, runID)
	if err := os.MkdirAll(stageDir, 0750); err != nil {
		return fmt.Errorf("failed to create quarantine directory: %w", err)
	}

	// Sequence numbers keep staged names unique even when sources from
	// different subdirectories share a base name.
	stageOf := make(map[string]string, len(moves))
	for i, m := range moves {
		stageOf[m.Source] = filepath.Join(stageDir, fmt.Sprintf("%05d_%s", i, filepath.Base(m.Source)))
	}

	workers := opts.workers(len(moves))

	// Phase 1: stage.
	var stageFailures []Outcome
	err := runPool(ctx, moves, workers,
		func(m Move) error {
			return moveFile(m.Source, stageOf[m.Source])
		},
		func(o Outcome) error {
			if o.Err != nil {
				stageFailures = append(stageFailures, o)
			}
			return nil
		},
	)
	if err != nil {
		e.rollbackStaged(moves, stageOf)
		e.cleanupQuarantine(targetDir, stageDir)
		return err
	}

	if len(stageFailures) > 0 {
		e.Logger.Warn("staging failed; rolling back, nothing committed", "failures", len(stageFailures))
		e.rollbackStaged(moves, stageOf)
		e.cleanupQuarantine(targetDir, stageDir)

		failed := make(map[string]error, len(stageFailures))
		for _, o := range stageFailures {
			failed[o.Move.Source] = o.Err
		}
		for _, m := range moves {
			status := history.StatusSkipped
			moveErr := failed[m.Source]
			if moveErr != nil {
				status = history.StatusFailed
			}
			if err := e.appendEntry(ctx, targetDir, runID, m, status, moveErr, ""); err != nil {
				return err
			}
			if moveErr != nil {
				result.Failed++
			} else {
				result.Skipped++
			}
		}
		return nil
	}

	// Phase 2: commit.
	done := 0
	total := len(moves)
	err = runPool(ctx, moves, workers,
		func(m Move) error {
			return moveFile(stageOf[m.Source], m.Destination)
		},
		func(o Outcome) error {
			if o.Err != nil {
				// Put the file back rather than stranding it in
				// quarantine.
				if rbErr := moveFile(stageOf[o.Move.Source], o.Move.Source); rbErr != nil {
					e.Logger.Error("file stranded in quarantine", "path", stageOf[o.Move.Source], "error", rbErr)
				}
			}
			done++
			return e.recordOutcome(ctx, targetDir, runID, o, result, done, total, stageOf[o.Move.Source])
		},
	)
	e.cleanupQuarantine(targetDir, stageDir)
	return err
}

// rollbackStaged returns successfully staged files to their sources.
func (e *Engine) rollbackStaged(moves []Move, stageOf map[string]string) {
	for _, m := range moves {
		staged := stageOf[m.Source]
		if _, err := os.Lstat(staged); err != nil {
			continue
		}
		if err := moveFile(staged, m.Source); err != nil {
			e.Logger.Error("rollback failed; file remains in quarantine", "path", staged, "error", err)
		}
	}
}

// cleanupQuarantine removes the per-run staging directory and the
// quarantine root when both are empty.
func (e *Engine) cleanupQuarantine(targetDir, stageDir string) {
	removeIfEmpty(stageDir)
	removeIfEmpty(filepath.Join(targetDir, scan.QuarantineDirName))
}

// recordOutcome logs one executed move durably and updates counters
// and callbacks. Called with the pool's record mutex held.
func (e *Engine) recordOutcome(ctx context.Context, targetDir, runID string, o Outcome, result *RunResult, done, total int, stage string) error {
	status := history.StatusMoved
	if o.Err != nil {
		status = history.StatusFailed
	}
	if err := e.appendEntry(ctx, targetDir, runID, o.Move, status, o.Err, stage); err != nil {
		return err
	}

	if o.Err != nil {
		result.Failed++
		e.Logger.Error("move failed", "source", o.Move.Source, "error", o.Err)
	} else {
		result.Moved++
		e.Logger.Debug("moved", "source", o.Move.Source, "destination", o.Move.Destination)
	}

	if e.OnOutcome != nil {
		e.OnOutcome(o)
	}
	if e.OnProgress != nil {
		e.OnProgress(done, total)
	}
	return nil
}

// appendEntry writes one move-log entry. stage is the quarantine path
// the file passed through, empty for direct moves.
func (e *Engine) appendEntry(ctx context.Context, targetDir, runID string, m Move, status history.Status, moveErr error, stage string) error {
	entry := history.Entry{
		ID:          uuid.NewString(),
		Source:      m.Source,
		Destination: m.Destination,
		Quarantine:  stage,
		Status:      status,
		MovedAt:     time.Now(),
	}
	if moveErr != nil {
		entry.Error = moveErr.Error()
	}
	if err := e.Store.Append(ctx, targetDir, runID, entry); err != nil {
		return fmt.Errorf("failed to record move log entry: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Revert
// -----------------------------------------------------------------------------

// ListRevertPoints returns the runs recorded for targetDir, newest
// first.
func (e *Engine) ListRevertPoints(ctx context.Context, targetDir string) ([]history.RunRef, error) {
	targetDir, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target directory: %w", err)
	}
	return e.Store.ListRuns(ctx, targetDir)
}

// Revert restores the files recorded in one run's move log.
//
// # Description
//
// Walks the log and moves every still-unreverted moved entry back to
// its source. Skipped and failed entries are ignored. A destination
// that no longer exists, or a source path that is occupied again,
// fails that entry without stopping the rest. Only a fully restored
// run has its log deleted; partial reverts mark the restored entries
// so a retry handles just the remainder. Rule folders left empty by
// the restore are removed.
//
// # Inputs
//
//   - ctx: Context for the store operations.
//   - targetDir: Directory the run organized.
//   - runID: Run to revert, from ListRevertPoints.
//
// # Outputs
//
//   - *RevertResult: Restore counts and per-entry errors.
//   - error: Non-nil when the log is missing, corrupt, or cannot be
//     updated. history.ErrLogCorrupt is returned wrapped for corrupt
//     logs; no files are touched in that case.
func (e *Engine) Revert(ctx context.Context, targetDir, runID string) (*RevertResult, error) {
	targetDir, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target directory: %w", err)
	}

	log, err := e.Store.Load(ctx, targetDir, runID)
	if err != nil {
		return nil, err
	}

	result := &RevertResult{RunID: runID}
	var restoredIDs []string
	folders := make(map[string]struct{})
	pending := 0

	for _, entry := range log.Entries {
		if entry.Status != history.StatusMoved || entry.Reverted {
			continue
		}
		pending++
		folders[filepath.Dir(entry.Destination)] = struct{}{}
		if entry.Quarantine != "" {
			folders[filepath.Dir(entry.Quarantine)] = struct{}{}
		}

		if err := restoreEntry(entry); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err)
			e.Logger.Error("restore failed", "destination", entry.Destination, "error", err)
			continue
		}
		result.Restored++
		restoredIDs = append(restoredIDs, entry.ID)
	}

	if result.Failed == 0 {
		if pending > 0 || log.MovedCount() == 0 {
			if err := e.Store.Delete(ctx, targetDir, runID); err != nil {
				return result, err
			}
			result.LogDeleted = true
		}
	} else if len(restoredIDs) > 0 {
		if err := e.Store.MarkReverted(ctx, targetDir, runID, restoredIDs); err != nil {
			return result, err
		}
	}

	for folder := range folders {
		removeIfEmpty(folder)
	}
	removeIfEmpty(filepath.Join(targetDir, scan.QuarantineDirName))

	e.Logger.Info("revert finished",
		"run_id", runID,
		"restored", result.Restored,
		"failed", result.Failed,
		"log_deleted", result.LogDeleted,
	)
	return result, nil
}

// restoreEntry moves one file back where it came from, refusing to
// overwrite anything that now occupies the original path. Moved
// entries are logged only after the file reached its destination, but
// an interrupted commit rollback can leave the file at its staging
// path; when the destination is gone and the staged copy survives,
// restore from there instead.
func restoreEntry(entry history.Entry) error {
	from := entry.Destination
	if _, err := os.Lstat(from); err != nil {
		staged := entry.Quarantine
		if staged == "" {
			return &RevertError{Destination: entry.Destination, Source: entry.Source, Wrapped: err}
		}
		if _, stagedErr := os.Lstat(staged); stagedErr != nil {
			return &RevertError{Destination: entry.Destination, Source: entry.Source, Wrapped: err}
		}
		from = staged
	}
	if _, err := os.Lstat(entry.Source); err == nil {
		return &RevertError{
			Destination: entry.Destination,
			Source:      entry.Source,
			Wrapped:     errors.New("original path is occupied"),
		}
	}
	if err := moveFile(from, entry.Source); err != nil {
		return &RevertError{Destination: entry.Destination, Source: entry.Source, Wrapped: err}
	}
	return nil
}
