// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/history"
	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/rules"
	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/scan"
	"github.com/AleutianAI/AleutianTidy/pkg/logging"
)

// fakeApprover scripts confirmation answers by file base name.
type fakeApprover struct {
	decline map[string]bool
	asked   int
}

func (a *fakeApprover) Confirm(ctx context.Context, prompt string) (bool, error) {
	a.asked++
	for name, declined := range a.decline {
		if declined && strings.Contains(prompt, name) {
			return false, nil
		}
	}
	return true, nil
}

// sabotageApprover approves every move but deletes a file on its first
// call, between planning and execution.
type sabotageApprover struct {
	remove string
}

func (a *sabotageApprover) Confirm(ctx context.Context, prompt string) (bool, error) {
	if a.remove != "" {
		_ = os.Remove(a.remove)
		a.remove = ""
	}
	return true, nil
}

// newTestEngine builds an engine over a file store in a temp root.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := history.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return &Engine{
		Logger: logging.Default(),
		Store:  store,
	}
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0640); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func mustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Lstat(path); err == nil {
		t.Errorf("%s still exists", path)
	}
}

func mustExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Lstat(path); err != nil {
		t.Errorf("%s missing: %v", path, err)
	}
}

var extensionOnly = &rules.Set{Rules: []rules.Rule{{Kind: rules.KindExtension}}}

// -----------------------------------------------------------------------------
// Run Tests
// -----------------------------------------------------------------------------

// TestPlanAndExecute_ExtensionRun covers the basic organize: files land
// in extension folders and the log records every move.
func TestPlanAndExecute_ExtensionRun(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), 1)
	writeFile(t, filepath.Join(dir, "b.TXT"), 1)
	writeFile(t, filepath.Join(dir, "c"), 1)

	result, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{Threads: 4})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}
	if result.Moved != 3 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 3 moved", result)
	}

	mustExist(t, filepath.Join(dir, "txt", "a.txt"))
	mustExist(t, filepath.Join(dir, "txt", "b.TXT"))
	mustExist(t, filepath.Join(dir, rules.NoExtensionFolder, "c"))
	mustNotExist(t, filepath.Join(dir, "a.txt"))

	log, err := e.Store.Load(ctx, dir, result.RunID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(log.Entries) != 3 || log.MovedCount() != 3 {
		t.Errorf("log has %d entries, %d moved; want 3/3", len(log.Entries), log.MovedCount())
	}
	if log.FinishedAt.IsZero() {
		t.Error("run not finalized")
	}
}

// TestPlanAndExecute_DryRun verifies a dry run reports moves but
// leaves the filesystem and history untouched.
func TestPlanAndExecute_DryRun(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), 1)

	var planned []Move
	e.OnPlanned = func(m Move) { planned = append(planned, m) }

	result, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{DryRun: true})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}
	if result.Planned != 1 || result.Moved != 0 || result.RunID != "" {
		t.Errorf("result = %+v, want 1 planned, nothing moved, no run ID", result)
	}
	if len(planned) != 1 {
		t.Fatalf("OnPlanned called %d times, want 1", len(planned))
	}

	mustExist(t, filepath.Join(dir, "a.txt"))
	mustNotExist(t, filepath.Join(dir, "txt"))

	refs, err := e.Store.ListRuns(ctx, dir)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("dry run persisted %d runs", len(refs))
	}
}

// TestPlanAndExecute_DryRunIdempotent verifies two consecutive dry
// runs plan the identical move set.
func TestPlanAndExecute_DryRunIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), 1)
	writeFile(t, filepath.Join(dir, "b.pdf"), 1)

	collect := func() []Move {
		var planned []Move
		e.OnPlanned = func(m Move) { planned = append(planned, m) }
		if _, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{DryRun: true}); err != nil {
			t.Fatalf("PlanAndExecute() error = %v", err)
		}
		return planned
	}

	first := collect()
	second := collect()
	if len(first) != len(second) {
		t.Fatalf("plan sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("plan[%d] differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

// TestPlanAndExecute_CollisionSuffix verifies an occupied destination
// name gets the _N suffix instead of being overwritten.
func TestPlanAndExecute_CollisionSuffix(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "txt", "a.txt"), 1)
	writeFile(t, filepath.Join(dir, "a.txt"), 2)

	result, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}
	if result.Moved != 1 {
		t.Fatalf("result = %+v, want 1 moved", result)
	}

	mustExist(t, filepath.Join(dir, "txt", "a.txt"))
	mustExist(t, filepath.Join(dir, "txt", "a_1.txt"))

	// The pre-existing file is untouched.
	data, err := os.ReadFile(filepath.Join(dir, "txt", "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(data) != 1 {
		t.Error("existing destination file was overwritten")
	}
}

// TestPlanAndExecute_AlreadyOrganized verifies files already in their
// rule folder are not planned again (recursive mode).
func TestPlanAndExecute_AlreadyOrganized(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "txt", "done.txt"), 1)

	result, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{Recursive: true})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}
	if result.Planned != 0 {
		t.Errorf("Planned = %d, want 0", result.Planned)
	}
	mustExist(t, filepath.Join(dir, "txt", "done.txt"))
}

// TestPlanAndExecute_Interactive verifies declined moves are skipped
// and logged as such.
func TestPlanAndExecute_Interactive(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "yes.txt"), 1)
	writeFile(t, filepath.Join(dir, "no.pdf"), 1)

	approver := &fakeApprover{decline: map[string]bool{"no.pdf": true}}
	e.Approver = approver

	result, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{Interactive: true})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}
	if approver.asked != 2 {
		t.Errorf("asked = %d, want 2", approver.asked)
	}
	if result.Moved != 1 || result.Skipped != 1 {
		t.Fatalf("result = %+v, want 1 moved 1 skipped", result)
	}

	mustExist(t, filepath.Join(dir, "txt", "yes.txt"))
	mustExist(t, filepath.Join(dir, "no.pdf"))
	mustNotExist(t, filepath.Join(dir, "pdf"))

	log, err := e.Store.Load(ctx, dir, result.RunID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	var skipped int
	for _, entry := range log.Entries {
		if entry.Status == history.StatusSkipped {
			skipped++
		}
	}
	if skipped != 1 {
		t.Errorf("log skipped = %d, want 1", skipped)
	}
}

// TestPlanAndExecute_Quarantine verifies the staging path commits all
// files and leaves no quarantine residue.
func TestPlanAndExecute_Quarantine(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), 1)
	writeFile(t, filepath.Join(dir, "b.pdf"), 1)

	result, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{Quarantine: true, Threads: 2})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}
	if result.Moved != 2 {
		t.Fatalf("result = %+v, want 2 moved", result)
	}

	mustExist(t, filepath.Join(dir, "txt", "a.txt"))
	mustExist(t, filepath.Join(dir, "pdf", "b.pdf"))
	mustNotExist(t, filepath.Join(dir, scan.QuarantineDirName))

	log, err := e.Store.Load(ctx, dir, result.RunID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	stagePrefix := filepath.Join(dir, scan.QuarantineDirName, result.RunID)
	for _, entry := range log.Entries {
		if !strings.HasPrefix(entry.Quarantine, stagePrefix) {
			t.Errorf("entry %s quarantine = %q, want under %s", entry.Source, entry.Quarantine, stagePrefix)
		}
	}
}

// TestPlanAndExecute_QuarantineStageFailure verifies a failure while
// staging commits nothing: every staged file returns to its source
// and the log records the run as skipped/failed.
func TestPlanAndExecute_QuarantineStageFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), 1)
	writeFile(t, filepath.Join(dir, "b.pdf"), 1)

	// b.pdf vanishes after planning, so its staging move fails and the
	// whole run must roll back.
	e.Approver = &sabotageApprover{remove: filepath.Join(dir, "b.pdf")}

	result, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{
		Quarantine:  true,
		Interactive: true,
		Threads:     2,
	})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}
	if result.Moved != 0 || result.Failed != 1 || result.Skipped != 1 {
		t.Fatalf("result = %+v, want 0 moved, 1 failed, 1 skipped", result)
	}

	mustExist(t, filepath.Join(dir, "a.txt"))
	mustNotExist(t, filepath.Join(dir, "txt"))
	mustNotExist(t, filepath.Join(dir, "pdf"))
	mustNotExist(t, filepath.Join(dir, scan.QuarantineDirName))

	log, err := e.Store.Load(ctx, dir, result.RunID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if log.MovedCount() != 0 {
		t.Errorf("MovedCount() = %d, want 0: nothing was committed", log.MovedCount())
	}
	if len(log.Entries) != 2 {
		t.Errorf("log has %d entries, want 2", len(log.Entries))
	}
}

// TestPlanAndExecute_QuarantineCommitFailure verifies a failed commit
// rolls the file back to its source instead of stranding it in the
// staging directory.
func TestPlanAndExecute_QuarantineCommitFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), 3)
	// A regular file occupying the rule folder's name makes the commit
	// mkdir fail after staging succeeded.
	writeFile(t, filepath.Join(dir, "txt"), 1)

	result, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{
		Quarantine: true,
		Include:    []string{"*.txt"},
	})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}
	if result.Moved != 0 || result.Failed != 1 {
		t.Fatalf("result = %+v, want 0 moved, 1 failed", result)
	}

	mustExist(t, filepath.Join(dir, "a.txt"))
	mustNotExist(t, filepath.Join(dir, scan.QuarantineDirName))

	log, err := e.Store.Load(ctx, dir, result.RunID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if log.MovedCount() != 0 {
		t.Errorf("MovedCount() = %d, want 0", log.MovedCount())
	}
}

// TestPlanAndExecute_SizeRules verifies size classification
// end-to-end: 500 bytes -> small, 2048 bytes -> large.
func TestPlanAndExecute_SizeRules(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "s.bin"), 500)
	writeFile(t, filepath.Join(dir, "l.bin"), 2048)

	limit := int64(1024)
	set := &rules.Set{Rules: []rules.Rule{{
		Kind: rules.KindSize,
		Sizes: []rules.SizeRange{
			{MinBytes: 0, MaxBytes: &limit, Folder: "small"},
			{MinBytes: 1024, Folder: "large"},
		},
	}}}

	if _, err := e.PlanAndExecute(ctx, dir, set, Options{}); err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}
	mustExist(t, filepath.Join(dir, "small", "s.bin"))
	mustExist(t, filepath.Join(dir, "large", "l.bin"))
}

// TestPlanAndExecute_EmptyDirectory verifies a zero-candidate run is a
// clean no-op.
func TestPlanAndExecute_EmptyDirectory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()

	result, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}
	if result.Planned != 0 || result.RunID != "" {
		t.Errorf("result = %+v, want empty no-op", result)
	}
}

// -----------------------------------------------------------------------------
// Revert Tests
// -----------------------------------------------------------------------------

// TestRevert_RoundTrip organizes then reverts and expects the original
// layout back, the log deleted, and the rule folders pruned.
func TestRevert_RoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), 1)
	writeFile(t, filepath.Join(dir, "b.pdf"), 1)

	run, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}

	revert, err := e.Revert(ctx, dir, run.RunID)
	if err != nil {
		t.Fatalf("Revert() error = %v", err)
	}
	if revert.Restored != 2 || revert.Failed != 0 || !revert.LogDeleted {
		t.Fatalf("revert = %+v, want 2 restored and log deleted", revert)
	}

	mustExist(t, filepath.Join(dir, "a.txt"))
	mustExist(t, filepath.Join(dir, "b.pdf"))
	mustNotExist(t, filepath.Join(dir, "txt"))
	mustNotExist(t, filepath.Join(dir, "pdf"))

	refs, err := e.Store.ListRuns(ctx, dir)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("log survives after full revert")
	}
}

// TestRevert_PartialConflict verifies an occupied source path fails
// only that entry and keeps the log for a retry.
func TestRevert_PartialConflict(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), 1)
	writeFile(t, filepath.Join(dir, "b.pdf"), 1)

	run, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}

	// A new file reoccupies a.txt's original path.
	writeFile(t, filepath.Join(dir, "a.txt"), 9)

	revert, err := e.Revert(ctx, dir, run.RunID)
	if err != nil {
		t.Fatalf("Revert() error = %v", err)
	}
	if revert.Restored != 1 || revert.Failed != 1 || revert.LogDeleted {
		t.Fatalf("revert = %+v, want 1 restored 1 failed, log kept", revert)
	}

	// The occupying file is untouched; the moved copy stays put.
	data, _ := os.ReadFile(filepath.Join(dir, "a.txt"))
	if len(data) != 9 {
		t.Error("occupying file was overwritten")
	}
	mustExist(t, filepath.Join(dir, "txt", "a.txt"))

	// The restored entry is flagged so a retry skips it.
	log, err := e.Store.Load(ctx, dir, run.RunID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if log.MovedCount() != 1 {
		t.Errorf("MovedCount() = %d, want 1 pending entry", log.MovedCount())
	}
}

// TestRevert_SkippedEntriesUntouched verifies revert ignores skipped
// entries entirely.
func TestRevert_SkippedEntriesUntouched(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "yes.txt"), 1)
	writeFile(t, filepath.Join(dir, "no.pdf"), 1)

	e.Approver = &fakeApprover{decline: map[string]bool{"no.pdf": true}}
	run, err := e.PlanAndExecute(ctx, dir, extensionOnly, Options{Interactive: true})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}

	revert, err := e.Revert(ctx, dir, run.RunID)
	if err != nil {
		t.Fatalf("Revert() error = %v", err)
	}
	if revert.Restored != 1 || revert.Failed != 0 {
		t.Fatalf("revert = %+v, want exactly the 1 moved entry restored", revert)
	}
	mustExist(t, filepath.Join(dir, "no.pdf"))
}

// TestRevert_MissingRun verifies the not-found error propagates.
func TestRevert_MissingRun(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Revert(context.Background(), t.TempDir(), "20200101000000"); err == nil {
		t.Error("expected error for unknown run")
	}
}

// TestRevert_RestoresFromQuarantine verifies an entry whose file was
// left at its staging path (crash between commit and cleanup) is
// restored from there when the destination is gone.
func TestRevert_RestoresFromQuarantine(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()

	runID, err := e.Store.Begin(ctx, dir, true)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	staged := filepath.Join(dir, scan.QuarantineDirName, runID, "00000_a.txt")
	writeFile(t, staged, 2)

	entry := history.Entry{
		ID:          "e1",
		Source:      filepath.Join(dir, "a.txt"),
		Destination: filepath.Join(dir, "txt", "a.txt"),
		Quarantine:  staged,
		Status:      history.StatusMoved,
	}
	if err := e.Store.Append(ctx, dir, runID, entry); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := e.Store.Finalize(ctx, dir, runID); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	revert, err := e.Revert(ctx, dir, runID)
	if err != nil {
		t.Fatalf("Revert() error = %v", err)
	}
	if revert.Restored != 1 || revert.Failed != 0 || !revert.LogDeleted {
		t.Fatalf("revert = %+v, want 1 restored and log deleted", revert)
	}

	mustExist(t, filepath.Join(dir, "a.txt"))
	mustNotExist(t, staged)
	mustNotExist(t, filepath.Join(dir, scan.QuarantineDirName))
}

// -----------------------------------------------------------------------------
// Planner Tests
// -----------------------------------------------------------------------------

// TestPlanner_ReservesWithinRun verifies two same-named sources get
// distinct destinations before anything moves.
func TestPlanner_ReservesWithinRun(t *testing.T) {
	destDir := t.TempDir()
	pl := newPlanner()

	first, err := pl.plan("/x/report.txt", destDir)
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}
	second, err := pl.plan("/y/report.txt", destDir)
	if err != nil {
		t.Fatalf("plan() error = %v", err)
	}

	if first == second {
		t.Fatalf("planner reserved the same destination twice: %s", first)
	}
	if filepath.Base(second) != "report_1.txt" {
		t.Errorf("second destination = %s, want report_1.txt", filepath.Base(second))
	}
}

// TestSplitSuffix verifies collision-suffix name splitting.
func TestSplitSuffix(t *testing.T) {
	tests := []struct {
		base     string
		wantStem string
		wantExt  string
	}{
		{"report.txt", "report", ".txt"},
		{"archive.tar.gz", "archive.tar", ".gz"},
		{"noext", "noext", ""},
		{".bashrc", ".bashrc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			stem, ext := splitSuffix(tt.base)
			if stem != tt.wantStem || ext != tt.wantExt {
				t.Errorf("splitSuffix(%q) = (%q, %q), want (%q, %q)",
					tt.base, stem, ext, tt.wantStem, tt.wantExt)
			}
		})
	}
}
