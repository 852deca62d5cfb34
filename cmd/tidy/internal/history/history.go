// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package history persists the move log that makes Tidy runs reversible.

Every non-dry run appends one Entry per attempted move, durably, before
the run is considered complete. The log is the source of truth for
revert: it records where each file came from, where it went, and
whether the move actually happened.

Two backends implement the Store interface:

  - FileStore: one JSON document per run under ~/.tidy/history. The
    FOSS-tier default; logs are plain files a user can inspect or back
    up with no tooling.
  - BadgerStore: an embedded BadgerDB keyspace for users organizing
    very large trees, where thousands of runs make per-file JSON
    listing slow.

Run identifiers sort chronologically ("20060102150405") and are
strictly increasing per target directory, so listing runs newest-first
is a string sort.
*/
package history

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// runIDLayout is the time format backing run identifiers. Second
// resolution is enough because the allocator never reissues a value.
const runIDLayout = "20060102150405"

// ErrLogCorrupt is returned (wrapped) when a persisted move log cannot
// be decoded. Revert refuses to act on a corrupt log.
var ErrLogCorrupt = errors.New("move log is corrupt")

// ErrRunNotFound is returned when no log exists for the requested run.
var ErrRunNotFound = errors.New("run not found")

// -----------------------------------------------------------------------------
// Model
// -----------------------------------------------------------------------------

// Status records the outcome of one attempted move.
type Status string

const (
	// StatusMoved means the file reached its destination.
	StatusMoved Status = "moved"

	// StatusSkipped means the user declined the move in interactive
	// mode, or the planner dropped it. Revert ignores these entries.
	StatusSkipped Status = "skipped"

	// StatusFailed means the move errored. The Error field carries the
	// reason. Revert ignores these entries.
	StatusFailed Status = "failed"
)

// Entry is one attempted move within a run.
type Entry struct {
	// ID uniquely identifies the entry within its run.
	ID string `json:"id"`

	// Source is the absolute pre-move path.
	Source string `json:"source"`

	// Destination is the absolute post-move path, including any
	// collision suffix applied to the base name.
	Destination string `json:"destination"`

	// Quarantine is the staging path the file passed through on
	// quarantined runs. Empty for direct moves.
	Quarantine string `json:"quarantine,omitempty"`

	// Status is the move outcome.
	Status Status `json:"status"`

	// Error holds the failure reason for StatusFailed entries.
	Error string `json:"error,omitempty"`

	// Reverted marks entries whose file has been moved back.
	Reverted bool `json:"reverted,omitempty"`

	// MovedAt is when the move completed (or failed).
	MovedAt time.Time `json:"moved_at"`
}

// RunLog is the full persisted record of one run.
type RunLog struct {
	RunID      string    `json:"run_id"`
	TargetDir  string    `json:"target_dir"`
	Quarantine bool      `json:"quarantine,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Entries are in completion order, which under concurrency is not
	// scan order. Revert walks them individually, so order does not
	// affect correctness.
	Entries []Entry `json:"entries"`
}

// MovedCount returns the number of entries revert would act on.
func (l *RunLog) MovedCount() int {
	var n int
	for _, e := range l.Entries {
		if e.Status == StatusMoved && !e.Reverted {
			n++
		}
	}
	return n
}

// RunRef is a lightweight run summary for listings.
type RunRef struct {
	RunID      string
	TargetDir  string
	StartedAt  time.Time
	FinishedAt time.Time
	EntryCount int
	MovedCount int
}

// -----------------------------------------------------------------------------
// Store Interface
// -----------------------------------------------------------------------------

// Store persists move logs.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the scheduler
// appends entries from multiple workers against the same run.
type Store interface {
	// Begin allocates a run identifier for targetDir and persists the
	// run header. The returned ID is strictly greater than any ID this
	// store previously issued for the same directory.
	Begin(ctx context.Context, targetDir string, quarantine bool) (string, error)

	// Append durably records one entry against an open run. It must
	// return only after the entry would survive a crash.
	Append(ctx context.Context, targetDir, runID string, entry Entry) error

	// Finalize stamps the run's finish time. The run remains loadable.
	Finalize(ctx context.Context, targetDir, runID string) error

	// ListRuns returns summaries of all runs recorded for targetDir,
	// newest first.
	ListRuns(ctx context.Context, targetDir string) ([]RunRef, error)

	// Load returns the full log for one run. Returns ErrRunNotFound if
	// no such run exists and wraps ErrLogCorrupt if the stored record
	// cannot be decoded.
	Load(ctx context.Context, targetDir, runID string) (*RunLog, error)

	// MarkReverted flags the given entry IDs as reverted. A nil or
	// empty slice flags every moved entry.
	MarkReverted(ctx context.Context, targetDir, runID string, entryIDs []string) error

	// Delete removes the run's log entirely. Called after a fully
	// successful revert.
	Delete(ctx context.Context, targetDir, runID string) error

	// Close releases backend resources.
	Close() error
}

// -----------------------------------------------------------------------------
// Run ID Allocation
// -----------------------------------------------------------------------------

// runIDAllocator issues strictly increasing run IDs per directory key.
// Two runs begun within the same wall-clock second get distinct IDs:
// the later one is bumped forward by one second.
type runIDAllocator struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newRunIDAllocator() *runIDAllocator {
	return &runIDAllocator{last: make(map[string]time.Time)}
}

// next returns the run ID and its timestamp for the given directory
// key. floor, when non-zero, is the newest ID already persisted for
// the key; it guards monotonicity across process restarts.
func (a *runIDAllocator) next(dirKey, floor string, now time.Time) (string, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := now.Truncate(time.Second)
	if prev, ok := a.last[dirKey]; ok && !ts.After(prev) {
		ts = prev.Add(time.Second)
	}
	if floor != "" {
		if floorTS, err := time.ParseInLocation(runIDLayout, floor, time.Local); err == nil && !ts.After(floorTS) {
			ts = floorTS.Add(time.Second)
		}
	}

	a.last[dirKey] = ts
	return ts.Format(runIDLayout), ts
}

// -----------------------------------------------------------------------------
// Directory Keys
// -----------------------------------------------------------------------------

// dirKey flattens a target directory path into a token safe for file
// names and key prefixes. Sanitization alone is lossy ("/a/b" and
// "/a_b" both flatten to "a_b"), so a short hash of the raw path is
// appended to keep distinct directories on distinct keys.
func dirKey(targetDir string) string {
	var b strings.Builder
	for _, r := range targetDir {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	key := strings.Trim(b.String(), "_")
	if key == "" {
		key = "root"
	}
	if len(key) > 80 {
		key = key[len(key)-80:]
	}

	h := fnv.New32a()
	h.Write([]byte(targetDir))
	return fmt.Sprintf("%s_%08x", key, h.Sum32())
}
