// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// logFileExtension is the suffix for per-run log documents.
const logFileExtension = ".json"

// FileStore persists one JSON document per run in a flat directory.
//
// # Description
//
// The FOSS-tier default backend. Each run lives in
// <root>/<dirKey>_<runID>.json, rewritten atomically (temp file plus
// rename) on every append so a crash mid-run leaves the last complete
// snapshot on disk rather than a torn file.
//
// # Limitations
//
//   - Appends rewrite the whole document; fine for directory-organizer
//     scale, wrong for millions of entries per run. Use BadgerStore
//     for that.
//
// # Thread Safety
//
// A single mutex serializes all operations. Workers appending
// concurrently contend on it, which is acceptable because each append
// is one small file write.
type FileStore struct {
	// root is the directory holding run documents.
	root string

	// mu protects open and all file operations.
	mu sync.Mutex

	// open caches in-flight runs so appends do not reread the file.
	open map[string]*RunLog

	alloc *runIDAllocator
}

// NewFileStore creates a file-backed move-log store.
//
// # Inputs
//
//   - root: Directory for run documents. Empty selects the default
//     (~/.tidy/history). Created if missing.
//
// # Outputs
//
//   - *FileStore: Ready-to-use store.
//   - error: Non-nil if the directory cannot be created.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		root = filepath.Join(homeDir, ".tidy", "history")
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create history directory %s: %w", root, err)
	}

	return &FileStore{
		root:  root,
		open:  make(map[string]*RunLog),
		alloc: newRunIDAllocator(),
	}, nil
}

// Root returns the directory holding run documents.
func (s *FileStore) Root() string {
	return s.root
}

// Begin allocates a run ID and writes the run header document.
func (s *FileStore) Begin(ctx context.Context, targetDir string, quarantine bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dirKey(targetDir)
	floor, err := s.newestRunIDLocked(key)
	if err != nil {
		return "", err
	}

	runID, startedAt := s.alloc.next(key, floor, time.Now())
	log := &RunLog{
		RunID:      runID,
		TargetDir:  targetDir,
		Quarantine: quarantine,
		StartedAt:  startedAt,
		Entries:    []Entry{},
	}

	if err := s.persistLocked(key, log); err != nil {
		return "", err
	}
	s.open[key+"/"+runID] = log
	return runID, nil
}

// Append records one entry and rewrites the run document.
func (s *FileStore) Append(ctx context.Context, targetDir, runID string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dirKey(targetDir)
	log, err := s.loadLocked(key, runID)
	if err != nil {
		return err
	}

	log.Entries = append(log.Entries, entry)
	return s.persistLocked(key, log)
}

// Finalize stamps the finish time and drops the run from the open
// cache.
func (s *FileStore) Finalize(ctx context.Context, targetDir, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dirKey(targetDir)
	log, err := s.loadLocked(key, runID)
	if err != nil {
		return err
	}

	log.FinishedAt = time.Now()
	if err := s.persistLocked(key, log); err != nil {
		return err
	}
	delete(s.open, key+"/"+runID)
	return nil
}

// ListRuns returns run summaries for targetDir, newest first.
func (s *FileStore) ListRuns(ctx context.Context, targetDir string) ([]RunRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dirKey(targetDir)
	runIDs, err := s.runIDsLocked(key)
	if err != nil {
		return nil, err
	}

	// Run IDs are fixed-width timestamps; lexicographic descending is
	// chronological descending.
	sort.Sort(sort.Reverse(sort.StringSlice(runIDs)))

	refs := make([]RunRef, 0, len(runIDs))
	for _, runID := range runIDs {
		log, err := s.loadLocked(key, runID)
		if err != nil {
			return nil, err
		}
		refs = append(refs, RunRef{
			RunID:      log.RunID,
			TargetDir:  log.TargetDir,
			StartedAt:  log.StartedAt,
			FinishedAt: log.FinishedAt,
			EntryCount: len(log.Entries),
			MovedCount: log.MovedCount(),
		})
	}
	return refs, nil
}

// Load returns the full log for one run.
func (s *FileStore) Load(ctx context.Context, targetDir, runID string) (*RunLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, err := s.loadLocked(dirKey(targetDir), runID)
	if err != nil {
		return nil, err
	}

	// Copy so callers cannot mutate the open cache.
	out := *log
	out.Entries = append([]Entry(nil), log.Entries...)
	return &out, nil
}

// MarkReverted flags entries as reverted and rewrites the document.
func (s *FileStore) MarkReverted(ctx context.Context, targetDir, runID string, entryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dirKey(targetDir)
	log, err := s.loadLocked(key, runID)
	if err != nil {
		return err
	}

	markEntriesReverted(log, entryIDs)
	return s.persistLocked(key, log)
}

// Delete removes the run document.
func (s *FileStore) Delete(ctx context.Context, targetDir, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dirKey(targetDir)
	path := s.logPath(key, runID)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("failed to delete move log %s: %w", path, err)
	}
	delete(s.open, key+"/"+runID)
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func (s *FileStore) logPath(key, runID string) string {
	return filepath.Join(s.root, key+"_"+runID+logFileExtension)
}

// loadLocked returns the cached open run or reads its document.
func (s *FileStore) loadLocked(key, runID string) (*RunLog, error) {
	if log, ok := s.open[key+"/"+runID]; ok {
		return log, nil
	}

	path := s.logPath(key, runID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to read move log %s: %w", path, err)
	}

	var log RunLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLogCorrupt, path, err)
	}
	if log.RunID != runID {
		return nil, fmt.Errorf("%w: %s: run_id %q does not match filename", ErrLogCorrupt, path, log.RunID)
	}
	return &log, nil
}

// persistLocked writes the document atomically via temp file + rename.
func (s *FileStore) persistLocked(key string, log *RunLog) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode move log: %w", err)
	}

	path := s.logPath(key, log.RunID)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0640); err != nil {
		return fmt.Errorf("failed to write move log: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to finalize move log: %w", err)
	}
	return nil
}

// runIDsLocked lists the run IDs recorded for a directory key.
func (s *FileStore) runIDsLocked(key string) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list history directory: %w", err)
	}

	prefix := key + "_"
	var runIDs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, logFileExtension) {
			continue
		}
		runID := strings.TrimSuffix(strings.TrimPrefix(name, prefix), logFileExtension)
		if len(runID) != len(runIDLayout) {
			continue
		}
		runIDs = append(runIDs, runID)
	}
	return runIDs, nil
}

// newestRunIDLocked returns the newest persisted run ID for a key, or
// "" when the directory has no history yet.
func (s *FileStore) newestRunIDLocked(key string) (string, error) {
	runIDs, err := s.runIDsLocked(key)
	if err != nil {
		return "", err
	}
	var newest string
	for _, id := range runIDs {
		if id > newest {
			newest = id
		}
	}
	return newest, nil
}

// markEntriesReverted applies the revert flag in place. Shared with
// the badger backend.
func markEntriesReverted(log *RunLog, entryIDs []string) {
	if len(entryIDs) == 0 {
		for i := range log.Entries {
			if log.Entries[i].Status == StatusMoved {
				log.Entries[i].Reverted = true
			}
		}
		return
	}

	wanted := make(map[string]struct{}, len(entryIDs))
	for _, id := range entryIDs {
		wanted[id] = struct{}{}
	}
	for i := range log.Entries {
		if _, ok := wanted[log.Entries[i].ID]; ok {
			log.Entries[i].Reverted = true
		}
	}
}

// Compile-time interface compliance check.
var _ Store = (*FileStore)(nil)
