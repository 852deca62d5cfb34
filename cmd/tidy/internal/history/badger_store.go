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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	run/<dirKey>/<runID>              -> runHeader JSON
//	entry/<dirKey>/<runID>/<seq:08d>  -> Entry JSON
//
// Fixed-width sequence numbers keep entries in append order under
// Badger's lexicographic iteration.

// runHeader is the persisted run record minus its entries, which live
// under their own keys so appends never rewrite the run.
type runHeader struct {
	RunID      string    `json:"run_id"`
	TargetDir  string    `json:"target_dir"`
	Quarantine bool      `json:"quarantine,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// BadgerStore persists move logs in an embedded BadgerDB.
//
// # Description
//
// Backend for heavy use: appends write one small key instead of
// rewriting a JSON document, and SyncWrites guarantees each entry is
// durable before the move pipeline continues. Selected with
// --history-backend badger.
//
// # Thread Safety
//
// BadgerDB transactions are safe for concurrent use; the mutex only
// guards the per-run sequence counters.
type BadgerStore struct {
	db *badger.DB

	// mu protects seq.
	mu sync.Mutex

	// seq tracks the next entry sequence number per open run, keyed by
	// dirKey/runID.
	seq map[string]int

	alloc *runIDAllocator
}

// NewBadgerStore opens (or creates) a Badger-backed move-log store.
//
// # Inputs
//
//   - path: Database directory. Empty selects the default
//     (~/.tidy/history.db). Created if missing.
//
// # Outputs
//
//   - *BadgerStore: Ready-to-use store. Caller must Close it.
//   - error: Non-nil if the database cannot be opened.
func NewBadgerStore(path string) (*BadgerStore, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".tidy", "history.db")
	}

	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("failed to create history database directory %s: %w", path, err)
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return newBadgerStore(db), nil
}

// NewInMemoryBadgerStore opens a non-persistent store for tests.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory history database: %w", err)
	}
	return newBadgerStore(db), nil
}

func newBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{
		db:    db,
		seq:   make(map[string]int),
		alloc: newRunIDAllocator(),
	}
}

// Begin allocates a run ID and writes the run header.
func (s *BadgerStore) Begin(ctx context.Context, targetDir string, quarantine bool) (string, error) {
	key := dirKey(targetDir)
	floor, err := s.newestRunID(key)
	if err != nil {
		return "", err
	}

	runID, startedAt := s.alloc.next(key, floor, time.Now())
	header := runHeader{
		RunID:      runID,
		TargetDir:  targetDir,
		Quarantine: quarantine,
		StartedAt:  startedAt,
	}
	data, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("failed to encode run header: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(key, runID), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to write run header: %w", err)
	}

	s.mu.Lock()
	s.seq[key+"/"+runID] = 0
	s.mu.Unlock()
	return runID, nil
}

// Append durably records one entry under its own key.
func (s *BadgerStore) Append(ctx context.Context, targetDir, runID string, entry Entry) error {
	key := dirKey(targetDir)
	if err := s.ensureRun(key, runID); err != nil {
		return err
	}

	seq, err := s.nextSeq(key, runID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode move entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(key, runID, seq), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write move entry: %w", err)
	}
	return nil
}

// Finalize stamps the run's finish time.
func (s *BadgerStore) Finalize(ctx context.Context, targetDir, runID string) error {
	key := dirKey(targetDir)
	header, err := s.loadHeader(key, runID)
	if err != nil {
		return err
	}

	header.FinishedAt = time.Now()
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode run header: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(key, runID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}

	s.mu.Lock()
	delete(s.seq, key+"/"+runID)
	s.mu.Unlock()
	return nil
}

// ListRuns returns run summaries for targetDir, newest first.
func (s *BadgerStore) ListRuns(ctx context.Context, targetDir string) ([]RunRef, error) {
	key := dirKey(targetDir)

	var headers []runHeader
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("run/" + key + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var header runHeader
			err := it.Item().Value(func(val []byte) error {
				if err := json.Unmarshal(val, &header); err != nil {
					return fmt.Errorf("%w: run %s: %v", ErrLogCorrupt, it.Item().Key(), err)
				}
				return nil
			})
			if err != nil {
				return err
			}
			headers = append(headers, header)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(headers, func(i, j int) bool {
		return headers[i].RunID > headers[j].RunID
	})

	refs := make([]RunRef, 0, len(headers))
	for _, header := range headers {
		entries, err := s.loadEntries(key, header.RunID)
		if err != nil {
			return nil, err
		}
		log := RunLog{Entries: entries}
		refs = append(refs, RunRef{
			RunID:      header.RunID,
			TargetDir:  header.TargetDir,
			StartedAt:  header.StartedAt,
			FinishedAt: header.FinishedAt,
			EntryCount: len(entries),
			MovedCount: log.MovedCount(),
		})
	}
	return refs, nil
}

// Load returns the full log for one run.
func (s *BadgerStore) Load(ctx context.Context, targetDir, runID string) (*RunLog, error) {
	key := dirKey(targetDir)
	header, err := s.loadHeader(key, runID)
	if err != nil {
		return nil, err
	}
	entries, err := s.loadEntries(key, runID)
	if err != nil {
		return nil, err
	}

	return &RunLog{
		RunID:      header.RunID,
		TargetDir:  header.TargetDir,
		Quarantine: header.Quarantine,
		StartedAt:  header.StartedAt,
		FinishedAt: header.FinishedAt,
		Entries:    entries,
	}, nil
}

// MarkReverted flags entries as reverted, rewriting each changed key.
func (s *BadgerStore) MarkReverted(ctx context.Context, targetDir, runID string, entryIDs []string) error {
	key := dirKey(targetDir)
	if _, err := s.loadHeader(key, runID); err != nil {
		return err
	}
	entries, err := s.loadEntries(key, runID)
	if err != nil {
		return err
	}

	before := make([]bool, len(entries))
	for i := range entries {
		before[i] = entries[i].Reverted
	}
	log := RunLog{Entries: entries}
	markEntriesReverted(&log, entryIDs)

	return s.db.Update(func(txn *badger.Txn) error {
		for i := range log.Entries {
			if log.Entries[i].Reverted == before[i] {
				continue
			}
			data, err := json.Marshal(log.Entries[i])
			if err != nil {
				return fmt.Errorf("failed to encode move entry: %w", err)
			}
			if err := txn.Set(entryKey(key, runID, i), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes the run header and all its entries.
func (s *BadgerStore) Delete(ctx context.Context, targetDir, runID string) error {
	key := dirKey(targetDir)
	if _, err := s.loadHeader(key, runID); err != nil {
		return err
	}

	// Collect first, then delete: Badger forbids writes while an
	// iterator is open in the same transaction with prefetch.
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("entry/" + key + "/" + runID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	keys = append(keys, runKey(key, runID))

	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func runKey(dirKey, runID string) []byte {
	return []byte("run/" + dirKey + "/" + runID)
}

func entryKey(dirKey, runID string, seq int) []byte {
	return []byte(fmt.Sprintf("entry/%s/%s/%08d", dirKey, runID, seq))
}

func (s *BadgerStore) loadHeader(key, runID string) (*runHeader, error) {
	var header runHeader
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(key, runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &header); err != nil {
				return fmt.Errorf("%w: run %s: %v", ErrLogCorrupt, runID, err)
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return &header, nil
}

func (s *BadgerStore) loadEntries(key, runID string) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("entry/" + key + "/" + runID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				if err := json.Unmarshal(val, &entry); err != nil {
					return fmt.Errorf("%w: entry %s: %v", ErrLogCorrupt, it.Item().Key(), err)
				}
				return nil
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ensureRun verifies the run header exists before an append.
func (s *BadgerStore) ensureRun(key, runID string) error {
	s.mu.Lock()
	_, open := s.seq[key+"/"+runID]
	s.mu.Unlock()
	if open {
		return nil
	}
	_, err := s.loadHeader(key, runID)
	return err
}

// nextSeq reserves the next entry sequence number for a run. Runs not
// seen since process start (crash recovery appends) derive the counter
// from the highest stored key.
func (s *BadgerStore) nextSeq(key, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapKey := key + "/" + runID
	if _, ok := s.seq[mapKey]; !ok {
		entries, err := s.loadEntries(key, runID)
		if err != nil {
			return 0, err
		}
		s.seq[mapKey] = len(entries)
	}

	seq := s.seq[mapKey]
	s.seq[mapKey] = seq + 1
	return seq, nil
}

// newestRunID returns the newest persisted run ID for a directory key.
func (s *BadgerStore) newestRunID(key string) (string, error) {
	var newest string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("run/" + key + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			parts := strings.Split(string(it.Item().Key()), "/")
			runID := parts[len(parts)-1]
			if runID > newest {
				newest = runID
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return newest, nil
}

// Compile-time interface compliance check.
var _ Store = (*BadgerStore)(nil)
