// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scan enumerates the files a run will consider.
//
// The scanner walks the target directory, applies the rule set's
// include/exclude filters, and returns a snapshot of candidate files.
// A run classifies the snapshot, not the live directory: files that
// appear after the scan belong to the next run.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/rules"
)

// QuarantineDirName is the staging directory the executor creates
// inside the target. Never scanned, never organized.
const QuarantineDirName = ".tidy_quarantine"

// Options controls one scan.
type Options struct {
	// Recursive descends into subdirectories. Default is top level
	// only, matching the safest behavior for an organizer that creates
	// its own subfolders.
	Recursive bool
}

// Run walks targetDir and returns the files the rule set admits.
//
// # Description
//
// Directories are never candidates. Hidden directories (dot-prefixed),
// the quarantine staging area and unreadable entries are skipped; a
// skip is not an error. Symlinks are skipped too: moving a link could
// silently break its referent, and the original tool never followed
// them.
//
// # Inputs
//
//   - ctx: Cancels the walk between entries.
//   - targetDir: Absolute path of the directory to organize.
//   - set: Rule set supplying the include/exclude filters.
//   - opts: Scan options.
//
// # Outputs
//
//   - []rules.FileRecord: Candidates in walk order.
//   - error: Non-nil if the target itself cannot be read or ctx is
//     canceled.
func Run(ctx context.Context, targetDir string, set *rules.Set, opts Options) ([]rules.FileRecord, error) {
	var files []rules.FileRecord

	err := filepath.WalkDir(targetDir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == targetDir {
				return fmt.Errorf("failed to read target directory %s: %w", targetDir, walkErr)
			}
			// Unreadable entry below the root: skip, keep walking.
			return nil
		}

		if d.IsDir() {
			if path == targetDir {
				return nil
			}
			if !opts.Recursive || skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if !set.PassesFilters(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Deleted between readdir and stat.
			return nil
		}

		files = append(files, rules.FileRecord{
			Path:    path,
			Name:    d.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// skipDir reports whether a subdirectory is off-limits to recursive
// scans.
func skipDir(name string) bool {
	return name == QuarantineDirName || strings.HasPrefix(name, ".")
}
