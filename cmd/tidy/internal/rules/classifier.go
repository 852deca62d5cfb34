// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import (
	"strings"
	"time"
)

// NoExtensionFolder is the destination for files whose name carries no
// recognizable extension.
const NoExtensionFolder = "no_extension"

// compoundSuffixes are multi-part extensions recognized as a unit, so
// "backup.tar.gz" lands in "tar.gz" rather than "gz". Checked longest
// first.
var compoundSuffixes = []string{
	"pkg.tar.xz",
	"pkg.tar.zst",
	"tar.bz2",
	"tar.gz",
	"tar.lz4",
	"tar.xz",
	"tar.zst",
}

// Classify determines the single destination folder for a file.
//
// # Description
//
// Rule kinds are evaluated in fixed precedence: Pattern, then Size,
// then Date, with Extension as the guaranteed fallback. Within a kind,
// entries are pooled across all rules of that kind in declaration order
// and the first matching entry wins (first-match, not best-match).
// Because the extension kind always matches, Classify is total: it
// returns exactly one folder name for every input.
//
// # Inputs
//
//   - file: Metadata of the file to classify.
//   - set: The immutable rule set for the run.
//   - now: Evaluation clock for relative date windows. Passing it in
//     keeps classification deterministic under test.
//
// # Outputs
//
//   - string: Relative destination folder name, never empty.
//
// # Thread Safety
//
// Safe to call concurrently: Set is read-only and no state is shared.
func Classify(file FileRecord, set *Set, now time.Time) string {
	if folder, ok := matchPatterns(file, set); ok {
		return folder
	}
	if folder, ok := matchSizes(file, set); ok {
		return folder
	}
	if folder, ok := matchDates(file, set, now); ok {
		return folder
	}
	return ExtensionFolder(file.Name)
}

// matchPatterns pools all pattern entries in declaration order and
// returns the first match.
func matchPatterns(file FileRecord, set *Set) (string, bool) {
	for _, rule := range set.Rules {
		if rule.Kind != KindPattern {
			continue
		}
		for _, entry := range rule.Patterns {
			if set.matchGlob(entry.Glob, file.Name) {
				return entry.Folder, true
			}
		}
	}
	return "", false
}

// matchSizes pools all size ranges in declaration order and returns the
// first range containing the file's size. Overlapping ranges are legal
// and resolved by first match.
func matchSizes(file FileRecord, set *Set) (string, bool) {
	for _, rule := range set.Rules {
		if rule.Kind != KindSize {
			continue
		}
		for _, entry := range rule.Sizes {
			if entry.Contains(file.Size) {
				return entry.Folder, true
			}
		}
	}
	return "", false
}

// matchDates pools all date ranges in declaration order and returns the
// first range containing the file's modification time.
func matchDates(file FileRecord, set *Set, now time.Time) (string, bool) {
	for _, rule := range set.Rules {
		if rule.Kind != KindDate {
			continue
		}
		for _, entry := range rule.Dates {
			if entry.Contains(file.ModTime, now) {
				return entry.Folder, true
			}
		}
	}
	return "", false
}

// ExtensionFolder returns the extension-based destination folder for a
// base name: the extension lower-cased without its leading dot, with
// compound suffixes like "tar.gz" kept whole. Names without an
// extension (including dotfiles such as ".bashrc" and names with a
// trailing dot) map to NoExtensionFolder.
func ExtensionFolder(name string) string {
	lower := strings.ToLower(name)
	for _, suffix := range compoundSuffixes {
		if strings.HasSuffix(lower, "."+suffix) && len(lower) > len(suffix)+1 {
			return suffix
		}
	}

	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 || dot == len(name)-1 {
		// No dot, leading dot only, or trailing dot.
		return NoExtensionFolder
	}
	return strings.ToLower(name[dot+1:])
}
