// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rules defines the classification rule model for Tidy.
//
// A rule set is an ordered collection of rules of four closed kinds
// (pattern, size, date, extension) plus global include/exclude filters.
// Rule kinds are a tagged variant rather than an open interface: the
// classifier dispatches over the fixed kind set in a defined precedence
// order, and there is no extension point for new kinds without a code
// change. This keeps evaluation total and deterministic.
//
// A Set is immutable once constructed for a run; no locking is needed
// when sharing it across workers.
package rules

import "time"

// =============================================================================
// Rule Kinds
// =============================================================================

// Kind identifies one of the closed set of rule kinds.
type Kind string

const (
	// KindExtension maps a file's extension to a folder named after the
	// extension (lower-cased, without the leading dot). Files without an
	// extension map to NoExtensionFolder. Takes no parameters and always
	// matches, which makes it the guaranteed classification fallback.
	KindExtension Kind = "extension"

	// KindPattern matches globs against the file's base name.
	KindPattern Kind = "pattern"

	// KindSize matches the file's size against byte ranges.
	KindSize Kind = "size"

	// KindDate matches the file's modification time against date ranges.
	KindDate Kind = "date"
)

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindExtension, KindPattern, KindSize, KindDate:
		return true
	default:
		return false
	}
}

// =============================================================================
// Rule Entries
// =============================================================================

// PatternEntry maps one glob to a destination folder. Globs use
// path.Match semantics: '*' matches any run of non-separator characters,
// '?' matches one character, and everything else matches literally.
type PatternEntry struct {
	// Glob is matched against the file's base name, not its full path.
	Glob string

	// Folder is the destination folder for matching files.
	Folder string
}

// SizeRange maps a byte range to a destination folder. The lower bound
// is inclusive, the upper bound exclusive. A nil MaxBytes means the
// range is unbounded above.
type SizeRange struct {
	MinBytes int64
	MaxBytes *int64
	Folder   string
}

// Contains reports whether size falls inside the range.
func (r SizeRange) Contains(size int64) bool {
	if size < r.MinBytes {
		return false
	}
	if r.MaxBytes != nil && size >= *r.MaxBytes {
		return false
	}
	return true
}

// DateRange maps a modification-time window to a destination folder.
//
// Start and End are calendar dates (midnight, local time). Start is
// inclusive; End is inclusive of the entire end calendar day. A nil
// Start is unbounded below; a nil End is open through "now". LastDays,
// when positive, overrides Start/End with the window [now - LastDays
// days, now], resolved against the clock at evaluation time.
type DateRange struct {
	Start    *time.Time
	End      *time.Time
	LastDays int
	Folder   string
}

// Contains reports whether mod falls inside the range, resolving any
// relative window against now.
func (r DateRange) Contains(mod, now time.Time) bool {
	if r.LastDays > 0 {
		start := now.AddDate(0, 0, -r.LastDays)
		return !mod.Before(start) && !mod.After(now)
	}
	if r.Start != nil && mod.Before(*r.Start) {
		return false
	}
	if r.End == nil {
		// Open-ended ranges run through "now".
		return !mod.After(now)
	}
	// End is inclusive of the whole calendar day.
	endOfDay := r.End.AddDate(0, 0, 1)
	return mod.Before(endOfDay)
}

// =============================================================================
// Rule and Set
// =============================================================================

// Rule is a tagged variant: Kind selects which entry list applies.
// Exactly one of Patterns, Sizes, Dates is populated for pattern, size
// and date rules; extension rules carry no parameters.
type Rule struct {
	Kind     Kind
	Patterns []PatternEntry
	Sizes    []SizeRange
	Dates    []DateRange
}

// Set is an ordered sequence of rules plus the global include/exclude
// filters. Order within a kind is declaration order: when the same kind
// appears in multiple rules, all its entries are pooled in declaration
// order before matching, and the first matching entry wins.
type Set struct {
	Rules []Rule

	// Include restricts processing to files whose base name matches at
	// least one glob. Empty means include everything.
	Include []string

	// Exclude skips files whose base name matches any glob. Exclude
	// always wins over Include.
	Exclude []string

	// CaseInsensitive folds both globs and file names before matching.
	// Default is case-sensitive, matching most Unix filesystems.
	CaseInsensitive bool
}

// FileRecord carries the metadata the classifier needs for one file.
// It is ephemeral and never persisted.
type FileRecord struct {
	// Path is the absolute source path.
	Path string

	// Name is the base name used for pattern and filter matching.
	Name string

	// Size is the file size in bytes.
	Size int64

	// ModTime is the file's modification timestamp.
	ModTime time.Time
}
