// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import (
	"path"
	"strings"
)

// PassesFilters reports whether a file with the given base name should
// be processed at all.
//
// # Description
//
// A name passes when (Include is empty OR the name matches at least one
// include glob) AND the name matches no exclude glob. Exclude always
// wins when both match.
//
// # Inputs
//
//   - name: The file's base name (not a path).
//
// # Outputs
//
//   - bool: true if the file should be classified and moved.
//
// # Limitations
//
//   - Malformed globs never match; the config validator rejects them
//     before a run starts, so this is only reachable with a Set built
//     outside the loader.
func (s *Set) PassesFilters(name string) bool {
	if len(s.Include) > 0 {
		included := false
		for _, glob := range s.Include {
			if s.matchGlob(glob, name) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	for _, glob := range s.Exclude {
		if s.matchGlob(glob, name) {
			return false
		}
	}
	return true
}

// matchGlob matches one glob against a base name, honoring the set's
// case-sensitivity policy. path.Match gives the required semantics:
// '*' never crosses a path separator and '?' matches one character.
func (s *Set) matchGlob(glob, name string) bool {
	if s.CaseInsensitive {
		glob = strings.ToLower(glob)
		name = strings.ToLower(name)
	}
	ok, err := path.Match(glob, name)
	return err == nil && ok
}

// ValidGlob reports whether pattern is well-formed. Used by the config
// validator so malformed patterns fail the run before any mutation.
func ValidGlob(pattern string) bool {
	_, err := path.Match(pattern, "probe")
	return err == nil
}
