// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import "context"

// maxThreads caps the worker pool regardless of the requested count.
const maxThreads = 64

// Options controls one organizing run.
type Options struct {
	// DryRun plans and reports every move without touching the
	// filesystem or the move log.
	DryRun bool

	// Interactive asks the Approver before each move. Declined moves
	// are recorded as skipped.
	Interactive bool

	// Quarantine stages all moves through a hidden directory inside
	// the target before committing any of them. If staging fails for
	// any file, every staged file is rolled back and nothing is
	// committed. Without it, a crash mid-run leaves the directory
	// partially organized (the move log still covers completed moves).
	Quarantine bool

	// Recursive organizes files in subdirectories too.
	Recursive bool

	// Threads is the worker count for executing moves. Values below 1
	// mean 1; the pool never exceeds the number of planned moves.
	Threads int

	// Include and Exclude override the rule set's filters when
	// non-nil, letting flags take precedence over config.
	Include []string
	Exclude []string
}

// workers clamps Threads into the usable range for n planned moves.
func (o Options) workers(n int) int {
	w := o.Threads
	if w < 1 {
		w = 1
	}
	if w > maxThreads {
		w = maxThreads
	}
	if w > n {
		w = n
	}
	return w
}

// Approver is the interactive confirmation port.
//
// The engine never talks to a terminal itself; the CLI injects a
// stdin-backed implementation and tests inject fakes.
type Approver interface {
	// Confirm asks the user to approve one move. Returning false skips
	// the move; an error aborts the run.
	Confirm(ctx context.Context, prompt string) (bool, error)
}
