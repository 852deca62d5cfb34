// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// ProgressCounter renders an in-place "moved 3/10" line on stderr.
//
// # Description
//
// Long runs need feedback so the user does not assume a hang. The
// counter rewrites one line using carriage returns; on non-terminals
// (and in silent mode) it stays completely quiet, keeping piped
// output clean.
//
// # Thread Safety
//
// Safe for concurrent use; the engine calls Update from its record
// path.
type ProgressCounter struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	active  bool
}

// NewProgressCounter creates a counter wired to stderr. Disabled when
// silent or when stderr is not a terminal.
func NewProgressCounter(silent bool) *ProgressCounter {
	return &ProgressCounter{
		out:     os.Stderr,
		enabled: !silent && isatty.IsTerminal(os.Stderr.Fd()),
	}
}

// Update redraws the counter line.
func (p *ProgressCounter) Update(done, total int) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	fmt.Fprintf(p.out, "\r\033[K  moved %d/%d", done, total)
}

// Done clears the counter line so summaries print on a fresh line.
func (p *ProgressCounter) Done() {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		fmt.Fprintf(p.out, "\r\033[K")
		p.active = false
	}
}
