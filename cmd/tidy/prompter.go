// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// InteractivePrompter asks move-by-move confirmation on the terminal.
//
// # Description
//
// Accepts y/n plus two batch answers: "a" approves the current move
// and every one after it, "q" declines the current move and every one
// after it. Unrecognized input (including plain Enter) declines the
// single move, so the safe answer is always the default.
//
// # Thread Safety
//
// Not safe for concurrent use; the engine confirms serially.
type InteractivePrompter struct {
	in  *bufio.Reader
	out io.Writer

	approveRest bool
	declineRest bool
}

// NewInteractivePrompter creates a prompter over the given streams.
func NewInteractivePrompter(in io.Reader, out io.Writer) *InteractivePrompter {
	return &InteractivePrompter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Confirm asks one question and interprets the answer.
func (p *InteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if p.approveRest {
		return true, nil
	}
	if p.declineRest {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(p.out, "%s [y/n/a(ll)/q(uit)] ", prompt)

	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		// EOF on stdin: stop asking, decline the rest.
		if err == io.EOF {
			p.declineRest = true
			return false, nil
		}
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	case "a", "all":
		p.approveRest = true
		return true, nil
	case "q", "quit":
		p.declineRest = true
		return false, nil
	default:
		return false, nil
	}
}
