// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"errors"
	"fmt"
)

// ErrCollisionExhausted is returned when no free destination name
// exists within the suffix bound. In practice this means ten thousand
// files with the same name already live in the destination folder.
var ErrCollisionExhausted = errors.New("no free destination name within suffix bound")

// MoveError wraps a single failed move with both endpoints.
//
// # Description
//
// Carries the source and destination so a failure among hundreds of
// concurrent moves is attributable without digging through logs.
// Supports unwrapping via errors.Is/As.
//
// # Thread Safety
//
// Immutable after creation, safe for concurrent reads.
type MoveError struct {
	// Source is the path the file was moving from.
	Source string

	// Destination is the path the file was moving to.
	Destination string

	// Wrapped is the underlying filesystem error.
	Wrapped error
}

// Error returns a formatted message with both endpoints.
func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s -> %s: %v", e.Source, e.Destination, e.Wrapped)
}

// Unwrap returns the underlying error.
func (e *MoveError) Unwrap() error {
	return e.Wrapped
}

// newMoveError wraps err with move context, avoiding double-wrapping.
func newMoveError(source, destination string, err error) *MoveError {
	var moveErr *MoveError
	if errors.As(err, &moveErr) {
		return moveErr
	}
	return &MoveError{Source: source, Destination: destination, Wrapped: err}
}

// RevertError wraps a failed restore during revert.
type RevertError struct {
	// Destination is where the file currently sits.
	Destination string

	// Source is the original location being restored.
	Source string

	// Wrapped is the underlying error.
	Wrapped error
}

// Error returns a formatted message.
func (e *RevertError) Error() string {
	return fmt.Sprintf("restore %s -> %s: %v", e.Destination, e.Source, e.Wrapped)
}

// Unwrap returns the underlying error.
func (e *RevertError) Unwrap() error {
	return e.Wrapped
}

// Compile-time interface satisfaction checks
var (
	_ error = (*MoveError)(nil)
	_ error = (*RevertError)(nil)
)
