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
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
)

// maxCollisionSuffix bounds the _N rename search. Beyond this the
// destination folder is pathological and the move fails instead of
// spinning.
const maxCollisionSuffix = 10000

// Move is one planned file relocation.
type Move struct {
	// Source is the absolute current path.
	Source string

	// Destination is the absolute final path, collision suffix
	// included. Reserved at planning time: no two moves in a run share
	// a destination.
	Destination string

	// Folder is the rule folder name, for display.
	Folder string
}

// planner assigns collision-free destinations for one run.
//
// # Description
//
// Destinations are reserved under a mutex at planning time, before any
// worker touches the filesystem. A name is taken if it exists on disk
// or an earlier plan in this run claimed it; the planner then probes
// name_1, name_2, ... up to maxCollisionSuffix. Reserving up front is
// what lets execution run on many workers without rename races.
//
// # Thread Safety
//
// Safe for concurrent use, though the engine currently plans serially.
type planner struct {
	mu       sync.Mutex
	reserved map[string]struct{}
}

func newPlanner() *planner {
	return &planner{reserved: make(map[string]struct{})}
}

// plan reserves a destination for source inside destDir. Returns the
// final path, or ErrCollisionExhausted (wrapped) when no candidate
// name within the bound is free.
func (p *planner) plan(source, destDir string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	base := filepath.Base(source)
	stem, ext := splitSuffix(base)

	for i := 0; i <= maxCollisionSuffix; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		candidate := filepath.Join(destDir, name)

		if _, taken := p.reserved[candidate]; taken {
			continue
		}
		if _, err := os.Lstat(candidate); err == nil {
			continue
		}

		p.reserved[candidate] = struct{}{}
		return candidate, nil
	}

	return "", fmt.Errorf("%w: %s in %s", ErrCollisionExhausted, base, destDir)
}

// splitSuffix separates a base name into stem and extension for
// collision renaming, so "report.txt" collides into "report_1.txt".
// Dotfiles and extensionless names get the suffix appended whole.
func splitSuffix(base string) (string, string) {
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 {
		return base, ""
	}
	return base[:dot], base[dot:]
}

// -----------------------------------------------------------------------------
// Physical Moves
// -----------------------------------------------------------------------------

// moveFile relocates a file, creating the destination's parent.
//
// os.Rename is atomic on one filesystem. Across filesystems it fails
// with EXDEV, and moveFile falls back to copy-verify-remove: the
// source is deleted only after the copy is synced and its size checked,
// so a failed copy never loses data.
func moveFile(source, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0750); err != nil {
		return newMoveError(source, destination, err)
	}

	err := os.Rename(source, destination)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return newMoveError(source, destination, err)
	}

	if err := copyVerify(source, destination); err != nil {
		// Leave the source untouched; remove any partial copy.
		_ = os.Remove(destination)
		return newMoveError(source, destination, err)
	}
	if err := os.Remove(source); err != nil {
		return newMoveError(source, destination, err)
	}
	return nil
}

// isCrossDevice reports whether err is a cross-filesystem rename
// failure.
func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}

// copyVerify copies source to destination, fsyncs, and verifies the
// byte count before reporting success.
func copyVerify(source, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}

	written, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if written != info.Size() {
		return fmt.Errorf("short copy: wrote %d of %d bytes", written, info.Size())
	}
	return nil
}

// removeIfEmpty deletes dir when it holds nothing. Used to clean up
// rule folders after revert and quarantine directories after commit.
func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = os.Remove(dir)
}
