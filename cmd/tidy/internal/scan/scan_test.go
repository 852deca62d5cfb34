// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scan

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/rules"
)

// writeFiles creates empty files under dir, making parents as needed.
func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(path, []byte("x"), 0640); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
}

func scannedNames(files []rules.FileRecord) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	sort.Strings(names)
	return names
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestRun_TopLevelOnly verifies the default scan ignores
// subdirectories.
func TestRun_TopLevelOnly(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.txt", "b.pdf", "sub/c.txt")

	files, err := Run(context.Background(), dir, &rules.Set{}, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"a.txt", "b.pdf"}
	if got := scannedNames(files); !equalNames(got, want) {
		t.Errorf("scanned = %v, want %v", got, want)
	}
}

// TestRun_Recursive verifies descent and the hidden/quarantine skips.
func TestRun_Recursive(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir,
		"a.txt",
		"sub/c.txt",
		"sub/deeper/d.log",
		".git/e.txt",
		QuarantineDirName+"/20250101000000/f.txt",
	)

	files, err := Run(context.Background(), dir, &rules.Set{}, Options{Recursive: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"a.txt", "c.txt", "d.log"}
	if got := scannedNames(files); !equalNames(got, want) {
		t.Errorf("scanned = %v, want %v", got, want)
	}
}

// TestRun_Filters verifies include/exclude apply during the scan.
func TestRun_Filters(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "keep.txt", "skip.tmp", "other.pdf")

	set := &rules.Set{Include: []string{"*.txt", "*.pdf"}, Exclude: []string{"skip*"}}
	files, err := Run(context.Background(), dir, set, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"keep.txt", "other.pdf"}
	if got := scannedNames(files); !equalNames(got, want) {
		t.Errorf("scanned = %v, want %v", got, want)
	}
}

// TestRun_Metadata verifies size and mod time survive into the record.
func TestRun_Metadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, make([]byte, 2048), 0640); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	files, err := Run(context.Background(), dir, &rules.Set{}, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("len(files) = %d, want 1", len(files))
	}
	if files[0].Size != 2048 {
		t.Errorf("Size = %d, want 2048", files[0].Size)
	}
	if files[0].Path != path {
		t.Errorf("Path = %q, want %q", files[0].Path, path)
	}
	if files[0].ModTime.IsZero() {
		t.Error("ModTime is zero")
	}
}

// TestRun_MissingTarget verifies a missing directory is an error.
func TestRun_MissingTarget(t *testing.T) {
	_, err := Run(context.Background(), filepath.Join(t.TempDir(), "nope"), &rules.Set{}, Options{})
	if err == nil {
		t.Error("expected error for missing target directory")
	}
}

// TestRun_Canceled verifies context cancellation aborts the walk.
func TestRun_Canceled(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.txt")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Run(ctx, dir, &rules.Set{}, Options{}); err == nil {
		t.Error("expected error for canceled context")
	}
}
