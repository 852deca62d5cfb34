// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/rules"
	"github.com/AleutianAI/AleutianTidy/pkg/logging"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	return path
}

const validYAML = `
rules:
  - type: pattern
    patterns:
      - glob: "report*"
        folder: reports
  - type: size
    size_ranges:
      - min_bytes: 0
        max_bytes: 1048576
        folder: small
      - min_bytes: 1048576
        folder: large
  - type: date
    date_ranges:
      - start: "2020-01-01"
        end: "2020-12-31"
        folder: "2020"
      - last_days: 7
        folder: recent
  - type: extension
exclude:
  - ".*"
case_insensitive: true
history:
  backend: badger
defaults:
  threads: 8
  quarantine: true
`

// TestLoad_YAML round-trips the full schema.
func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "tidy.yaml", validYAML))
	require.NoError(t, err)

	assert.Len(t, cfg.Rules, 4)
	assert.True(t, cfg.CaseInsensitive)
	assert.Equal(t, "badger", cfg.History.Backend)
	assert.Equal(t, 8, cfg.Defaults.Threads)
	assert.True(t, cfg.Defaults.Quarantine)

	set, err := cfg.Compile()
	require.NoError(t, err)
	assert.Len(t, set.Rules, 4)
	assert.Equal(t, rules.KindPattern, set.Rules[0].Kind)
	assert.True(t, set.CaseInsensitive)

	// End dates survive compilation.
	require.NotNil(t, set.Rules[2].Dates[0].End)
	assert.Equal(t, 7, set.Rules[2].Dates[1].LastDays)
}

// TestLoad_JSON verifies the same schema loads from JSON.
func TestLoad_JSON(t *testing.T) {
	cfg, err := Load(writeConfig(t, "tidy.json", `{
		"rules": [
			{"type": "extension"},
			{"type": "pattern", "patterns": [{"glob": "*.iso", "folder": "images"}]}
		],
		"exclude": [".*"]
	}`))
	require.NoError(t, err)
	assert.Len(t, cfg.Rules, 2)
	assert.Equal(t, "images", cfg.Rules[1].Patterns[0].Folder)
}

// TestLoad_UnknownField verifies typos fail instead of being ignored.
func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(writeConfig(t, "tidy.yaml", `
rules:
  - type: extension
recrusive: true
`))
	require.Error(t, err)

	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

// TestLoad_Invalid covers the semantic validation failures.
func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no rules", `include: ["*"]`},
		{"bad type", "rules:\n  - type: regex"},
		{"pattern without patterns", "rules:\n  - type: pattern"},
		{"extension with params", `
rules:
  - type: extension
    patterns:
      - glob: "*"
        folder: all
`},
		{"malformed glob", `
rules:
  - type: pattern
    patterns:
      - glob: "[oops"
        folder: x
`},
		{"inverted size range", `
rules:
  - type: size
    size_ranges:
      - min_bytes: 100
        max_bytes: 50
        folder: x
`},
		{"empty date range", `
rules:
  - type: date
    date_ranges:
      - folder: x
`},
		{"backwards date range", `
rules:
  - type: date
    date_ranges:
      - start: "2021-01-01"
        end: "2020-01-01"
        folder: x
`},
		{"bad date format", `
rules:
  - type: date
    date_ranges:
      - start: "01/02/2020"
        folder: x
`},
		{"malformed exclude", `
rules:
  - type: extension
exclude: ["[bad"]
`},
		{"bad history backend", `
rules:
  - type: extension
history:
  backend: sqlite
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "tidy.yaml", tt.body))
			assert.Error(t, err)
		})
	}
}

// TestWriteDefault verifies first-run creation produces a loadable
// config.
func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "tidy.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, string(rules.KindExtension), cfg.Rules[0].Type)
	assert.Contains(t, cfg.Exclude, ".*")

	set, err := cfg.Compile()
	require.NoError(t, err)
	assert.False(t, set.PassesFilters(".bashrc"))
}

// TestSizeRangesOverlap covers the overlap warning predicate.
func TestSizeRangesOverlap(t *testing.T) {
	max := func(v int64) *int64 { return &v }

	tests := []struct {
		name string
		a, b SizeRangeConfig
		want bool
	}{
		{"disjoint", SizeRangeConfig{MinBytes: 0, MaxBytes: max(10)}, SizeRangeConfig{MinBytes: 10, MaxBytes: max(20)}, false},
		{"nested", SizeRangeConfig{MinBytes: 0, MaxBytes: max(100)}, SizeRangeConfig{MinBytes: 10, MaxBytes: max(20)}, true},
		{"both unbounded", SizeRangeConfig{MinBytes: 0}, SizeRangeConfig{MinBytes: 50}, true},
		{"unbounded after bounded", SizeRangeConfig{MinBytes: 0, MaxBytes: max(10)}, SizeRangeConfig{MinBytes: 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sizeRangesOverlap(tt.a, tt.b))
			assert.Equal(t, tt.want, sizeRangesOverlap(tt.b, tt.a))
		})
	}
}

// TestDateRangesOverlap covers the date overlap predicate, including
// open bounds and last_days windows.
func TestDateRangesOverlap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)

	tests := []struct {
		name string
		a, b DateRangeConfig
		want bool
	}{
		{"disjoint years", DateRangeConfig{Start: "2023-01-01", End: "2023-12-31"}, DateRangeConfig{Start: "2024-01-01", End: "2024-12-31"}, false},
		{"overlapping windows", DateRangeConfig{Start: "2024-01-01", End: "2024-12-31"}, DateRangeConfig{Start: "2024-06-01", End: "2025-06-01"}, true},
		{"shared end day", DateRangeConfig{Start: "2024-01-01", End: "2024-06-01"}, DateRangeConfig{Start: "2024-06-01", End: "2024-12-31"}, true},
		{"open end reaches later window", DateRangeConfig{Start: "2024-01-01"}, DateRangeConfig{Start: "2025-01-01", End: "2025-12-31"}, true},
		{"open start ends in time", DateRangeConfig{End: "2023-12-31"}, DateRangeConfig{Start: "2024-01-01"}, false},
		{"two last_days windows", DateRangeConfig{LastDays: 7}, DateRangeConfig{LastDays: 30}, true},
		{"last_days vs old window", DateRangeConfig{LastDays: 7}, DateRangeConfig{Start: "2020-01-01", End: "2020-12-31"}, false},
		{"last_days vs open end", DateRangeConfig{LastDays: 7}, DateRangeConfig{Start: "2025-01-01"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dateRangesOverlap(tt.a, tt.b, now))
			assert.Equal(t, tt.want, dateRangesOverlap(tt.b, tt.a, now))
		})
	}
}

// TestWarnOverlaps_DateRanges verifies overlapping date windows reach
// the logger like overlapping size ranges do.
func TestWarnOverlaps_DateRanges(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "tidy.log")
	logger, err := logging.New(logging.Config{LogFile: logPath, Quiet: true})
	require.NoError(t, err)

	cfg := &Config{Rules: []RuleConfig{{
		Type: string(rules.KindDate),
		DateRanges: []DateRangeConfig{
			{Start: "2024-01-01", End: "2024-12-31", Folder: "2024"},
			{Start: "2024-06-01", End: "2025-06-01", Folder: "mid"},
		},
	}}}
	cfg.WarnOverlaps(logger)
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "overlapping date ranges")
}
