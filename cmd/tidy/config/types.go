// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines and loads the rule-set configuration for
// tidy.
//
// Configs are YAML by default; a .json file loads identically because
// the schema carries both tag sets. Struct-level constraints are
// enforced with validator tags; cross-field rules (a pattern rule must
// carry patterns, date ranges need parseable dates) live in Validate.
package config

import (
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/rules"
)

// dateLayout is the calendar-date format accepted in date ranges.
const dateLayout = "2006-01-02"

// Config is the root configuration document.
type Config struct {
	// Rules are evaluated by kind precedence (pattern, size, date,
	// extension), first match wins within a kind.
	Rules []RuleConfig `yaml:"rules" json:"rules" validate:"required,min=1,dive"`

	// Include restricts processing to matching base names. Empty
	// means everything.
	Include []string `yaml:"include,omitempty" json:"include,omitempty"`

	// Exclude skips matching base names and wins over Include.
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`

	// CaseInsensitive folds globs and names before matching.
	CaseInsensitive bool `yaml:"case_insensitive,omitempty" json:"case_insensitive,omitempty"`

	// LogFile receives the structured JSON run log. Empty disables
	// file logging.
	LogFile string `yaml:"log_file,omitempty" json:"log_file,omitempty"`

	// History selects and locates the move-log backend.
	History HistoryConfig `yaml:"history,omitempty" json:"history,omitempty"`

	// Defaults seed the run options that flags can override.
	Defaults DefaultsConfig `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

// HistoryConfig selects the move-log backend.
type HistoryConfig struct {
	// Backend is "file" or "badger". Empty means file.
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" validate:"omitempty,oneof=file badger"`

	// Path overrides the backend's default location.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// DefaultsConfig seeds run options.
type DefaultsConfig struct {
	Recursive  bool `yaml:"recursive,omitempty" json:"recursive,omitempty"`
	Quarantine bool `yaml:"quarantine,omitempty" json:"quarantine,omitempty"`
	Threads    int  `yaml:"threads,omitempty" json:"threads,omitempty" validate:"omitempty,min=1,max=64"`
}

// RuleConfig is one rule in the document.
type RuleConfig struct {
	// Type is one of extension, pattern, size, date.
	Type string `yaml:"type" json:"type" validate:"required,oneof=extension pattern size date"`

	// Patterns applies to pattern rules.
	Patterns []PatternConfig `yaml:"patterns,omitempty" json:"patterns,omitempty" validate:"omitempty,dive"`

	// SizeRanges applies to size rules.
	SizeRanges []SizeRangeConfig `yaml:"size_ranges,omitempty" json:"size_ranges,omitempty" validate:"omitempty,dive"`

	// DateRanges applies to date rules.
	DateRanges []DateRangeConfig `yaml:"date_ranges,omitempty" json:"date_ranges,omitempty" validate:"omitempty,dive"`
}

// PatternConfig maps one glob to a folder.
type PatternConfig struct {
	Glob   string `yaml:"glob" json:"glob" validate:"required"`
	Folder string `yaml:"folder" json:"folder" validate:"required"`
}

// SizeRangeConfig maps a byte range to a folder. MaxBytes omitted
// means unbounded above; the lower bound is inclusive, the upper
// exclusive.
type SizeRangeConfig struct {
	MinBytes int64  `yaml:"min_bytes" json:"min_bytes" validate:"min=0"`
	MaxBytes *int64 `yaml:"max_bytes,omitempty" json:"max_bytes,omitempty"`
	Folder   string `yaml:"folder" json:"folder" validate:"required"`
}

// DateRangeConfig maps a modification-time window to a folder. Either
// a start/end calendar window ("2006-01-02") or a relative last_days
// window; last_days wins when both are set.
type DateRangeConfig struct {
	Start    string `yaml:"start,omitempty" json:"start,omitempty"`
	End      string `yaml:"end,omitempty" json:"end,omitempty"`
	LastDays int    `yaml:"last_days,omitempty" json:"last_days,omitempty" validate:"min=0"`
	Folder   string `yaml:"folder" json:"folder" validate:"required"`
}

// DefaultConfig returns the document written on first run: extension
// sorting with dotfiles excluded.
func DefaultConfig() Config {
	return Config{
		Rules:   []RuleConfig{{Type: string(rules.KindExtension)}},
		Exclude: []string{".*"},
		History: HistoryConfig{Backend: "file"},
		Defaults: DefaultsConfig{
			Threads: 4,
		},
	}
}

// Compile converts the document into the engine's rule set.
//
// # Description
//
// Assumes Validate passed. Date strings parse at local midnight; the
// rules package handles end-of-day inclusivity.
//
// # Outputs
//
//   - *rules.Set: Immutable rule set for a run.
//   - error: Non-nil only for date parse failures, which Validate
//     already rejects.
func (c *Config) Compile() (*rules.Set, error) {
	set := &rules.Set{
		Include:         c.Include,
		Exclude:         c.Exclude,
		CaseInsensitive: c.CaseInsensitive,
	}

	for _, rc := range c.Rules {
		rule := rules.Rule{Kind: rules.Kind(rc.Type)}

		for _, p := range rc.Patterns {
			rule.Patterns = append(rule.Patterns, rules.PatternEntry{Glob: p.Glob, Folder: p.Folder})
		}
		for _, s := range rc.SizeRanges {
			rule.Sizes = append(rule.Sizes, rules.SizeRange{
				MinBytes: s.MinBytes,
				MaxBytes: s.MaxBytes,
				Folder:   s.Folder,
			})
		}
		for _, d := range rc.DateRanges {
			dr := rules.DateRange{LastDays: d.LastDays, Folder: d.Folder}
			if d.Start != "" {
				start, err := time.ParseInLocation(dateLayout, d.Start, time.Local)
				if err != nil {
					return nil, fmt.Errorf("invalid start date %q: %w", d.Start, err)
				}
				dr.Start = &start
			}
			if d.End != "" {
				end, err := time.ParseInLocation(dateLayout, d.End, time.Local)
				if err != nil {
					return nil, fmt.Errorf("invalid end date %q: %w", d.End, err)
				}
				dr.End = &end
			}
			rule.Dates = append(rule.Dates, dr)
		}

		set.Rules = append(set.Rules, rule)
	}

	return set, nil
}
