// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/rules"
	"github.com/AleutianAI/AleutianTidy/pkg/logging"
)

// ConfigError wraps any configuration failure with the file it came
// from, so a run aborted by config always names the offending file.
type ConfigError struct {
	// Path is the config file involved.
	Path string

	// Wrapped is the underlying parse or validation error.
	Wrapped error
}

// Error returns a formatted message.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Wrapped)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Wrapped
}

var _ error = (*ConfigError)(nil)

// validate is shared; validator instances cache struct metadata.
var validate = validator.New()

// DefaultPath returns ~/.tidy/tidy.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".tidy", "tidy.yaml"), nil
}

// Load reads, parses and validates a config file.
//
// # Description
//
// The format follows the file extension: .json parses as JSON,
// anything else as YAML. Unknown fields are rejected in both formats
// so a typo fails the run instead of silently applying defaults.
//
// # Inputs
//
//   - path: Config file path. Empty selects DefaultPath, creating it
//     with the default document on first run.
//
// # Outputs
//
//   - *Config: Validated configuration.
//   - error: *ConfigError wrapping the parse or validation failure.
func Load(path string) (*Config, error) {
	var err error
	if path == "" {
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			if err := WriteDefault(path); err != nil {
				return nil, err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Wrapped: err}
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&cfg)
	}
	if err != nil {
		return nil, &ConfigError{Path: path, Wrapped: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Path: path, Wrapped: err}
	}
	return &cfg, nil
}

// WriteDefault writes the default document to path, creating parents.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return &ConfigError{Path: path, Wrapped: err}
	}

	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return &ConfigError{Path: path, Wrapped: err}
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return &ConfigError{Path: path, Wrapped: err}
	}
	return nil
}

// Validate checks the document beyond what struct tags can express.
//
// # Description
//
// Runs the validator tags first, then the cross-field rules: each rule
// must carry exactly the payload its type requires, globs must be
// well-formed, dates must parse and order correctly, size ranges must
// not be inverted or empty.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	for _, glob := range append(append([]string{}, c.Include...), c.Exclude...) {
		if !rules.ValidGlob(glob) {
			return fmt.Errorf("malformed filter glob %q", glob)
		}
	}

	for i, rc := range c.Rules {
		if err := rc.validate(); err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, rc.Type, err)
		}
	}
	return nil
}

func (rc *RuleConfig) validate() error {
	switch rules.Kind(rc.Type) {
	case rules.KindExtension:
		if len(rc.Patterns)+len(rc.SizeRanges)+len(rc.DateRanges) > 0 {
			return fmt.Errorf("extension rules take no parameters")
		}

	case rules.KindPattern:
		if len(rc.Patterns) == 0 {
			return fmt.Errorf("pattern rule needs at least one pattern")
		}
		if len(rc.SizeRanges)+len(rc.DateRanges) > 0 {
			return fmt.Errorf("pattern rule carries non-pattern parameters")
		}
		for _, p := range rc.Patterns {
			if !rules.ValidGlob(p.Glob) {
				return fmt.Errorf("malformed glob %q", p.Glob)
			}
		}

	case rules.KindSize:
		if len(rc.SizeRanges) == 0 {
			return fmt.Errorf("size rule needs at least one range")
		}
		if len(rc.Patterns)+len(rc.DateRanges) > 0 {
			return fmt.Errorf("size rule carries non-size parameters")
		}
		for _, s := range rc.SizeRanges {
			if s.MaxBytes != nil && *s.MaxBytes <= s.MinBytes {
				return fmt.Errorf("empty size range [%d, %d)", s.MinBytes, *s.MaxBytes)
			}
		}

	case rules.KindDate:
		if len(rc.DateRanges) == 0 {
			return fmt.Errorf("date rule needs at least one range")
		}
		if len(rc.Patterns)+len(rc.SizeRanges) > 0 {
			return fmt.Errorf("date rule carries non-date parameters")
		}
		for _, d := range rc.DateRanges {
			if d.LastDays == 0 && d.Start == "" && d.End == "" {
				return fmt.Errorf("date range %q needs last_days or start/end", d.Folder)
			}
			start, err := parseDate(d.Start)
			if err != nil {
				return err
			}
			end, err := parseDate(d.End)
			if err != nil {
				return err
			}
			if start != nil && end != nil && end.Before(*start) {
				return fmt.Errorf("date range %q ends before it starts", d.Folder)
			}
		}
	}
	return nil
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, value, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want %s)", value, dateLayout)
	}
	return &t, nil
}

// WarnOverlaps logs a warning for every overlapping pair of size or
// date ranges. Overlaps are legal (first match wins) but usually
// indicate a config mistake.
func (c *Config) WarnOverlaps(logger *logging.Logger) {
	var sizes []SizeRangeConfig
	var dates []DateRangeConfig
	for _, rc := range c.Rules {
		sizes = append(sizes, rc.SizeRanges...)
		dates = append(dates, rc.DateRanges...)
	}

	for i := 0; i < len(sizes); i++ {
		for j := i + 1; j < len(sizes); j++ {
			if sizeRangesOverlap(sizes[i], sizes[j]) {
				logger.Warn("overlapping size ranges; the earlier one wins",
					"first", sizes[i].Folder,
					"second", sizes[j].Folder,
				)
			}
		}
	}

	now := time.Now()
	for i := 0; i < len(dates); i++ {
		for j := i + 1; j < len(dates); j++ {
			if dateRangesOverlap(dates[i], dates[j], now) {
				logger.Warn("overlapping date ranges; the earlier one wins",
					"first", dates[i].Folder,
					"second", dates[j].Folder,
				)
			}
		}
	}
}

func sizeRangesOverlap(a, b SizeRangeConfig) bool {
	aEndsBeforeB := a.MaxBytes != nil && *a.MaxBytes <= b.MinBytes
	bEndsBeforeA := b.MaxBytes != nil && *b.MaxBytes <= a.MinBytes
	return !aEndsBeforeB && !bEndsBeforeA
}

// dateRangesOverlap reports whether two date windows can match the
// same modification time. last_days windows resolve against now.
func dateRangesOverlap(a, b DateRangeConfig, now time.Time) bool {
	aStart, aEnd, ok := dateWindow(a, now)
	if !ok {
		return false
	}
	bStart, bEnd, ok := dateWindow(b, now)
	if !ok {
		return false
	}

	aEndsBeforeB := aEnd != nil && bStart != nil && !aEnd.After(*bStart)
	bEndsBeforeA := bEnd != nil && aStart != nil && !bEnd.After(*aStart)
	return !aEndsBeforeB && !bEndsBeforeA
}

// dateWindow resolves a range to half-open [start, end) bounds. A nil
// bound is open. ok is false when the dates do not parse, which
// Validate has already rejected for loaded configs.
func dateWindow(d DateRangeConfig, now time.Time) (start, end *time.Time, ok bool) {
	if d.LastDays > 0 {
		s := now.AddDate(0, 0, -d.LastDays)
		e := now
		return &s, &e, true
	}

	s, err := parseDate(d.Start)
	if err != nil {
		return nil, nil, false
	}
	e, err := parseDate(d.End)
	if err != nil {
		return nil, nil, false
	}
	if e != nil {
		// End dates match through their whole day.
		next := e.AddDate(0, 0, 1)
		e = &next
	}
	return s, e, true
}
