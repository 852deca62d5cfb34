// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // Operation completed successfully
	CLIExitFindings = 1 // Operation completed but some files failed
	CLIExitError    = 2 // Operation failed
)

// Tidy palette - the Aleutian ocean teals.
var (
	colorTealBright = lipgloss.Color("#2CD7C7")
	colorTealDeep   = lipgloss.Color("#16858E")
	colorWarning    = lipgloss.Color("#F4D03F")
	colorError      = lipgloss.Color("#E74C3C")
	colorMuted      = lipgloss.Color("#2C4A54")
)

// styles are the pre-built lipgloss styles for console output.
var styles = struct {
	Title   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Arrow   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Success: lipgloss.NewStyle().Foreground(colorTealBright),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Arrow:   lipgloss.NewStyle().Foreground(colorTealDeep),
}

// console centralizes the silent-mode and TTY policy: silent mode
// suppresses everything except errors, and styling is dropped when
// stdout is not a terminal.
type console struct {
	silent bool
	tty    bool
}

func newConsole(silent bool) *console {
	return &console{
		silent: silent,
		tty:    isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
	}
}

// render applies a style only when talking to a terminal.
func (c *console) render(style lipgloss.Style, s string) string {
	if !c.tty {
		return s
	}
	return style.Render(s)
}

// Printf writes to stdout unless silent.
func (c *console) Printf(format string, args ...any) {
	if c.silent {
		return
	}
	fmt.Fprintf(os.Stdout, format, args...)
}

// Titlef writes a styled heading line.
func (c *console) Titlef(format string, args ...any) {
	c.Printf("%s\n", c.render(styles.Title, fmt.Sprintf(format, args...)))
}

// Movef writes one "name -> folder" line.
func (c *console) Movef(name, folder string) {
	c.Printf("  %s %s %s\n", name, c.render(styles.Arrow, "->"), c.render(styles.Success, folder))
}

// Warnf writes a styled warning line to stdout (still subject to
// silent mode; warnings are advisory).
func (c *console) Warnf(format string, args ...any) {
	c.Printf("%s %s\n", c.render(styles.Warning, "!"), fmt.Sprintf(format, args...))
}

// Errorf always writes to stderr, silent mode included: errors are
// the one thing silent mode must not eat.
func (c *console) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if c.tty {
		msg = styles.Error.Render(msg)
	}
	fmt.Fprintf(os.Stderr, "%s\n", msg)
}

// Mutedf writes a de-emphasized line.
func (c *console) Mutedf(format string, args ...any) {
	c.Printf("%s\n", c.render(styles.Muted, fmt.Sprintf(format, args...)))
}

// exitCode maps run counts to the CLI exit code.
func exitCode(failed int, err error) int {
	if err != nil {
		return CLIExitError
	}
	if failed > 0 {
		return CLIExitFindings
	}
	return CLIExitSuccess
}
