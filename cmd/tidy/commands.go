// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/config"
	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/engine"
	"github.com/AleutianAI/AleutianTidy/cmd/tidy/internal/history"
	"github.com/AleutianAI/AleutianTidy/pkg/logging"
)

// --- Global Command Variables ---
var (
	configPath     string
	logFile        string
	silent         bool
	verbose        bool
	dryRun         bool
	interactive    bool
	quarantine     bool
	recursive      bool
	threads        int
	includeGlobs   []string
	excludeGlobs   []string
	historyBackend string
	historyPath    string
	revertRunID    string
	watchDebounce  string
	watchInterval  string

	rootCmd = &cobra.Command{
		Use:   "tidy",
		Short: "A cli to organize directories by configurable rules",
		Long: `Tidy sorts the files in a directory into subfolders using
pattern, size, date and extension rules. Every run is logged and
reversible.`,
	}

	cleanCmd = &cobra.Command{
		Use:   "clean [directory]",
		Short: "Organize a directory according to the configured rules",
		Args:  cobra.MaximumNArgs(1),
		Run:   runClean, // Defined in cmd_clean.go
	}

	revertCmd = &cobra.Command{
		Use:   "revert [directory] [run]",
		Short: "Move the files of a previous run back where they came from",
		Args:  cobra.MaximumNArgs(2),
		Run:   runRevert, // Defined in cmd_revert.go
	}

	runsCmd = &cobra.Command{
		Use:   "runs [directory]",
		Short: "List the recorded runs for a directory, newest first",
		Args:  cobra.MaximumNArgs(1),
		Run:   runRuns, // Defined in cmd_revert.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch [directory]",
		Short: "Keep a directory organized continuously",
		Args:  cobra.MaximumNArgs(1),
		Run:   runWatch, // Defined in cmd_watch.go
	}

	// --- Config ---
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the tidy configuration",
	}
	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config file",
		Args:  cobra.MaximumNArgs(1),
		Run:   runConfigInit, // Defined in cmd_config.go
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the active configuration after validation",
		Run:   runConfigShow, // Defined in cmd_config.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.tidy/tidy.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log", "", "structured log file (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&silent, "silent", "s", false, "suppress console output (errors still print)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")

	for _, cmd := range []*cobra.Command{cleanCmd, watchCmd} {
		cmd.Flags().BoolVarP(&quarantine, "quarantine", "q", false, "stage all moves and commit only if every file stages")
		cmd.Flags().BoolVar(&recursive, "recursive", false, "organize files in subdirectories too")
		cmd.Flags().IntVarP(&threads, "threads", "t", 0, "worker count for moves (default from config)")
		cmd.Flags().StringArrayVarP(&includeGlobs, "include", "p", nil, "only process matching file names (repeatable)")
		cmd.Flags().StringArrayVarP(&excludeGlobs, "exclude", "x", nil, "skip matching file names (repeatable)")
	}
	cleanCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "plan and print moves without executing them")
	cleanCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "confirm each move")

	for _, cmd := range []*cobra.Command{cleanCmd, revertCmd, runsCmd, watchCmd} {
		cmd.Flags().StringVar(&historyBackend, "history-backend", "", "move-log backend: file or badger (overrides config)")
		cmd.Flags().StringVar(&historyPath, "history-path", "", "move-log location (overrides config)")
	}

	revertCmd.Flags().StringVar(&revertRunID, "run", "", "run to revert (default: the newest)")
	watchCmd.Flags().StringVar(&watchDebounce, "debounce", "2s", "quiet period before a run triggers")
	watchCmd.Flags().StringVar(&watchInterval, "interval", "5s", "minimum spacing between runs")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(cleanCmd, revertCmd, runsCmd, watchCmd, configCmd)
}

// targetFromArgs resolves the positional directory, defaulting to the
// current directory.
func targetFromArgs(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// newLogger builds the structured logger from flags and config.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	file := cfg.LogFile
	if logFile != "" {
		file = logFile
	}
	return logging.New(logging.Config{
		Level:   level,
		LogFile: file,
		Service: "tidy",
		Quiet:   silent,
	})
}

// newStore builds the move-log store from flags and config.
func newStore(cfg *config.Config) (history.Store, error) {
	backend := cfg.History.Backend
	if historyBackend != "" {
		backend = historyBackend
	}
	path := cfg.History.Path
	if historyPath != "" {
		path = historyPath
	}

	switch backend {
	case "", "file":
		return history.NewFileStore(path)
	case "badger":
		return history.NewBadgerStore(path)
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}

// setup loads config and assembles the engine. The returned cleanup
// closes the logger and store.
func setup() (*engine.Engine, *config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg.WarnOverlaps(logger)

	store, err := newStore(cfg)
	if err != nil {
		_ = logger.Close()
		return nil, nil, nil, err
	}

	eng := &engine.Engine{
		Logger: logger,
		Store:  store,
	}
	cleanup := func() {
		_ = store.Close()
		_ = logger.Close()
	}
	return eng, cfg, cleanup, nil
}

// runOptions merges config defaults with the run flags.
func runOptions(cfg *config.Config) engine.Options {
	opts := engine.Options{
		DryRun:      dryRun,
		Interactive: interactive,
		Quarantine:  quarantine || cfg.Defaults.Quarantine,
		Recursive:   recursive || cfg.Defaults.Recursive,
		Threads:     cfg.Defaults.Threads,
		Include:     includeGlobs,
		Exclude:     excludeGlobs,
	}
	if threads > 0 {
		opts.Threads = threads
	}
	return opts
}
