// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianTidy/cmd/tidy/config"
)

// runConfigInit executes config init.
func runConfigInit(cmd *cobra.Command, args []string) {
	os.Exit(configInitMain(args))
}

func configInitMain(args []string) int {
	cons := newConsole(silent)

	path := ""
	if len(args) > 0 {
		path = args[0]
	} else {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			cons.Errorf("Error: %v", err)
			return CLIExitError
		}
	}

	if _, err := os.Stat(path); err == nil {
		cons.Errorf("Error: %s already exists; delete it first to reinitialize.", path)
		return CLIExitError
	}

	if err := config.WriteDefault(path); err != nil {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}

	cons.Titlef("Wrote %s", path)
	cons.Mutedf("Edit it, then run: tidy clean <directory> --dry-run")
	return CLIExitSuccess
}

// runConfigShow executes config show.
func runConfigShow(cmd *cobra.Command, args []string) {
	os.Exit(configShowMain())
}

func configShowMain() int {
	cons := newConsole(silent)

	cfg, err := config.Load(configPath)
	if err != nil {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		cons.Errorf("Error: %v", err)
		return CLIExitError
	}
	cons.Printf("%s", data)
	return CLIExitSuccess
}
