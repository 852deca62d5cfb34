// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command tidy organizes directories by configurable rules and keeps
// every run reversible.
package main

import "os"

func main() {
	// Execute the root command. Cobra handles parsing the arguments;
	// the run functions own their exit codes.
	if err := rootCmd.Execute(); err != nil {
		os.Exit(CLIExitError)
	}
}
