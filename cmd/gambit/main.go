//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// gambit is the deck runner CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Provider keys commonly live in a local .env during development.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gambit",
		Short:         "Run and inspect gambit decks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newCheckCommand())
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newInitCommand())
	return cmd
}
