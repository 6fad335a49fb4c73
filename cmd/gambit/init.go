//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// The init subcommand was folded into the serve workflow; keep the name
// registered so users get guidance instead of an unknown-command error.
func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "init",
		Short:  "Removed",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("gambit init has been removed; sessions are created by gambit serve")
		},
	}
}
