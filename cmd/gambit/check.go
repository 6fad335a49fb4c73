//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gambit-run/gambit/config"
	"github.com/gambit-run/gambit/deck"
)

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <deck>",
		Short: "Load a deck and validate its graph, schemas and model config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Discover("."); err != nil {
				return err
			}
			d, err := deck.Load(args[0], deck.LoadOptions{Root: true})
			if err != nil {
				return err
			}
			if err := checkModelIDs(d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (%d actions)\n", d.Path, len(d.Actions))
			return nil
		},
	}
}

// checkModelIDs rejects retired model-id prefixes up front so a bad deck
// fails at check time, not mid-run.
func checkModelIDs(d *deck.LoadedDeck) error {
	if !d.ModelParams.HasModel() {
		return nil
	}
	for _, id := range d.ModelParams.Models {
		if rest, ok := strings.CutPrefix(id, "codex/"); ok {
			return fmt.Errorf("legacy codex prefix is unsupported (model %q); use %q", id, "codex-cli/"+rest)
		}
	}
	return nil
}
