//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gambit-run/gambit/artifact"
	"github.com/gambit-run/gambit/config"
	"github.com/gambit-run/gambit/engine"
	"github.com/gambit-run/gambit/log"
	"github.com/gambit-run/gambit/trace"
)

type runFlags struct {
	message  string
	initJSON string
	model    string
	stream   bool

	sessionID string
	rootDir   string
	resume    bool

	otel bool
}

func newRunCommand() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <deck>",
		Short: "Invoke the engine once on a deck",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeck(cmd, args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.message, "message", "", "initial user message")
	cmd.Flags().StringVar(&flags.initJSON, "init", "", "deck input, JSON or plain string")
	cmd.Flags().StringVar(&flags.model, "model", "", "model id override")
	cmd.Flags().BoolVar(&flags.stream, "stream", false, "stream assistant text to stdout")
	cmd.Flags().StringVar(&flags.sessionID, "session", "", "persist artifacts under this session id")
	cmd.Flags().StringVar(&flags.rootDir, "root-dir", ".gambit/sessions", "session artifact root")
	cmd.Flags().BoolVar(&flags.resume, "continue", false, "continue an existing session")
	cmd.Flags().BoolVar(&flags.otel, "otel", false, "emit OpenTelemetry spans")
	return cmd
}

func runDeck(cmd *cobra.Command, deckPath string, flags *runFlags) error {
	cfg, err := config.Discover(".")
	if err != nil {
		return err
	}
	rt, err := buildRouter(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	in := engine.RunInput{
		Path:                 deckPath,
		Router:               rt,
		IsRoot:               true,
		DefaultModel:         cfg.DefaultModel,
		ModelOverride:        flags.model,
		Stream:               flags.stream,
		AllowRootStringInput: true,
	}
	if flags.message != "" {
		in.InitialUserMessage = flags.message
	}
	if cmd.Flags().Changed("init") {
		in.Input = parseInitValue(flags.initJSON)
		in.InputProvided = true
	}
	if flags.stream {
		in.OnStreamText = func(chunk string) { fmt.Fprint(cmd.OutOrStdout(), chunk) }
	}

	var tracers []trace.Tracer
	var store *artifact.Store
	if flags.sessionID != "" {
		store, err = artifact.Acquire(artifact.Options{
			RootDir:         flags.rootDir,
			SessionID:       flags.sessionID,
			ContinueSession: flags.resume,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Finalize(); err != nil {
				log.Warnf("finalize session %s: %v", flags.sessionID, err)
			}
		}()
		tracers = append(tracers, store.TraceSink())
		in.State = store.LoadedState()
		in.OnStateUpdate = store.OnStateUpdate
	}
	if flags.otel {
		tracers = append(tracers, newTelemetryBridge())
	}
	if len(tracers) > 0 {
		in.Tracer = trace.Multi(tracers...)
	}

	result, err := engine.Run(cmd.Context(), in)
	if err != nil {
		return err
	}
	if flags.stream {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return printResult(cmd, result)
}

// parseInitValue accepts JSON and falls back to the raw string.
func parseInitValue(raw string) any {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return raw
	}
	return parsed
}

func printResult(cmd *cobra.Command, result any) error {
	if s, ok := result.(string); ok {
		fmt.Fprintln(cmd.OutOrStdout(), s)
		return nil
	}
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
