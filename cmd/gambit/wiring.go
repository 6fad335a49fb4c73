//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package main

import (
	"context"

	"github.com/gambit-run/gambit/config"
	"github.com/gambit-run/gambit/log"
	"github.com/gambit-run/gambit/model/codex"
	"github.com/gambit-run/gambit/model/google"
	"github.com/gambit-run/gambit/model/ollama"
	"github.com/gambit-run/gambit/model/openrouter"
	"github.com/gambit-run/gambit/router"
	"github.com/gambit-run/gambit/telemetry"
	"github.com/gambit-run/gambit/trace"
)

// buildRouter wires every provider transport and binds the configured
// fallback for unprefixed model ids.
func buildRouter(ctx context.Context, cfg *config.Config) (*router.Router, error) {
	opts := []router.Option{
		router.WithProvider(router.KeyOpenRouter, openrouter.New()),
		router.WithProvider(router.KeyOllama, ollama.New()),
		router.WithProvider(router.KeyCodexCLI, codex.New()),
	}
	if google.APIKeyFromEnv() != "" {
		gp, err := google.New(ctx)
		if err != nil {
			log.Warnf("google provider unavailable: %v", err)
		} else {
			opts = append(opts, router.WithProvider(router.KeyGoogle, gp))
		}
	}

	fallback := cfg.Providers.Fallback
	if fallback == "" {
		fallback = router.KeyOpenRouter
	}
	if fallback != "none" {
		opts = append(opts, router.WithFallback(fallback))
	}

	for name, alias := range cfg.Aliases {
		opts = append(opts, router.WithAlias(name, router.Alias{
			Models: alias.Model,
			Params: alias.Params,
		}))
	}
	return router.New(opts...), nil
}

func newTelemetryBridge() trace.Tracer {
	return telemetry.New()
}
