//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package router resolves model ids to providers: alias expansion, prefix
// matching, fallback binding and availability probing.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gambit-run/gambit/log"
	"github.com/gambit-run/gambit/model"
)

// Provider keys understood in model-id prefixes.
const (
	KeyOpenRouter = "openrouter"
	KeyOllama     = "ollama"
	KeyGoogle     = "google"
	KeyCodexCLI   = "codex-cli"
)

// legacyCodexPrefix was retired together with the codex provider key.
const legacyCodexPrefix = "codex"

// Alias maps a short name to a concrete model id (or ordered candidate
// list) plus default params.
type Alias struct {
	Models []string
	Params map[string]any
}

// Resolution is the outcome of resolving a candidate list.
type Resolution struct {
	Provider model.Provider
	// Model is the provider-local id with the prefix stripped.
	Model string
	// Params are alias default params, nil unless an alias matched.
	Params map[string]any
}

// Router keeps an ordered list of (providerKey, provider) routes.
type Router struct {
	order    []string
	byKey    map[string]model.Provider
	fallback string
	aliases  map[string]Alias

	mu     sync.Mutex
	warned map[string]bool
}

// Option configures a Router.
type Option func(*Router)

// WithProvider registers a provider under its prefix key.
func WithProvider(key string, p model.Provider) Option {
	return func(r *Router) {
		if _, exists := r.byKey[key]; !exists {
			r.order = append(r.order, key)
		}
		r.byKey[key] = p
	}
}

// WithFallback binds unprefixed model ids to the given provider key. Without
// a fallback, unprefixed ids match nothing.
func WithFallback(key string) Option {
	return func(r *Router) { r.fallback = key }
}

// WithAlias registers a model alias.
func WithAlias(name string, alias Alias) Option {
	return func(r *Router) { r.aliases[name] = alias }
}

// New creates a Router.
func New(opts ...Option) *Router {
	r := &Router{
		byKey:   map[string]model.Provider{},
		aliases: map[string]Alias{},
		warned:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the first available candidate. Alias resolution runs
// first; an unknown alias reference warns once per distinct name and falls
// through to the literal model id. Availability is provider-defined via
// model.AvailabilityProbe; providers without a probe are always available.
func (r *Router) Resolve(ctx context.Context, candidates []string) (*Resolution, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no model configured")
	}
	var tried []string
	var lastErr error
	for _, candidate := range candidates {
		for _, expanded := range r.expandAlias(candidate) {
			resolution, err := r.route(expanded.id)
			if err != nil {
				return nil, err
			}
			if resolution == nil {
				tried = append(tried, expanded.id)
				continue
			}
			resolution.Params = expanded.params
			if probe, ok := resolution.Provider.(model.AvailabilityProbe); ok {
				if err := probe.CheckModel(ctx, resolution.Model); err != nil {
					lastErr = err
					tried = append(tried, expanded.id)
					continue
				}
			}
			return resolution, nil
		}
	}
	msg := fmt.Sprintf("No available model found. Tried: %s", strings.Join(tried, ", "))
	if lastErr != nil {
		return nil, fmt.Errorf("%s: %w", msg, lastErr)
	}
	return nil, fmt.Errorf("%s", msg)
}

type expandedCandidate struct {
	id     string
	params map[string]any
}

// expandAlias replaces an alias name with its model list. Both bare alias
// names and the explicit alias: prefix are recognized.
func (r *Router) expandAlias(candidate string) []expandedCandidate {
	name := candidate
	explicit := false
	if strings.HasPrefix(candidate, "alias:") {
		name = strings.TrimPrefix(candidate, "alias:")
		explicit = true
	}
	if alias, ok := r.aliases[name]; ok {
		out := make([]expandedCandidate, 0, len(alias.Models))
		for _, id := range alias.Models {
			out = append(out, expandedCandidate{id: id, params: alias.Params})
		}
		return out
	}
	if explicit {
		r.warnUnknownAlias(name)
	}
	return []expandedCandidate{{id: name}}
}

func (r *Router) warnUnknownAlias(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.warned[name] {
		return
	}
	r.warned[name] = true
	log.Warnf("unknown model alias %q, treating as a literal model id", name)
}

// route matches the model-id prefix against registered providers. A nil
// resolution with nil error means the id matched nothing.
func (r *Router) route(id string) (*Resolution, error) {
	prefix, rest, found := strings.Cut(id, "/")
	if found {
		if prefix == legacyCodexPrefix {
			return nil, fmt.Errorf("legacy codex prefix is unsupported (model %q); use %q", id, KeyCodexCLI+"/"+rest)
		}
		if p, ok := r.byKey[prefix]; ok {
			return &Resolution{Provider: p, Model: rest}, nil
		}
	}
	// Unprefixed (or unknown prefix) ids bind to the fallback provider.
	if r.fallback == "" {
		return nil, nil
	}
	p, ok := r.byKey[r.fallback]
	if !ok {
		return nil, nil
	}
	return &Resolution{Provider: p, Model: id}, nil
}
