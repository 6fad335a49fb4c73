//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package config loads the gambit.toml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/gambit-run/gambit/log"
)

// FileName is the project configuration file searched for upward from the
// working directory.
const FileName = "gambit.toml"

// Fallback provider keys accepted in [providers].
var knownFallbacks = map[string]bool{
	"openrouter": true,
	"ollama":     true,
	"google":     true,
	"codex-cli":  true,
	"none":       true,
}

// Providers is the [providers] table.
type Providers struct {
	// Fallback binds unprefixed model ids to a provider key.
	Fallback string `toml:"fallback"`
}

// ModelAlias maps a short name in the [models] table to a model id (or
// candidate list) plus default params.
type ModelAlias struct {
	Model  []string
	Params map[string]any
}

// Config is the parsed project configuration.
type Config struct {
	Providers Providers `toml:"providers"`
	// DefaultModel is used when a deck names no model.
	DefaultModel string `toml:"default_model"`
	// Aliases maps short names to model candidate lists.
	Aliases map[string]ModelAlias `toml:"-"`

	// Path is where the config was found, empty for defaults.
	Path string `toml:"-"`
}

// rawConfig is the on-disk shape before alias normalization.
type rawConfig struct {
	Providers    Providers      `toml:"providers"`
	DefaultModel string         `toml:"default_model"`
	Models       map[string]any `toml:"models"`
}

var warnOnce sync.Map

// Load reads and validates a config file. A missing path yields the zero
// config without error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg := &Config{
		Providers:    raw.Providers,
		DefaultModel: raw.DefaultModel,
		Path:         path,
	}
	if err := cfg.validateFallback(); err != nil {
		return nil, err
	}

	cfg.Aliases, err = parseAliases(raw.Models)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Discover walks from dir upward looking for gambit.toml. A missing file
// yields the zero config.
func Discover(dir string) (*Config, error) {
	current, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		candidate := filepath.Join(current, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return &Config{}, nil
		}
		current = parent
	}
}

// validateFallback enforces the retired codex key and warns once per unknown
// value.
func (c *Config) validateFallback() error {
	fallback := c.Providers.Fallback
	if fallback == "" {
		return nil
	}
	if fallback == "codex" {
		return fmt.Errorf(`providers.fallback "codex" is no longer supported; use "codex-cli"`)
	}
	if !knownFallbacks[fallback] {
		if _, warned := warnOnce.LoadOrStore(fallback, true); !warned {
			log.Warnf("unknown providers.fallback %q, unprefixed models will match nothing", fallback)
		}
	}
	return nil
}

// parseAliases accepts both shorthand and table alias forms:
//
//	[models]
//	fast = "openrouter/x"
//	strong = { model = ["a", "b"], temperature = 0.2 }
func parseAliases(models map[string]any) (map[string]ModelAlias, error) {
	if len(models) == 0 {
		return nil, nil
	}
	aliases := make(map[string]ModelAlias, len(models))
	for name, value := range models {
		switch v := value.(type) {
		case string:
			aliases[name] = ModelAlias{Model: []string{v}}
		case []any:
			ids, err := stringList(v)
			if err != nil {
				return nil, fmt.Errorf("models.%s: %w", name, err)
			}
			aliases[name] = ModelAlias{Model: ids}
		case map[string]any:
			alias := ModelAlias{}
			switch m := v["model"].(type) {
			case string:
				alias.Model = []string{m}
			case []any:
				ids, err := stringList(m)
				if err != nil {
					return nil, fmt.Errorf("models.%s: %w", name, err)
				}
				alias.Model = ids
			case nil:
				return nil, fmt.Errorf("models.%s: missing model", name)
			default:
				return nil, fmt.Errorf("models.%s: model must be a string or list", name)
			}
			params := map[string]any{}
			for k, val := range v {
				if k == "model" {
					continue
				}
				params[k] = val
			}
			if len(params) > 0 {
				alias.Params = params
			}
			aliases[name] = alias
		default:
			return nil, fmt.Errorf("models.%s: unsupported value", name)
		}
	}
	return aliases, nil
}

func stringList(values []any) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string list")
		}
		out = append(out, s)
	}
	return out, nil
}
