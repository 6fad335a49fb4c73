//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package deck

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gambit-run/gambit/schema"
)

var actionNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const (
	reservedActionPrefix = "gambit_"
	maxActionNameLen     = 64
)

// LoadOptions configure one deck graph resolution.
type LoadOptions struct {
	// ParentPath resolves a relative deck path against its referrer.
	ParentPath string
	// Root marks a root load: schemas may be omitted and default to string.
	Root bool
}

// Load resolves the deck graph rooted at deckPath: loads the definition,
// flattens embedded cards (detecting cycles), merges actions and schema
// fragments, validates action names and resolves handler paths. Definitions
// are cached only within one load.
func Load(deckPath string, opts LoadOptions) (*LoadedDeck, error) {
	ld := &loader{cache: map[string]*Definition{}}
	resolved := ResolvePath(opts.ParentPath, deckPath)
	def, err := ld.definition(resolved)
	if err != nil {
		return nil, err
	}

	loaded := &LoadedDeck{
		Path:           resolved,
		Label:          def.Label,
		Body:           def.Body,
		Actions:        map[string]Action{},
		ModelParams:    def.ModelParams,
		SyntheticTools: def.SyntheticTools,
		Guardrails:     def.Guardrails,
		Executor:       def.Executor,
	}

	// Flatten embedded cards depth-first; their actions and schema fragments
	// merge in order, the deck's own definitions are applied last so the
	// deck wins name conflicts.
	if err := ld.flatten(def, resolved, []string{resolved}, loaded); err != nil {
		return nil, err
	}

	loaded.InputSchema, err = mergeFragment(loaded.InputSchema, def.InputSchema, resolved, "inputSchema")
	if err != nil {
		return nil, err
	}
	loaded.OutputSchema, err = mergeFragment(loaded.OutputSchema, def.OutputSchema, resolved, "outputSchema")
	if err != nil {
		return nil, err
	}

	for _, action := range def.Actions {
		if err := addAction(loaded, action, resolved); err != nil {
			return nil, err
		}
	}

	if def.Handlers != nil {
		loaded.Handlers = resolveHandlerPaths(def.Handlers, resolved)
	}

	if opts.Root {
		if loaded.InputSchema == nil {
			loaded.InputSchema = schema.String()
		}
		if loaded.OutputSchema == nil {
			loaded.OutputSchema = schema.String()
		}
	} else if loaded.InputSchema == nil || loaded.OutputSchema == nil {
		return nil, fmt.Errorf("%w: %s: non-root decks must declare inputSchema and outputSchema",
			ErrMissingSchemas, resolved)
	}
	return loaded, nil
}

type loader struct {
	cache map[string]*Definition
}

// definition loads one definition, consulting the module registry, the
// built-in asset tree and the markdown source in that order.
func (ld *loader) definition(resolved string) (*Definition, error) {
	if def, ok := ld.cache[resolved]; ok {
		return def, nil
	}
	def, err := loadDefinition(resolved)
	if err != nil {
		return nil, err
	}
	ld.cache[resolved] = def
	return def, nil
}

func loadDefinition(resolved string) (*Definition, error) {
	if def, ok := registeredDeck(resolved); ok {
		clone := *def
		clone.Path = resolved
		return &clone, nil
	}
	if isAssetPath(resolved) {
		raw, err := assetBytes(resolved)
		if err != nil {
			return nil, err
		}
		return parseMarkdown(resolved, raw)
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownDeck, resolved, err)
	}
	return parseMarkdown(resolved, raw)
}

// flatten walks the embed graph below def, appending cards to loaded. The
// stack carries the chain of paths currently being expanded; a repeat is a
// cycle and fails with the full chain.
func (ld *loader) flatten(def *Definition, defPath string, stack []string, loaded *LoadedDeck) error {
	for _, embedRef := range def.Embeds {
		cardPath := ResolvePath(defPath, embedRef)
		if idx := indexOf(stack, cardPath); idx >= 0 {
			chain := append(append([]string{}, stack[idx:]...), cardPath)
			return fmt.Errorf("%w: Card/embed cycle detected: %s", ErrCycle, strings.Join(chain, " -> "))
		}
		card, err := ld.definition(cardPath)
		if err != nil {
			return err
		}
		if card.Handlers != nil && !card.Handlers.Empty() {
			return fmt.Errorf("%w: %s", ErrCardHandlers, cardPath)
		}
		// Nested embeds contribute before the embedding card itself.
		if err := ld.flatten(card, cardPath, append(stack, cardPath), loaded); err != nil {
			return err
		}
		loaded.Cards = append(loaded.Cards, LoadedCard{
			Path:  cardPath,
			Label: card.Label,
			Body:  card.Body,
		})
		for _, action := range card.Actions {
			if err := addAction(loaded, action, cardPath); err != nil {
				return err
			}
		}
		if loaded.InputSchema, err = mergeFragment(loaded.InputSchema, card.InputSchema, cardPath, "inputSchema"); err != nil {
			return err
		}
		if loaded.OutputSchema, err = mergeFragment(loaded.OutputSchema, card.OutputSchema, cardPath, "outputSchema"); err != nil {
			return err
		}
	}
	return nil
}

// addAction validates one action and merges it into the name-keyed map.
// Last writer wins; the deck's own actions are added after every card's.
func addAction(loaded *LoadedDeck, action Action, definedIn string) error {
	if err := ValidateActionName(action.Name); err != nil {
		return fmt.Errorf("%s: %w", definedIn, err)
	}
	action.Path = ResolvePath(definedIn, action.Path)
	if _, exists := loaded.Actions[action.Name]; !exists {
		loaded.ActionOrder = append(loaded.ActionOrder, action.Name)
	}
	loaded.Actions[action.Name] = action
	return nil
}

// ValidateActionName enforces the action naming rules: identifier syntax,
// at most 64 characters, and no reserved gambit_ prefix.
func ValidateActionName(name string) error {
	if !actionNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidActionName, name, actionNameRe.String())
	}
	if len(name) > maxActionNameLen {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidActionName, name, maxActionNameLen)
	}
	if strings.HasPrefix(name, reservedActionPrefix) {
		return fmt.Errorf("%w: %q uses the reserved %q prefix", ErrInvalidActionName, name, reservedActionPrefix)
	}
	return nil
}

func mergeFragment(base, fragment *schema.Schema, definedIn, field string) (*schema.Schema, error) {
	merged, err := schema.Merge(base, fragment)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", definedIn, field, err)
	}
	return merged, nil
}

func resolveHandlerPaths(handlers *Handlers, deckPath string) *Handlers {
	resolved := *handlers
	resolve := func(ref *HandlerRef) *HandlerRef {
		if ref == nil {
			return nil
		}
		clone := *ref
		clone.Path = ResolvePath(deckPath, ref.Path)
		return &clone
	}
	resolved.OnError = resolve(handlers.OnError)
	resolved.OnBusy = resolve(handlers.OnBusy)
	resolved.OnInterval = resolve(handlers.OnInterval)
	resolved.OnIdle = resolve(handlers.OnIdle)
	return &resolved
}

// ResolvePath resolves ref to an absolute path relative to parentPath.
// Registered module paths and gambit:// assets pass through verbatim.
func ResolvePath(parentPath, ref string) string {
	if ref == "" {
		return ref
	}
	if isAssetPath(ref) {
		return ref
	}
	if _, ok := registeredDeck(ref); ok {
		return ref
	}
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref)
	}
	if parentPath == "" {
		abs, err := filepath.Abs(ref)
		if err != nil {
			return filepath.Clean(ref)
		}
		return abs
	}
	if isAssetPath(parentPath) {
		rel := strings.TrimPrefix(parentPath, assetScheme)
		return assetScheme + path.Join(path.Dir(rel), ref)
	}
	if _, ok := registeredDeck(parentPath); ok {
		joined := path.Join(path.Dir(parentPath), ref)
		if _, ok := registeredDeck(joined); ok {
			return joined
		}
	}
	abs, err := filepath.Abs(filepath.Join(filepath.Dir(parentPath), ref))
	if err != nil {
		return filepath.Clean(filepath.Join(filepath.Dir(parentPath), ref))
	}
	return abs
}

func indexOf(list []string, s string) int {
	for i, item := range list {
		if item == s {
			return i
		}
	}
	return -1
}
