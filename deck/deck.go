//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package deck defines the deck/card data model and resolves deck graphs
// from pluggable sources.
package deck

import (
	"context"
	"strings"

	"github.com/gambit-run/gambit/schema"
)

// Definition is the raw deck or card definition as produced by a Source.
// A card is a Definition without model params, handlers and executor.
type Definition struct {
	// Path is the origin of the definition, set by the loader.
	Path  string
	Label string
	// Body is the prompt fragment contributed to the system prompt.
	Body string

	ModelParams *ModelParams
	InputSchema *schema.Schema
	// OutputSchema declares the shape of the deck result.
	OutputSchema *schema.Schema

	// Actions maps names to callable child decks, in declaration order.
	Actions []Action
	// Embeds lists embedded card paths, relative to this file.
	Embeds []string

	Handlers       *Handlers
	SyntheticTools SyntheticTools
	Guardrails     *Guardrails

	// Executor is the inline run function of a compute deck.
	Executor Executor
}

// Action is a named child deck callable by the model via a tool call.
type Action struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// ModelParams selects the model (a single id or an ordered candidate list)
// and carries free-form generation parameters.
type ModelParams struct {
	// Models is the ordered candidate list; a single id is a one-element list.
	Models []string
	// Params holds free-form parameters (temperature, reasoning.effort, ...).
	Params map[string]any
}

// HasModel reports whether any model selection is present.
func (m *ModelParams) HasModel() bool { return m != nil && len(m.Models) > 0 }

// HandlerRef points to a lifecycle handler deck.
type HandlerRef struct {
	Path string `json:"path"`
	// DelayMs is the initial delay before the handler fires.
	DelayMs *int `json:"delayMs,omitempty"`
	// RepeatMs re-fires the handler on an interval when set.
	RepeatMs *int `json:"repeatMs,omitempty"`
}

// Handlers are the lifecycle handler slots of a deck. OnInterval is a
// deprecated alias that binds to OnBusy when OnBusy is absent.
type Handlers struct {
	OnError    *HandlerRef `json:"onError,omitempty"`
	OnBusy     *HandlerRef `json:"onBusy,omitempty"`
	OnInterval *HandlerRef `json:"onInterval,omitempty"`
	OnIdle     *HandlerRef `json:"onIdle,omitempty"`
}

// Busy resolves the busy slot, honoring the onInterval alias.
func (h *Handlers) Busy() *HandlerRef {
	if h == nil {
		return nil
	}
	if h.OnBusy != nil {
		return h.OnBusy
	}
	return h.OnInterval
}

// Empty reports whether no handler slot is set.
func (h *Handlers) Empty() bool {
	return h == nil || (h.OnError == nil && h.OnBusy == nil && h.OnInterval == nil && h.OnIdle == nil)
}

// SyntheticTools toggles engine-injected tools.
type SyntheticTools struct {
	// Respond requires the deck to finish through gambit_respond.
	Respond bool `json:"respond,omitempty"`
}

// Guardrails bound one deck invocation. Nil fields inherit the defaults.
type Guardrails struct {
	MaxDepth  *int `json:"maxDepth,omitempty"`
	MaxPasses *int `json:"maxPasses,omitempty"`
	TimeoutMs *int `json:"timeoutMs,omitempty"`
}

// LogEntry is a user-emitted log record from a compute deck.
type LogEntry struct {
	Level   string         `json:"level"`
	Title   string         `json:"title,omitempty"`
	Message string         `json:"message"`
	Body    string         `json:"body,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Failure is a structured compute-deck failure.
type Failure struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// ExecContext is handed to a compute deck's executor. SpawnAndWait recurses
// into a child deck with depth+1 and the current action-call id as parent.
type ExecContext interface {
	RunID() string
	ActionCallID() string
	ParentActionCallID() string
	Depth() int
	Input() any
	Label() string
	// Log emits a trace log event.
	Log(entry LogEntry)
	// SpawnAndWait runs a child deck to completion. Relative paths resolve
	// against the parent deck.
	SpawnAndWait(ctx context.Context, path string, input any) (any, error)
	// Fail returns a structured failure error for the executor to return.
	Fail(failure Failure) error
}

// Executor is the inline run function of a compute deck.
type Executor func(ctx context.Context, ec ExecContext) (any, error)

// LoadedCard is a flattened embedded card.
type LoadedCard struct {
	Path  string
	Label string
	Body  string
}

// LoadedDeck is the result of resolving a deck graph: flattened cards,
// merged actions and schema fragments, absolute handler paths.
type LoadedDeck struct {
	Path  string
	Label string
	// Body is the deck's own prompt fragment.
	Body  string
	Cards []LoadedCard

	// Actions is the merged name-keyed action map; ActionOrder preserves
	// declaration order (cards first, deck last).
	Actions     map[string]Action
	ActionOrder []string

	InputSchema  *schema.Schema
	OutputSchema *schema.Schema

	ModelParams    *ModelParams
	Handlers       *Handlers
	SyntheticTools SyntheticTools
	Guardrails     *Guardrails
	Executor       Executor
}

// IsCompute reports whether the deck runs through its inline executor
// instead of the turn loop.
func (d *LoadedDeck) IsCompute() bool {
	return d.Executor != nil && !d.ModelParams.HasModel()
}

// SystemPrompt concatenates the deck body and every flattened card body,
// each trimmed, joined by blank lines.
func (d *LoadedDeck) SystemPrompt() string {
	parts := make([]string, 0, 1+len(d.Cards))
	if body := strings.TrimSpace(d.Body); body != "" {
		parts = append(parts, body)
	}
	for _, card := range d.Cards {
		if body := strings.TrimSpace(card.Body); body != "" {
			parts = append(parts, body)
		}
	}
	return strings.Join(parts, "\n\n")
}
