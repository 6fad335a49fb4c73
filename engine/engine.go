//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package engine drives one deck invocation: compute decks run through their
// inline executor, LLM decks through the turn loop. Child decks recurse
// through the same entry point with depth+1.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gambit-run/gambit/artifact"
	"github.com/gambit-run/gambit/deck"
	"github.com/gambit-run/gambit/model"
	"github.com/gambit-run/gambit/router"
	"github.com/gambit-run/gambit/schema"
	"github.com/gambit-run/gambit/trace"
)

// Synthetic tool names. Reserved; deck authors cannot define them.
const (
	toolInit     = "gambit_init"
	toolRespond  = "gambit_respond"
	toolComplete = "gambit_complete"
)

// Guardrails bound one deck invocation. Depth increments on every recursive
// call; passes count model calls within the current deck; the timeout is
// wall time since the turn started.
type Guardrails struct {
	MaxDepth  int
	MaxPasses int
	Timeout   time.Duration
}

// DefaultGuardrails returns the stock limits.
func DefaultGuardrails() Guardrails {
	return Guardrails{MaxDepth: 3, MaxPasses: 3, Timeout: 120 * time.Second}
}

func (g *Guardrails) applyDeck(dg *deck.Guardrails) {
	if dg == nil {
		return
	}
	if dg.MaxDepth != nil {
		g.MaxDepth = *dg.MaxDepth
	}
	if dg.MaxPasses != nil {
		g.MaxPasses = *dg.MaxPasses
	}
	if dg.TimeoutMs != nil {
		g.Timeout = time.Duration(*dg.TimeoutMs) * time.Millisecond
	}
}

// RunInput configures one deck invocation.
type RunInput struct {
	// Path is the deck to run; relative paths resolve against ParentPath.
	Path       string
	ParentPath string

	// Input is the deck input, delivered through a synthetic gambit_init
	// pair. InputProvided distinguishes an explicit nil from absence.
	Input         any
	InputProvided bool

	// InitialUserMessage, when set, appends a user message after init.
	// Strings pass through, anything else is JSON-encoded.
	InitialUserMessage any

	// Provider handles model calls directly; Router, when set, resolves the
	// effective model id to a provider instead.
	Provider model.Provider
	Router   *router.Router

	IsRoot     bool
	Guardrails *Guardrails
	Depth      int

	ParentActionCallID string
	RunID              string

	DefaultModel  string
	ModelOverride string

	Tracer trace.Tracer
	Stream bool

	// State resumes a saved conversation; OnStateUpdate receives an
	// immutable snapshot whenever messages change.
	State         *artifact.State
	OnStateUpdate func(*artifact.State)
	OnStreamText  func(chunk string)

	// AllowRootStringInput lets a root run pass a plain string even when the
	// input schema expects something else; validation failure falls back to
	// the raw string.
	AllowRootStringInput bool
}

// run is the per-invocation state of one deck.
type run struct {
	in    RunInput
	deck  *deck.LoadedDeck
	rails Guardrails

	runID  string
	callID string
	tracer trace.Tracer

	mu       sync.Mutex
	messages []model.Message
	meta     map[string]any

	idle *idleController
}

// Run executes one deck to completion and returns its validated result, or a
// *Respond when the deck finishes through gambit_respond.
func Run(ctx context.Context, in RunInput) (any, error) {
	rails := DefaultGuardrails()
	if in.Guardrails != nil {
		rails = *in.Guardrails
	}
	if in.Depth > rails.MaxDepth {
		return nil, ErrMaxDepth
	}

	d, err := deck.Load(in.Path, deck.LoadOptions{ParentPath: in.ParentPath, Root: in.IsRoot})
	if err != nil {
		return nil, err
	}
	rails.applyDeck(d.Guardrails)

	runID := in.RunID
	if runID == "" {
		runID = newID("run")
	}
	r := &run{
		in:     in,
		deck:   d,
		rails:  rails,
		runID:  runID,
		callID: newID("act"),
		tracer: in.Tracer,
		meta:   map[string]any{},
	}

	root := in.Depth == 0
	if root {
		r.emit(trace.New(trace.EventRunStart, runID, trace.WithDeck(d.Path)))
	}
	r.emit(trace.New(trace.EventDeckStart, runID,
		trace.WithCallIDs(r.callID, in.ParentActionCallID), trace.WithDeck(d.Path)))

	result, err := r.execute(ctx)

	end := trace.New(trace.EventDeckEnd, runID,
		trace.WithCallIDs(r.callID, in.ParentActionCallID), trace.WithDeck(d.Path),
		trace.WithError(err))
	if s, ok := result.(string); ok {
		end.Content = s
	}
	r.emit(end)
	if root {
		r.emit(trace.New(trace.EventRunEnd, runID, trace.WithDeck(d.Path), trace.WithError(err)))
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *run) execute(ctx context.Context) (any, error) {
	input, err := r.validateInput()
	if err != nil {
		return nil, err
	}
	if r.deck.IsCompute() {
		return r.runCompute(ctx, input)
	}
	return r.turnLoop(ctx, input)
}

// validateInput checks the provided input against the deck's input schema.
func (r *run) validateInput() (any, error) {
	if !r.in.InputProvided {
		return nil, nil
	}
	validated, err := schema.Validate(r.deck.InputSchema, r.in.Input)
	if err == nil {
		return validated, nil
	}
	if raw, ok := r.in.Input.(string); ok && r.in.AllowRootStringInput && r.in.Depth == 0 && !r.deck.InputSchema.IsString() {
		return raw, nil
	}
	return nil, err
}

func (r *run) runCompute(ctx context.Context, input any) (any, error) {
	ec := &execContext{r: r, input: input}
	result, err := r.deck.Executor(ctx, ec)
	if err != nil {
		return nil, err
	}
	return schema.Validate(r.deck.OutputSchema, result)
}

// turnLoop implements the LLM deck pass loop.
func (r *run) turnLoop(ctx context.Context, input any) (any, error) {
	r.seedMessages(input)

	tools, err := r.buildTools()
	if err != nil {
		return nil, err
	}

	turnStart := time.Now()
	r.idle = r.startIdle(ctx)
	defer r.idle.stop()

	var provState any
	for pass := 0; ; {
		if r.rails.Timeout > 0 && time.Since(turnStart) > r.rails.Timeout {
			return nil, ErrTimeout
		}

		prov, modelID, params, err := r.resolveModel(ctx)
		if err != nil {
			return nil, err
		}

		messages := r.snapshotMessages()
		call := trace.New(trace.EventModelCall, r.runID,
			trace.WithCallIDs(r.callID, r.in.ParentActionCallID), trace.WithDeck(r.deck.Path))
		call.Model = modelID
		call.MessageCount = len(messages)
		call.ToolCount = len(tools)
		r.emit(call)

		r.idle.touch()
		rsp, err := r.callModel(ctx, prov, &model.Request{
			Model:        modelID,
			Messages:     messages,
			Tools:        tools,
			Stream:       r.in.Stream,
			State:        provState,
			Params:       params,
			OnStreamText: r.wrapStream(),
		})
		r.idle.touch()
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		provState = rsp.UpdatedState

		result := trace.New(trace.EventModelResult, r.runID,
			trace.WithCallIDs(r.callID, r.in.ParentActionCallID), trace.WithDeck(r.deck.Path))
		result.Model = modelID
		result.FinishReason = string(rsp.FinishReason)
		r.emit(result)

		switch {
		case len(rsp.ToolCalls) > 0:
			responded, value, err := r.processToolCalls(ctx, rsp.ToolCalls)
			if err != nil {
				return nil, err
			}
			r.persistState()
			if responded {
				return value, nil
			}

		case rsp.FinishReason == model.FinishToolCalls:
			return nil, ErrNoToolCalls

		case rsp.FinishReason == model.FinishLength && rsp.Message.Content == "":
			return nil, ErrLengthNoContent

		default:
			content := rsp.Message.Content
			if content != "" {
				r.appendMessages(model.NewAssistantMessage(content))
				if r.in.Depth > 0 {
					mono := trace.New(trace.EventMonolog, r.runID,
						trace.WithCallIDs(r.callID, r.in.ParentActionCallID), trace.WithDeck(r.deck.Path))
					mono.Content = content
					r.emit(mono)
				}
				r.persistState()
			}
			if !r.deck.SyntheticTools.Respond {
				return r.validateOutput(content)
			}
			if rsp.FinishReason == model.FinishStop {
				return nil, ErrRespondRequired
			}
		}

		pass++
		if pass >= r.rails.MaxPasses {
			return nil, ErrMaxPasses
		}
	}
}

// seedMessages builds the initial conversation. A resumed conversation is
// adopted sanitized; a fresh one starts with the assembled system prompt and
// the synthetic init pair when input was provided.
func (r *run) seedMessages(input any) {
	resumed := false
	if r.in.State != nil && len(r.in.State.Messages) > 0 {
		r.messages = sanitizeMessages(r.in.State.Messages)
		for k, v := range r.in.State.Meta {
			r.meta[k] = v
		}
		resumed = true
	} else {
		r.messages = []model.Message{model.NewSystemMessage(r.deck.SystemPrompt())}
	}

	if r.in.InputProvided && !resumed {
		payload, err := json.Marshal(input)
		if err != nil {
			payload = []byte("null")
		}
		callID := newID("init")
		r.appendMessages(
			model.NewToolCallMessage(model.ToolCall{ID: callID, Name: toolInit, Arguments: "{}"}),
			model.NewToolMessage(callID, toolInit, string(payload)),
		)
		callEvt := trace.New(trace.EventToolCall, r.runID,
			trace.WithCallIDs(r.callID, r.in.ParentActionCallID), trace.WithDeck(r.deck.Path),
			trace.WithTool(callID, toolInit, "{}"))
		r.emit(callEvt)
		resultEvt := trace.New(trace.EventToolResult, r.runID,
			trace.WithCallIDs(r.callID, r.in.ParentActionCallID), trace.WithDeck(r.deck.Path),
			trace.WithTool(callID, toolInit, "{}"))
		resultEvt.Result = string(payload)
		r.emit(resultEvt)
	}

	if r.in.InitialUserMessage != nil {
		r.appendMessages(model.NewUserMessage(stringify(r.in.InitialUserMessage)))
	}
}

// buildTools loads every child deck and projects its input schema to a tool
// definition; the respond tool is appended when required.
func (r *run) buildTools() ([]model.ToolDefinition, error) {
	tools := make([]model.ToolDefinition, 0, len(r.deck.ActionOrder)+1)
	for _, name := range r.deck.ActionOrder {
		action := r.deck.Actions[name]
		child, err := deck.Load(action.Path, deck.LoadOptions{ParentPath: r.deck.Path})
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", name, err)
		}
		tools = append(tools, model.ToolDefinition{
			Name:        name,
			Description: action.Description,
			Parameters:  schema.ToParameterShape(child.InputSchema),
		})
	}
	if r.deck.SyntheticTools.Respond {
		tools = append(tools, respondToolDefinition())
	}
	return tools, nil
}

func respondToolDefinition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        toolRespond,
		Description: "Finish this deck with a structured result.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status":  map[string]any{"type": "number"},
				"payload": map[string]any{},
				"message": map[string]any{"type": "string"},
				"code":    map[string]any{"type": "string"},
				"meta":    map[string]any{"type": "object"},
			},
		},
	}
}

// resolveModel picks the effective model and the provider serving it.
// Precedence: override, then deck model params, then the run default.
func (r *run) resolveModel(ctx context.Context) (model.Provider, string, map[string]any, error) {
	var candidates []string
	switch {
	case r.in.ModelOverride != "":
		candidates = []string{r.in.ModelOverride}
	case r.deck.ModelParams.HasModel():
		candidates = r.deck.ModelParams.Models
	case r.in.DefaultModel != "":
		candidates = []string{r.in.DefaultModel}
	default:
		return nil, "", nil, fmt.Errorf("No model configured for deck %s", r.deck.Path)
	}

	var deckParams map[string]any
	if r.deck.ModelParams != nil {
		deckParams = r.deck.ModelParams.Params
	}

	if r.in.Router != nil {
		resolution, err := r.in.Router.Resolve(ctx, candidates)
		if err != nil {
			return nil, "", nil, err
		}
		return resolution.Provider, resolution.Model, mergeParams(resolution.Params, deckParams), nil
	}
	if r.in.Provider == nil {
		return nil, "", nil, fmt.Errorf("no model provider configured")
	}
	return r.in.Provider, candidates[0], deckParams, nil
}

// mergeParams overlays specific params on top of base ones.
func mergeParams(base, over map[string]any) map[string]any {
	if len(base) == 0 {
		return over
	}
	merged := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range over {
		merged[k] = v
	}
	return merged
}

// validateOutput checks final assistant content against the output schema.
// Non-string schemas expect the content to be JSON.
func (r *run) validateOutput(content string) (any, error) {
	var value any = content
	if !r.deck.OutputSchema.IsString() {
		var parsed any
		if err := json.Unmarshal([]byte(content), &parsed); err == nil {
			value = parsed
		}
	}
	return schema.Validate(r.deck.OutputSchema, value)
}

func (r *run) wrapStream() func(string) {
	if r.in.OnStreamText == nil && r.idle == nil {
		return nil
	}
	return func(chunk string) {
		r.idle.touch()
		if r.in.OnStreamText != nil {
			r.in.OnStreamText(chunk)
		}
	}
}

func (r *run) emit(event trace.Event) {
	trace.Emit(r.tracer, event)
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(b)
}
