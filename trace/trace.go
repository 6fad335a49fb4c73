//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package trace provides the typed event stream emitted by the run engine.
package trace

import (
	"time"

	"github.com/gambit-run/gambit/log"
)

// EventType identifies a trace event variant.
type EventType string

// Trace event types emitted by the engine.
const (
	EventRunStart         EventType = "run.start"
	EventRunEnd           EventType = "run.end"
	EventDeckStart        EventType = "deck.start"
	EventDeckEnd          EventType = "deck.end"
	EventActionStart      EventType = "action.start"
	EventActionEnd        EventType = "action.end"
	EventToolCall         EventType = "tool.call"
	EventToolResult       EventType = "tool.result"
	EventModelCall        EventType = "model.call"
	EventModelResult      EventType = "model.result"
	EventModelStreamEvent EventType = "model.stream.event"
	EventLog              EventType = "log"
	EventMonolog          EventType = "monolog"
)

// Event is one entry in the trace stream. Action and tool events carry
// ActionCallID and optional ParentActionCallID, forming a tree.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"runId"`
	Timestamp time.Time `json:"timestamp"`

	ActionCallID       string `json:"actionCallId,omitempty"`
	ParentActionCallID string `json:"parentActionCallId,omitempty"`

	DeckPath   string `json:"deckPath,omitempty"`
	ActionName string `json:"actionName,omitempty"`

	// Tool events.
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Result     string `json:"result,omitempty"`

	// Model events.
	Model        string `json:"model,omitempty"`
	MessageCount int    `json:"messageCount,omitempty"`
	ToolCount    int    `json:"toolCount,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`

	// Assistant content for monolog and deck.end events.
	Content string `json:"content,omitempty"`

	// Log events.
	Level   string         `json:"level,omitempty"`
	Title   string         `json:"title,omitempty"`
	Message string         `json:"message,omitempty"`
	Body    string         `json:"body,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`

	// Error carried by run.end / deck.end on failure.
	Error string `json:"error,omitempty"`

	// StreamEvent is the opaque provider payload of model.stream.event.
	StreamEvent any `json:"streamEvent,omitempty"`
}

// Option configures an Event.
type Option func(*Event)

// WithCallIDs sets the action-call identifiers of the event.
func WithCallIDs(actionCallID, parentActionCallID string) Option {
	return func(e *Event) {
		e.ActionCallID = actionCallID
		e.ParentActionCallID = parentActionCallID
	}
}

// WithDeck sets the deck path of the event.
func WithDeck(path string) Option {
	return func(e *Event) { e.DeckPath = path }
}

// WithAction sets the action name of the event.
func WithAction(name string) Option {
	return func(e *Event) { e.ActionName = name }
}

// WithTool sets the tool-call fields of the event.
func WithTool(callID, name, arguments string) Option {
	return func(e *Event) {
		e.ToolCallID = callID
		e.ToolName = name
		e.Arguments = arguments
	}
}

// WithError sets the error text of the event.
func WithError(err error) Option {
	return func(e *Event) {
		if err != nil {
			e.Error = err.Error()
		}
	}
}

// New creates a new Event with a timestamp.
func New(typ EventType, runID string, opts ...Option) Event {
	e := Event{Type: typ, RunID: runID, Timestamp: time.Now()}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Tracer receives trace events. Implementations must be safe for use from
// multiple runs when shared; the engine makes a single synchronous call per
// event and never retries.
type Tracer interface {
	Trace(event Event)
}

// Func adapts a function to the Tracer interface.
type Func func(event Event)

// Trace implements Tracer.
func (f Func) Trace(event Event) { f(event) }

// Emit delivers an event to the tracer, swallowing panics. Trace delivery is
// best-effort: a misbehaving tracer must not fail the run.
func Emit(t Tracer, event Event) {
	if t == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("tracer panicked on %s: %v", event.Type, r)
		}
	}()
	t.Trace(event)
}

// Multi fans one event out to several tracers.
func Multi(tracers ...Tracer) Tracer {
	return Func(func(event Event) {
		for _, t := range tracers {
			Emit(t, event)
		}
	})
}
