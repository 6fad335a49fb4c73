//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package engine

import (
	"context"

	"github.com/gambit-run/gambit/deck"
	"github.com/gambit-run/gambit/trace"
)

// FailureError is a structured compute-deck failure returned through
// ExecContext.Fail.
type FailureError struct {
	deck.Failure
}

func (e *FailureError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// execContext implements deck.ExecContext for compute decks.
type execContext struct {
	r     *run
	input any
}

func (ec *execContext) RunID() string              { return ec.r.runID }
func (ec *execContext) ActionCallID() string       { return ec.r.callID }
func (ec *execContext) ParentActionCallID() string { return ec.r.in.ParentActionCallID }
func (ec *execContext) Depth() int                 { return ec.r.in.Depth }
func (ec *execContext) Input() any                 { return ec.input }
func (ec *execContext) Label() string              { return ec.r.deck.Label }

func (ec *execContext) Log(entry deck.LogEntry) {
	event := trace.New(trace.EventLog, ec.r.runID,
		trace.WithCallIDs(ec.r.callID, ec.r.in.ParentActionCallID),
		trace.WithDeck(ec.r.deck.Path))
	event.Level = entry.Level
	event.Title = entry.Title
	event.Message = entry.Message
	event.Body = entry.Body
	event.Meta = entry.Meta
	ec.r.emit(event)
}

// SpawnAndWait recurses into a child deck with depth+1 and the current
// action-call id as parent. Relative paths resolve against this deck.
func (ec *execContext) SpawnAndWait(ctx context.Context, path string, input any) (any, error) {
	return Run(ctx, RunInput{
		Path:               path,
		ParentPath:         ec.r.deck.Path,
		Input:              input,
		InputProvided:      input != nil,
		Provider:           ec.r.in.Provider,
		Router:             ec.r.in.Router,
		Guardrails:         &ec.r.rails,
		Depth:              ec.r.in.Depth + 1,
		ParentActionCallID: ec.r.callID,
		RunID:              ec.r.runID,
		DefaultModel:       ec.r.in.DefaultModel,
		ModelOverride:      ec.r.in.ModelOverride,
		Tracer:             ec.r.tracer,
		Stream:             ec.r.in.Stream,
		OnStreamText:       ec.r.in.OnStreamText,
	})
}

func (ec *execContext) Fail(failure deck.Failure) error {
	return &FailureError{failure}
}
