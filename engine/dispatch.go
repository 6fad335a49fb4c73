//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package engine

import (
	"context"
	"encoding/json"

	"github.com/gambit-run/gambit/model"
	"github.com/gambit-run/gambit/schema"
	"github.com/gambit-run/gambit/trace"
)

// processToolCalls handles one batch of tool calls in order. A gambit_respond
// call finishes the deck; no further calls in the batch are dispatched.
func (r *run) processToolCalls(ctx context.Context, calls []model.ToolCall) (bool, any, error) {
	for _, call := range calls {
		if call.Name == toolRespond && r.deck.SyntheticTools.Respond {
			result, err := r.handleRespond(call)
			if err != nil {
				return false, nil, err
			}
			return true, result, nil
		}
		if err := r.dispatch(ctx, call); err != nil {
			return false, nil, err
		}
	}
	return false, nil, nil
}

type respondArgs struct {
	Status  int            `json:"status"`
	Payload any            `json:"payload"`
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Meta    map[string]any `json:"meta"`
}

// handleRespond finishes the deck through gambit_respond. Status, message,
// code and meta pass through verbatim; the payload must satisfy the output
// schema.
func (r *run) handleRespond(call model.ToolCall) (*Respond, error) {
	var args respondArgs
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return nil, err
		}
	}
	payload, err := schema.Validate(r.deck.OutputSchema, args.Payload)
	if err != nil {
		return nil, err
	}

	r.appendMessages(
		model.NewToolCallMessage(call),
		model.NewToolMessage(call.ID, call.Name, call.Arguments),
	)
	r.emitToolPair(call, call.Arguments)

	return &Respond{
		Status:  args.Status,
		Payload: payload,
		Message: args.Message,
		Code:    args.Code,
		Meta:    args.Meta,
	}, nil
}

// dispatch runs one action tool call against its child deck. The child's
// result (or its error handler's) lands back in the conversation as the tool
// content plus a trailing gambit_complete pair.
func (r *run) dispatch(ctx context.Context, call model.ToolCall) error {
	action, ok := r.deck.Actions[call.Name]
	if !ok {
		content := Envelope{
			RunID:              r.runID,
			ActionCallID:       r.callID,
			ParentActionCallID: r.in.ParentActionCallID,
			Source:             &Source{DeckPath: r.deck.Path, ActionName: call.Name},
			Status:             404,
			Message:            "unknown action",
		}.encode()
		r.emitToolPair(call, content)
		r.appendMessages(
			model.NewToolCallMessage(call),
			model.NewToolMessage(call.ID, call.Name, content),
		)
		return nil
	}

	start := trace.New(trace.EventActionStart, r.runID,
		trace.WithCallIDs(r.callID, r.in.ParentActionCallID),
		trace.WithDeck(r.deck.Path), trace.WithAction(call.Name))
	r.emit(start)
	callEvt := trace.New(trace.EventToolCall, r.runID,
		trace.WithCallIDs(r.callID, r.in.ParentActionCallID),
		trace.WithDeck(r.deck.Path), trace.WithAction(call.Name),
		trace.WithTool(call.ID, call.Name, call.Arguments))
	r.emit(callEvt)

	args := parseArguments(call.Arguments)

	busy := r.startBusy(ctx, call.Name, args)
	r.idle.pause()
	child, childErr := Run(ctx, RunInput{
		Path:               action.Path,
		ParentPath:         r.deck.Path,
		Input:              args,
		InputProvided:      true,
		Provider:           r.in.Provider,
		Router:             r.in.Router,
		Guardrails:         &r.rails,
		Depth:              r.in.Depth + 1,
		ParentActionCallID: r.callID,
		RunID:              r.runID,
		DefaultModel:       r.in.DefaultModel,
		ModelOverride:      r.in.ModelOverride,
		Tracer:             r.tracer,
		Stream:             r.in.Stream,
		OnStreamText:       r.in.OnStreamText,
	})
	busy.stop()
	r.idle.resume()

	var content string
	if childErr != nil {
		if r.deck.Handlers == nil || r.deck.Handlers.OnError == nil {
			end := trace.New(trace.EventActionEnd, r.runID,
				trace.WithCallIDs(r.callID, r.in.ParentActionCallID),
				trace.WithDeck(r.deck.Path), trace.WithAction(call.Name),
				trace.WithError(childErr))
			r.emit(end)
			return childErr
		}
		content = r.runErrorHandler(ctx, call.Name, args, childErr)
	} else {
		status, payload, message, code, meta := normalizeResult(child, 200)
		content = Envelope{
			RunID:              r.runID,
			ActionCallID:       r.callID,
			ParentActionCallID: r.in.ParentActionCallID,
			Source:             &Source{DeckPath: r.deck.Path, ActionName: call.Name},
			Status:             status,
			Payload:            payload,
			Message:            message,
			Code:               code,
			Meta:               meta,
		}.encode()
	}

	r.appendMessages(
		model.NewToolCallMessage(call),
		model.NewToolMessage(call.ID, call.Name, content),
	)
	r.appendCompletePair(content)

	end := trace.New(trace.EventActionEnd, r.runID,
		trace.WithCallIDs(r.callID, r.in.ParentActionCallID),
		trace.WithDeck(r.deck.Path), trace.WithAction(call.Name))
	end.Result = content
	r.emit(end)
	resultEvt := trace.New(trace.EventToolResult, r.runID,
		trace.WithCallIDs(r.callID, r.in.ParentActionCallID),
		trace.WithDeck(r.deck.Path), trace.WithAction(call.Name),
		trace.WithTool(call.ID, call.Name, call.Arguments))
	resultEvt.Result = content
	r.emit(resultEvt)
	return nil
}

// runErrorHandler recovers a failed child through the deck's onError handler.
// The handler's output replaces the tool content; a failing handler collapses
// into the HANDLER_FALLBACK envelope. The original error never re-throws
// when a handler exists.
func (r *run) runErrorHandler(ctx context.Context, actionName string, args any, childErr error) string {
	handlerInput := map[string]any{
		"kind":  "error",
		"label": r.deck.Label,
		"source": map[string]any{
			"deckPath":   r.deck.Path,
			"actionName": actionName,
		},
		"error":      map[string]any{"message": childErr.Error()},
		"childInput": args,
	}

	envelope := Envelope{
		RunID:              r.runID,
		ActionCallID:       r.callID,
		ParentActionCallID: r.in.ParentActionCallID,
		Source:             &Source{DeckPath: r.deck.Path, ActionName: actionName},
	}

	out, err := r.runHandler(ctx, r.deck.Handlers.OnError.Path, handlerInput)
	if err != nil {
		envelope.Status = 500
		envelope.Code = "HANDLER_FALLBACK"
		envelope.Message = "Handled error: " + childErr.Error()
		envelope.Payload = handlerInput
		envelope.Meta = map[string]any{"handlerFailed": true}
	} else {
		status, payload, message, code, meta := normalizeResult(out, 500)
		envelope.Status = status
		envelope.Payload = payload
		envelope.Message = message
		envelope.Code = code
		envelope.Meta = meta
	}
	return envelope.encode()
}

// appendCompletePair records an explicit completion marker in history so the
// next pass observes the finished call.
func (r *run) appendCompletePair(content string) {
	id := newID("done")
	r.appendMessages(
		model.NewToolCallMessage(model.ToolCall{ID: id, Name: toolComplete, Arguments: "{}"}),
		model.NewToolMessage(id, toolComplete, content),
	)
}

// emitToolPair emits matched tool.call/tool.result events for a call handled
// without dispatch.
func (r *run) emitToolPair(call model.ToolCall, result string) {
	callEvt := trace.New(trace.EventToolCall, r.runID,
		trace.WithCallIDs(r.callID, r.in.ParentActionCallID), trace.WithDeck(r.deck.Path),
		trace.WithTool(call.ID, call.Name, call.Arguments))
	r.emit(callEvt)
	resultEvt := trace.New(trace.EventToolResult, r.runID,
		trace.WithCallIDs(r.callID, r.in.ParentActionCallID), trace.WithDeck(r.deck.Path),
		trace.WithTool(call.ID, call.Name, call.Arguments))
	resultEvt.Result = result
	r.emit(resultEvt)
}

// parseArguments decodes tool-call arguments. Empty arguments become an
// empty object; undecodable arguments pass through as the raw string.
func parseArguments(arguments string) any {
	if arguments == "" {
		return map[string]any{}
	}
	var parsed any
	if err := json.Unmarshal([]byte(arguments), &parsed); err != nil {
		return arguments
	}
	return parsed
}
