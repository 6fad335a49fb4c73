//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package telemetry bridges the trace event stream onto OpenTelemetry spans.
// Paired start/end events become spans; everything else becomes span events
// on the enclosing deck span.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gambit-run/gambit/trace"
)

const instrumentationName = "github.com/gambit-run/gambit"

// Bridge adapts trace.Tracer to OpenTelemetry. Safe for concurrent use by
// multiple runs sharing one sink.
type Bridge struct {
	tracer oteltrace.Tracer

	mu    sync.Mutex
	spans map[string]oteltrace.Span // keyed by actionCallId, run spans by runId
}

// New creates a Bridge against the global tracer provider.
func New() *Bridge {
	return &Bridge{
		tracer: otel.Tracer(instrumentationName),
		spans:  map[string]oteltrace.Span{},
	}
}

// Trace implements trace.Tracer.
func (b *Bridge) Trace(event trace.Event) {
	switch event.Type {
	case trace.EventRunStart:
		b.openSpan("run:"+event.RunID, "", "gambit.run", event)
	case trace.EventRunEnd:
		b.closeSpan("run:"+event.RunID, event)
	case trace.EventDeckStart:
		parent := "run:" + event.RunID
		if event.ParentActionCallID != "" {
			parent = event.ParentActionCallID
		}
		b.openSpan(event.ActionCallID, parent, "gambit.deck", event)
	case trace.EventDeckEnd:
		b.closeSpan(event.ActionCallID, event)
	default:
		b.addEvent(event)
	}
}

func (b *Bridge) openSpan(key, parentKey, name string, event trace.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx := context.Background()
	if parent, ok := b.spans[parentKey]; ok {
		ctx = oteltrace.ContextWithSpan(ctx, parent)
	}
	_, span := b.tracer.Start(ctx, name, oteltrace.WithAttributes(attributes(event)...))
	b.spans[key] = span
}

func (b *Bridge) closeSpan(key string, event trace.Event) {
	b.mu.Lock()
	span, ok := b.spans[key]
	delete(b.spans, key)
	b.mu.Unlock()
	if !ok {
		return
	}
	if event.Error != "" {
		span.SetStatus(codes.Error, event.Error)
	}
	span.End()
}

// addEvent attaches a non-boundary event to the nearest enclosing span.
func (b *Bridge) addEvent(event trace.Event) {
	b.mu.Lock()
	span, ok := b.spans[event.ActionCallID]
	if !ok {
		span, ok = b.spans["run:"+event.RunID]
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	span.AddEvent(string(event.Type), oteltrace.WithAttributes(attributes(event)...))
}

func attributes(event trace.Event) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("gambit.run_id", event.RunID),
	}
	if event.DeckPath != "" {
		attrs = append(attrs, attribute.String("gambit.deck_path", event.DeckPath))
	}
	if event.ActionName != "" {
		attrs = append(attrs, attribute.String("gambit.action_name", event.ActionName))
	}
	if event.ToolName != "" {
		attrs = append(attrs, attribute.String("gambit.tool_name", event.ToolName))
	}
	if event.Model != "" {
		attrs = append(attrs, attribute.String("gambit.model", event.Model))
	}
	if event.FinishReason != "" {
		attrs = append(attrs, attribute.String("gambit.finish_reason", event.FinishReason))
	}
	return attrs
}
