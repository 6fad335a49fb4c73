//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package model provides the provider interface the run engine calls into.
package model

import "context"

// Provider is the interface all model transports implement. Chat is the
// primary entry; transports that expose an event-stream variant additionally
// implement ResponsesProvider.
type Provider interface {
	// Chat performs one model call. When req.Stream is set the provider may
	// invoke req.OnStreamText zero or more times before returning.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// Info returns basic information about the provider.
	Info() Info
}

// ResponsesProvider is an optional event-stream variant of Chat. Typed
// streaming items are delivered through req.OnStreamEvent.
type ResponsesProvider interface {
	Provider
	Responses(ctx context.Context, req *Request) (*Response, error)
}

// AvailabilityProbe is implemented by providers that can check whether a
// model id is usable before the engine commits to it. The router uses it to
// pick the first available candidate from an ordered list.
type AvailabilityProbe interface {
	// CheckModel returns nil when the model is available, an error describing
	// why not otherwise.
	CheckModel(ctx context.Context, name string) error
}

// Info contains basic information about a Provider.
type Info struct {
	Name string
}

// Request is one model call.
type Request struct {
	// Model is the provider-local model id (prefix already stripped).
	Model string `json:"model"`

	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// Tools are the tool definitions offered to the model.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// Stream requests incremental text delivery via OnStreamText.
	Stream bool `json:"stream"`

	// State is opaque provider continuation state from a previous Response.
	State any `json:"-"`

	// Params carries free-form generation parameters (temperature,
	// reasoning.effort, ...). Providers pick out what they understand.
	Params map[string]any `json:"params,omitempty"`

	// OnStreamText receives text chunks in provider order. May be nil.
	OnStreamText func(chunk string) `json:"-"`

	// OnStreamEvent receives typed streaming items on the Responses path.
	OnStreamEvent func(event StreamEvent) `json:"-"`
}

// ToolDefinition describes one callable tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// FinishReason is why the model stopped.
type FinishReason string

// Finish reasons reported by providers.
const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
)

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of one model call. ToolCalls is the canonical
// structured form; Message.ToolCalls carries the same calls transport-shaped.
type Response struct {
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`

	// UpdatedState is opaque provider continuation state for the next call.
	UpdatedState any `json:"-"`
}

// Stream event types for the Responses path.
const (
	StreamEventResponseCreated = "response.created"
	StreamEventOutputTextDelta = "response.output_text.delta"
	StreamEventOutputTextDone  = "response.output_text.done"
	StreamEventCompleted       = "response.completed"
)

// StreamEvent is one typed item of a Responses event stream.
type StreamEvent struct {
	Type string `json:"type"`
	// Text is the delta for output_text.delta, the full text for
	// output_text.done.
	Text string `json:"text,omitempty"`
	// Raw is the untouched provider payload, if any.
	Raw any `json:"raw,omitempty"`
}
