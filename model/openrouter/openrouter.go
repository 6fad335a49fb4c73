//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package openrouter provides an OpenAI-compatible chat provider backed by
// the OpenRouter API.
package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/gambit-run/gambit/log"
	"github.com/gambit-run/gambit/model"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Environment variables honored by New.
const (
	EnvAPIKey  = "OPENROUTER_API_KEY"
	EnvBaseURL = "OPENROUTER_BASE_URL"
)

// Provider implements model.Provider against an OpenAI-compatible endpoint.
type Provider struct {
	client openai.Client
	apiKey string
}

// options contains configuration options for creating a Provider.
type options struct {
	APIKey        string
	BaseURL       string
	OpenAIOptions []openaiopt.RequestOption
}

// Option is a function that configures an OpenRouter provider.
type Option func(*options)

// WithAPIKey sets the API key, overriding OPENROUTER_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *options) { o.APIKey = key }
}

// WithBaseURL sets the base URL, overriding OPENROUTER_BASE_URL.
func WithBaseURL(url string) Option {
	return func(o *options) { o.BaseURL = url }
}

// WithOpenAIOptions passes extra request options to the underlying client.
func WithOpenAIOptions(opts ...openaiopt.RequestOption) Option {
	return func(o *options) { o.OpenAIOptions = append(o.OpenAIOptions, opts...) }
}

// New creates an OpenRouter provider. Credentials default to the
// OPENROUTER_API_KEY and OPENROUTER_BASE_URL environment variables.
func New(opts ...Option) *Provider {
	o := &options{
		APIKey:  os.Getenv(EnvAPIKey),
		BaseURL: os.Getenv(EnvBaseURL),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	clientOpts := []openaiopt.RequestOption{openaiopt.WithBaseURL(o.BaseURL)}
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	clientOpts = append(clientOpts, o.OpenAIOptions...)
	return &Provider{client: openai.NewClient(clientOpts...), apiKey: o.APIKey}
}

// Info implements model.Provider.
func (p *Provider) Info() model.Info { return model.Info{Name: "openrouter"} }

// CheckModel implements model.AvailabilityProbe. OpenRouter needs an API key;
// model ids themselves are validated server-side.
func (p *Provider) CheckModel(_ context.Context, name string) error {
	if p.apiKey == "" {
		return fmt.Errorf("openrouter: %s is not set (model %q)", EnvAPIKey, name)
	}
	return nil
}

// Chat implements model.Provider.
func (p *Provider) Chat(ctx context.Context, req *model.Request) (*model.Response, error) {
	if req == nil {
		return nil, errors.New("openrouter: request cannot be nil")
	}
	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: convertMessages(req.Messages),
		Tools:    convertTools(req.Tools),
	}
	applyParams(&chatRequest, req.Params)
	if req.Stream {
		return p.streamChat(ctx, chatRequest, req.OnStreamText)
	}
	completion, err := p.client.Chat.Completions.New(ctx, chatRequest)
	if err != nil {
		return nil, fmt.Errorf("openrouter: chat completion failed: %w", err)
	}
	return fromCompletion(completion)
}

// Responses implements model.ResponsesProvider by synthesizing typed stream
// events from the chat stream.
func (p *Provider) Responses(ctx context.Context, req *model.Request) (*model.Response, error) {
	if req == nil {
		return nil, errors.New("openrouter: request cannot be nil")
	}
	emit := req.OnStreamEvent
	if emit == nil {
		emit = func(model.StreamEvent) {}
	}
	emit(model.StreamEvent{Type: model.StreamEventResponseCreated})
	streamed := *req
	streamed.Stream = true
	prev := req.OnStreamText
	var full string
	streamed.OnStreamText = func(chunk string) {
		full += chunk
		emit(model.StreamEvent{Type: model.StreamEventOutputTextDelta, Text: chunk})
		if prev != nil {
			prev(chunk)
		}
	}
	rsp, err := p.Chat(ctx, &streamed)
	if err != nil {
		return nil, err
	}
	emit(model.StreamEvent{Type: model.StreamEventOutputTextDone, Text: full})
	emit(model.StreamEvent{Type: model.StreamEventCompleted, Raw: rsp})
	return rsp, nil
}

func (p *Provider) streamChat(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	onStreamText func(string),
) (*model.Response, error) {
	chatRequest.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, chatRequest)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" && onStreamText != nil {
			onStreamText(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openrouter: stream failed: %w", err)
	}
	return fromCompletion(&acc.ChatCompletion)
}

func fromCompletion(completion *openai.ChatCompletion) (*model.Response, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return nil, errors.New("openrouter: empty completion")
	}
	choice := completion.Choices[0]
	rsp := &model.Response{
		Message:      model.NewAssistantMessage(choice.Message.Content),
		FinishReason: mapFinishReason(choice.FinishReason),
	}
	for _, call := range choice.Message.ToolCalls {
		// The accumulator can leave a zero-value slot at index 0.
		if call.ID == "" && call.Function.Name == "" {
			continue
		}
		args := call.Function.Arguments
		if args == "" {
			args = "{}"
		}
		toolCall := model.ToolCall{ID: call.ID, Name: call.Function.Name, Arguments: args}
		rsp.ToolCalls = append(rsp.ToolCalls, toolCall)
		rsp.Message.ToolCalls = append(rsp.Message.ToolCalls, toolCall)
	}
	if len(rsp.ToolCalls) > 0 {
		rsp.FinishReason = model.FinishToolCalls
	}
	if completion.Usage.TotalTokens > 0 {
		rsp.Usage = &model.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		}
	}
	return rsp, nil
}

func mapFinishReason(reason string) model.FinishReason {
	switch reason {
	case "tool_calls", "function_call":
		return model.FinishToolCalls
	case "length":
		return model.FinishLength
	default:
		return model.FinishStop
	}
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		case model.RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: convertToolCalls(msg.ToolCalls),
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case model.RoleTool:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
					ToolCallID: msg.ToolCallID,
				},
			})
		default: // user and unknown roles
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		}
	}
	return result
}

func convertToolCalls(toolCalls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, call := range toolCalls {
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return result
}

func convertTools(tools []model.ToolDefinition) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, def := range tools {
		raw, err := json.Marshal(def.Parameters)
		if err != nil {
			log.Errorf("openrouter: failed to marshal tool parameters for %s: %v", def.Name, err)
			continue
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(raw, &parameters); err != nil {
			log.Errorf("openrouter: failed to unmarshal tool parameters for %s: %v", def.Name, err)
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}

func applyParams(chatRequest *openai.ChatCompletionNewParams, params map[string]any) {
	for key, value := range params {
		switch key {
		case "temperature":
			if f, ok := toFloat(value); ok {
				chatRequest.Temperature = openai.Float(f)
			}
		case "top_p":
			if f, ok := toFloat(value); ok {
				chatRequest.TopP = openai.Float(f)
			}
		case "max_tokens":
			if f, ok := toFloat(value); ok {
				chatRequest.MaxCompletionTokens = openai.Int(int64(f))
			}
		case "reasoning":
			if m, ok := value.(map[string]any); ok {
				if effort, ok := m["effort"].(string); ok {
					chatRequest.ReasoningEffort = shared.ReasoningEffort(effort)
				}
			}
		}
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
