//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package google provides a Gemini provider on google.golang.org/genai.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/gambit-run/gambit/model"
)

// Environment variables honored by New. GOOGLE_API_KEY wins over
// GEMINI_API_KEY when both are set.
const (
	EnvAPIKey       = "GOOGLE_API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
)

// Provider implements model.Provider for Gemini models.
type Provider struct {
	client *genai.Client
	apiKey string
}

// Option configures a Google provider.
type Option func(*config)

type config struct {
	APIKey string
}

// WithAPIKey sets the API key, overriding the environment.
func WithAPIKey(key string) Option {
	return func(c *config) { c.APIKey = key }
}

// APIKeyFromEnv returns the configured Gemini API key, if any.
func APIKeyFromEnv() string {
	if key := os.Getenv(EnvAPIKey); key != "" {
		return key
	}
	return os.Getenv(EnvGeminiAPIKey)
}

// New creates a Gemini provider.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	cfg := config{APIKey: APIKeyFromEnv()}
	for _, opt := range opts {
		opt(&cfg)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &Provider{client: client, apiKey: cfg.APIKey}, nil
}

// Info implements model.Provider.
func (p *Provider) Info() model.Info { return model.Info{Name: "google"} }

// CheckModel implements model.AvailabilityProbe.
func (p *Provider) CheckModel(_ context.Context, name string) error {
	if p.apiKey == "" {
		return fmt.Errorf("google: %s/%s is not set (model %q)", EnvAPIKey, EnvGeminiAPIKey, name)
	}
	return nil
}

// Chat implements model.Provider.
func (p *Provider) Chat(ctx context.Context, req *model.Request) (*model.Response, error) {
	if req == nil {
		return nil, errors.New("google: request cannot be nil")
	}
	contents, systemInstruction := buildContents(req.Messages)
	genConfig := buildConfig(systemInstruction, req.Tools, req.Params)

	if req.Stream {
		return p.streamChat(ctx, req, contents, genConfig)
	}
	rsp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, genConfig)
	if err != nil {
		return nil, fmt.Errorf("google: generation failed: %w", err)
	}
	return parseResponse(rsp)
}

func (p *Provider) streamChat(
	ctx context.Context,
	req *model.Request,
	contents []*genai.Content,
	genConfig *genai.GenerateContentConfig,
) (*model.Response, error) {
	out := &model.Response{FinishReason: model.FinishStop}
	out.Message = model.NewAssistantMessage("")
	callIndex := 0
	for chunk, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, genConfig) {
		if err != nil {
			return nil, fmt.Errorf("google: stream failed: %w", err)
		}
		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}
		candidate := chunk.Candidates[0]
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				out.Message.Content += part.Text
				if req.OnStreamText != nil {
					req.OnStreamText(part.Text)
				}
			}
			if part.FunctionCall != nil {
				appendCall(out, part.FunctionCall, callIndex)
				callIndex++
			}
		}
		if candidate.FinishReason == genai.FinishReasonMaxTokens {
			out.FinishReason = model.FinishLength
		}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = model.FinishToolCalls
	}
	return out, nil
}

func parseResponse(rsp *genai.GenerateContentResponse) (*model.Response, error) {
	if len(rsp.Candidates) == 0 || rsp.Candidates[0].Content == nil {
		return nil, errors.New("google: empty response")
	}
	candidate := rsp.Candidates[0]
	out := &model.Response{
		Message:      model.NewAssistantMessage(""),
		FinishReason: model.FinishStop,
	}
	if candidate.FinishReason == genai.FinishReasonMaxTokens {
		out.FinishReason = model.FinishLength
	}
	callIndex := 0
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.Message.Content += part.Text
		}
		if part.FunctionCall != nil {
			appendCall(out, part.FunctionCall, callIndex)
			callIndex++
		}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = model.FinishToolCalls
	}
	if rsp.UsageMetadata != nil {
		out.Usage = &model.Usage{
			PromptTokens:     int(rsp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(rsp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(rsp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func appendCall(out *model.Response, call *genai.FunctionCall, index int) {
	args, err := json.Marshal(call.Args)
	if err != nil {
		args = []byte("{}")
	}
	id := call.ID
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
	}
	toolCall := model.ToolCall{ID: id, Name: call.Name, Arguments: string(args)}
	out.ToolCalls = append(out.ToolCalls, toolCall)
	out.Message.ToolCalls = append(out.Message.ToolCalls, toolCall)
}

// buildContents converts the conversation to genai contents, extracting the
// system prompt into a system instruction.
func buildContents(messages []model.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: msg.Content}}}
		case model.RoleAssistant:
			parts := []*genai.Part{}
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: args},
				})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case model.RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.Name,
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}
	return contents, systemInstruction
}

func buildConfig(
	systemInstruction *genai.Content,
	tools []model.ToolDefinition,
	params map[string]any,
) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{SystemInstruction: systemInstruction}
	for key, value := range params {
		switch key {
		case "temperature":
			if f, ok := value.(float64); ok {
				cfg.Temperature = genai.Ptr(float32(f))
			}
		case "top_p":
			if f, ok := value.(float64); ok {
				cfg.TopP = genai.Ptr(float32(f))
			}
		case "max_tokens":
			if f, ok := value.(float64); ok {
				cfg.MaxOutputTokens = int32(f)
			}
		}
	}
	for _, def := range tools {
		cfg.Tools = append(cfg.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  toGenaiSchema(def.Parameters),
			}},
		})
	}
	return cfg
}

// toGenaiSchema converts a JSON-schema map to the genai schema type.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}
