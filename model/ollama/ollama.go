//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package ollama provides a provider for a local Ollama server using its
// native chat API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gambit-run/gambit/log"
	"github.com/gambit-run/gambit/model"
)

const defaultBaseURL = "http://localhost:11434"

// Environment variables honored by New.
const (
	EnvBaseURL = "OLLAMA_BASE_URL"
	EnvAPIKey  = "OLLAMA_API_KEY"
)

// Provider implements model.Provider against the Ollama HTTP API.
type Provider struct {
	baseURL   string
	apiKey    string
	allowPull bool
	client    *http.Client
}

// Option configures an Ollama provider.
type Option func(*Provider)

// WithBaseURL sets the server base URL, overriding OLLAMA_BASE_URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithAllowPull enables pull-on-demand during availability checks.
func WithAllowPull(allow bool) Option {
	return func(p *Provider) { p.allowPull = allow }
}

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.client = client }
}

// New creates an Ollama provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL: strings.TrimRight(os.Getenv(EnvBaseURL), "/"),
		apiKey:  os.Getenv(EnvAPIKey),
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Info implements model.Provider.
func (p *Provider) Info() model.Info { return model.Info{Name: "ollama"} }

// chatMessage is the wire shape of one Ollama chat message.
type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []chatMessage    `json:"messages"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Stream   bool             `json:"stream"`
	Options  map[string]any   `json:"options,omitempty"`
}

type chatResponse struct {
	Message    chatMessage `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason"`
	EvalCount  int         `json:"eval_count"`
	PromptEval int         `json:"prompt_eval_count"`
}

// Chat implements model.Provider.
func (p *Provider) Chat(ctx context.Context, req *model.Request) (*model.Response, error) {
	if req == nil {
		return nil, errors.New("ollama: request cannot be nil")
	}
	wire := chatRequest{
		Model:    req.Model,
		Messages: convertMessages(req.Messages),
		Tools:    convertTools(req.Tools),
		Stream:   req.Stream,
		Options:  generationOptions(req.Params),
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("ollama: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	httpRsp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: chat request failed: %w", err)
	}
	defer httpRsp.Body.Close()
	if httpRsp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpRsp.Body, 4096))
		return nil, fmt.Errorf("ollama: chat returned %d: %s", httpRsp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if req.Stream {
		return readStream(httpRsp.Body, req.OnStreamText)
	}
	var rsp chatResponse
	if err := json.NewDecoder(httpRsp.Body).Decode(&rsp); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	return fromWire(rsp.Message, rsp.DoneReason, rsp.PromptEval, rsp.EvalCount), nil
}

// readStream consumes the newline-delimited JSON stream, forwarding content
// deltas in arrival order.
func readStream(body io.Reader, onStreamText func(string)) (*model.Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var content strings.Builder
	var final chatResponse
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("ollama: decode stream chunk: %w", err)
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if onStreamText != nil {
				onStreamText(chunk.Message.Content)
			}
		}
		if len(chunk.Message.ToolCalls) > 0 {
			final.Message.ToolCalls = append(final.Message.ToolCalls, chunk.Message.ToolCalls...)
		}
		if chunk.Done {
			final.DoneReason = chunk.DoneReason
			final.PromptEval = chunk.PromptEval
			final.EvalCount = chunk.EvalCount
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ollama: stream read failed: %w", err)
	}
	final.Message.Role = "assistant"
	final.Message.Content = content.String()
	return fromWire(final.Message, final.DoneReason, final.PromptEval, final.EvalCount), nil
}

func fromWire(msg chatMessage, doneReason string, promptTokens, completionTokens int) *model.Response {
	rsp := &model.Response{
		Message:      model.NewAssistantMessage(msg.Content),
		FinishReason: model.FinishStop,
	}
	if doneReason == "length" {
		rsp.FinishReason = model.FinishLength
	}
	for i, call := range msg.ToolCalls {
		args := string(call.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		toolCall := model.ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      call.Function.Name,
			Arguments: args,
		}
		rsp.ToolCalls = append(rsp.ToolCalls, toolCall)
		rsp.Message.ToolCalls = append(rsp.Message.ToolCalls, toolCall)
	}
	if len(rsp.ToolCalls) > 0 {
		rsp.FinishReason = model.FinishToolCalls
	}
	if promptTokens+completionTokens > 0 {
		rsp.Usage = &model.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		}
	}
	return rsp
}

// CheckModel implements model.AvailabilityProbe. The model must be installed
// locally; when pull-on-demand is allowed a missing model is pulled instead.
func (p *Provider) CheckModel(ctx context.Context, name string) error {
	installed, err := p.listModels(ctx)
	if err != nil {
		return fmt.Errorf("ollama: server unreachable: %w", err)
	}
	for _, have := range installed {
		if have == name || strings.TrimSuffix(have, ":latest") == name {
			return nil
		}
	}
	if !p.allowPull {
		return fmt.Errorf("ollama: model %q is not installed", name)
	}
	log.Infof("ollama: pulling model %q", name)
	return p.pull(ctx, name)
}

func (p *Provider) listModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	httpRsp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpRsp.Body.Close()
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(httpRsp.Body).Decode(&tags); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (p *Provider) pull(ctx context.Context, name string) error {
	body, _ := json.Marshal(map[string]any{"name": name, "stream": false})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpRsp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("pull %q failed: %w", name, err)
	}
	defer httpRsp.Body.Close()
	if httpRsp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull %q returned %d", name, httpRsp.StatusCode)
	}
	io.Copy(io.Discard, httpRsp.Body)
	return nil
}

func convertMessages(messages []model.Message) []chatMessage {
	result := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		wire := chatMessage{Role: msg.Role.String(), Content: msg.Content}
		for _, call := range msg.ToolCalls {
			var wc wireToolCall
			wc.Function.Name = call.Name
			wc.Function.Arguments = json.RawMessage(call.Arguments)
			wire.ToolCalls = append(wire.ToolCalls, wc)
		}
		result = append(result, wire)
	}
	return result
}

func convertTools(tools []model.ToolDefinition) []map[string]any {
	var result []map[string]any
	for _, def := range tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  def.Parameters,
			},
		})
	}
	return result
}

func generationOptions(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	options := map[string]any{}
	for key, value := range params {
		switch key {
		case "temperature", "top_p", "top_k", "num_predict", "seed":
			options[key] = value
		}
	}
	if len(options) == 0 {
		return nil
	}
	return options
}
