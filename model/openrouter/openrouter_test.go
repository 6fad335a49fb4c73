//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package openrouter

import (
	"context"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/stretchr/testify/require"

	"github.com/gambit-run/gambit/model"
)

func TestMapFinishReason(t *testing.T) {
	require.Equal(t, model.FinishToolCalls, mapFinishReason("tool_calls"))
	require.Equal(t, model.FinishToolCalls, mapFinishReason("function_call"))
	require.Equal(t, model.FinishLength, mapFinishReason("length"))
	require.Equal(t, model.FinishStop, mapFinishReason("stop"))
	require.Equal(t, model.FinishStop, mapFinishReason(""))
}

func TestConvertMessagesRoles(t *testing.T) {
	result := convertMessages([]model.Message{
		model.NewSystemMessage("sys"),
		model.NewUserMessage("hi"),
		model.NewAssistantMessage("hello"),
		model.NewToolMessage("call_1", "lookup", `{"ok":true}`),
	})
	require.Len(t, result, 4)
	require.NotNil(t, result[0].OfSystem)
	require.Equal(t, "sys", result[0].OfSystem.Content.OfString.Value)
	require.NotNil(t, result[1].OfUser)
	require.NotNil(t, result[2].OfAssistant)
	require.NotNil(t, result[3].OfTool)
	require.Equal(t, "call_1", result[3].OfTool.ToolCallID)
}

func TestConvertAssistantToolCalls(t *testing.T) {
	msg := model.NewToolCallMessage(model.ToolCall{
		ID:        "call_9",
		Name:      "lookup",
		Arguments: `{"q":"hours"}`,
	})
	result := convertMessages([]model.Message{msg})
	require.Len(t, result, 1)
	assistant := result[0].OfAssistant
	require.NotNil(t, assistant)
	require.Len(t, assistant.ToolCalls, 1)
	require.Equal(t, "call_9", assistant.ToolCalls[0].ID)
	require.Equal(t, "lookup", assistant.ToolCalls[0].Function.Name)
}

func TestConvertTools(t *testing.T) {
	result := convertTools([]model.ToolDefinition{{
		Name:        "lookup",
		Description: "look something up",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"q": map[string]any{"type": "string"}},
		},
	}})
	require.Len(t, result, 1)
	require.Equal(t, "lookup", result[0].Function.Name)
	require.Contains(t, result[0].Function.Parameters, "properties")
}

func TestFromCompletion(t *testing.T) {
	completion := &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: "tool_calls",
			Message: openai.ChatCompletionMessage{
				Content: "",
				ToolCalls: []openai.ChatCompletionMessageToolCall{
					{}, // zero-value accumulator slot
					{
						ID: "call_1",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name: "lookup",
						},
					},
				},
			},
		}},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	rsp, err := fromCompletion(completion)
	require.NoError(t, err)
	require.Equal(t, model.FinishToolCalls, rsp.FinishReason)
	require.Len(t, rsp.ToolCalls, 1)
	require.Equal(t, "call_1", rsp.ToolCalls[0].ID)
	require.Equal(t, "{}", rsp.ToolCalls[0].Arguments)
	require.Equal(t, 15, rsp.Usage.TotalTokens)
}

func TestFromCompletionEmpty(t *testing.T) {
	_, err := fromCompletion(nil)
	require.Error(t, err)

	_, err = fromCompletion(&openai.ChatCompletion{})
	require.Error(t, err)
}

func TestApplyParams(t *testing.T) {
	var req openai.ChatCompletionNewParams
	applyParams(&req, map[string]any{
		"temperature": 0.2,
		"top_p":       0.9,
		"max_tokens":  512,
		"reasoning":   map[string]any{"effort": "low"},
		"unknown":     "ignored",
	})
	require.Equal(t, 0.2, req.Temperature.Value)
	require.Equal(t, 0.9, req.TopP.Value)
	require.Equal(t, int64(512), req.MaxCompletionTokens.Value)
	require.Equal(t, "low", string(req.ReasoningEffort))
}

func TestToFloat(t *testing.T) {
	f, ok := toFloat(0.5)
	require.True(t, ok)
	require.Equal(t, 0.5, f)

	f, ok = toFloat(3)
	require.True(t, ok)
	require.Equal(t, 3.0, f)

	_, ok = toFloat("nope")
	require.False(t, ok)
}

func TestCheckModelRequiresAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	p := New()
	err := p.CheckModel(context.Background(), "gpt-4o-mini")
	require.Error(t, err)
	require.Contains(t, err.Error(), EnvAPIKey)

	require.NoError(t, New(WithAPIKey("sk-test")).CheckModel(context.Background(), "gpt-4o-mini"))
}
