//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gambit-run/gambit/model"
)

func TestChatNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var wire chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		require.Equal(t, "llama3", wire.Model)
		require.False(t, wire.Stream)
		require.Len(t, wire.Messages, 2)

		json.NewEncoder(w).Encode(chatResponse{
			Message:    chatMessage{Role: "assistant", Content: "hello there"},
			Done:       true,
			DoneReason: "stop",
			EvalCount:  5,
			PromptEval: 10,
		})
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	rsp, err := p.Chat(context.Background(), &model.Request{
		Model: "llama3",
		Messages: []model.Message{
			model.NewSystemMessage("be brief"),
			model.NewUserMessage("hi"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", rsp.Message.Content)
	require.Equal(t, model.FinishStop, rsp.FinishReason)
	require.Equal(t, 15, rsp.Usage.TotalTokens)
}

func TestChatStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunks := []chatResponse{
			{Message: chatMessage{Role: "assistant", Content: "hel"}},
			{Message: chatMessage{Role: "assistant", Content: "lo"}},
			{Done: true, DoneReason: "stop", EvalCount: 2, PromptEval: 3},
		}
		enc := json.NewEncoder(w)
		for _, chunk := range chunks {
			enc.Encode(chunk)
		}
	}))
	defer srv.Close()

	var mu sync.Mutex
	var deltas []string
	p := New(WithBaseURL(srv.URL))
	rsp, err := p.Chat(context.Background(), &model.Request{
		Model:    "llama3",
		Messages: []model.Message{model.NewUserMessage("hi")},
		Stream:   true,
		OnStreamText: func(chunk string) {
			mu.Lock()
			deltas = append(deltas, chunk)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.Equal(t, "hello", rsp.Message.Content)
	require.Equal(t, []string{"hel", "lo"}, deltas)
}

func TestChatToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[` +
			`{"function":{"name":"lookup","arguments":{"q":"hours"}}}]},"done":true,"done_reason":"stop"}`))
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	rsp, err := p.Chat(context.Background(), &model.Request{
		Model:    "llama3",
		Messages: []model.Message{model.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	require.Equal(t, model.FinishToolCalls, rsp.FinishReason)
	require.Len(t, rsp.ToolCalls, 1)
	require.Equal(t, "lookup", rsp.ToolCalls[0].Name)
	require.JSONEq(t, `{"q":"hours"}`, rsp.ToolCalls[0].Arguments)
}

func TestCheckModelInstalled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"llama3:latest"},{"name":"phi4:14b"}]}`))
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	require.NoError(t, p.CheckModel(context.Background(), "llama3"))
	require.NoError(t, p.CheckModel(context.Background(), "phi4:14b"))
	require.Error(t, p.CheckModel(context.Background(), "mistral"))
}

func TestCheckModelPullsWhenAllowed(t *testing.T) {
	var mu sync.Mutex
	var pulled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[]}`))
		case "/api/pull":
			mu.Lock()
			pulled = true
			mu.Unlock()
			w.Write([]byte(`{"status":"success"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL), WithAllowPull(true))
	require.NoError(t, p.CheckModel(context.Background(), "mistral"))
	mu.Lock()
	defer mu.Unlock()
	require.True(t, pulled)
}

func TestChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	_, err := p.Chat(context.Background(), &model.Request{Model: "nope"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestGenerationOptionsFilter(t *testing.T) {
	opts := generationOptions(map[string]any{
		"temperature":      0.2,
		"top_p":            0.9,
		"reasoning.effort": "high",
	})
	require.Equal(t, map[string]any{"temperature": 0.2, "top_p": 0.9}, opts)
	require.Nil(t, generationOptions(nil))
	require.Nil(t, generationOptions(map[string]any{"unknown": 1}))
}
