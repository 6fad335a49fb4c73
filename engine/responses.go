//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package engine

import (
	"context"
	"os"

	"github.com/gambit-run/gambit/model"
	"github.com/gambit-run/gambit/trace"
)

// Environment toggles selecting the event-stream model path.
const (
	// EnvResponsesMode set to "0" forces plain chat everywhere.
	EnvResponsesMode = "GAMBIT_RESPONSES_MODE"
	// EnvChatFallback set to "1" forces plain chat everywhere.
	EnvChatFallback = "GAMBIT_CHAT_FALLBACK"
	// EnvOpenRouterResponses set to "1" opts openrouter into the event
	// stream. Its stream is synthesized from chat, so it stays opt-in.
	EnvOpenRouterResponses = "GAMBIT_OPENROUTER_RESPONSES"
)

// callModel routes one model call through the Responses event stream when
// the provider offers one and the environment does not force chat. Typed
// stream items surface as model.stream.event trace events.
func (r *run) callModel(ctx context.Context, prov model.Provider, req *model.Request) (*model.Response, error) {
	rp, ok := prov.(model.ResponsesProvider)
	if !ok || !responsesEnabled(prov.Info().Name) {
		return prov.Chat(ctx, req)
	}
	req.OnStreamEvent = func(item model.StreamEvent) {
		r.idle.touch()
		evt := trace.New(trace.EventModelStreamEvent, r.runID,
			trace.WithCallIDs(r.callID, r.in.ParentActionCallID), trace.WithDeck(r.deck.Path))
		evt.StreamEvent = item
		r.emit(evt)
	}
	return rp.Responses(ctx, req)
}

func responsesEnabled(providerName string) bool {
	if os.Getenv(EnvResponsesMode) == "0" || os.Getenv(EnvChatFallback) == "1" {
		return false
	}
	if providerName == "openrouter" {
		return os.Getenv(EnvOpenRouterResponses) == "1"
	}
	return true
}
