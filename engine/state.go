//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package engine

import (
	"github.com/gambit-run/gambit/artifact"
	"github.com/gambit-run/gambit/model"
)

// sanitizeMessages strips empty tool_calls arrays. An empty-content
// assistant message stays valid as long as it carries at least one call.
func sanitizeMessages(messages []model.Message) []model.Message {
	out := make([]model.Message, len(messages))
	copy(out, messages)
	for i := range out {
		if len(out[i].ToolCalls) == 0 {
			out[i].ToolCalls = nil
		}
	}
	return out
}

// appendMessages adds to the conversation. Timer callbacks append notes
// concurrently with the turn loop, so access goes through the mutex.
func (r *run) appendMessages(messages ...model.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, messages...)
	r.mu.Unlock()
}

// snapshotMessages returns a copy safe to hand to providers and callbacks.
func (r *run) snapshotMessages() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// persistState delivers an immutable state snapshot to the caller. The
// engine never writes to disk itself.
func (r *run) persistState() {
	if r.in.OnStateUpdate == nil {
		return
	}
	meta := make(map[string]any, len(r.meta))
	for k, v := range r.meta {
		meta[k] = v
	}
	r.in.OnStateUpdate(&artifact.State{
		RunID:    r.runID,
		Messages: sanitizeMessages(r.snapshotMessages()),
		Meta:     meta,
	})
}
