//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package engine

import "encoding/json"

// Source identifies the deck and action a tool envelope originated from.
type Source struct {
	DeckPath   string `json:"deckPath"`
	ActionName string `json:"actionName"`
}

// Envelope is the canonical tool-result wrapper the engine writes back into
// the conversation after a child deck completes (or fails, or the action is
// unknown).
type Envelope struct {
	RunID              string         `json:"runId,omitempty"`
	ActionCallID       string         `json:"actionCallId,omitempty"`
	ParentActionCallID string         `json:"parentActionCallId,omitempty"`
	Source             *Source        `json:"source,omitempty"`
	Status             int            `json:"status,omitempty"`
	Payload            any            `json:"payload,omitempty"`
	Message            string         `json:"message,omitempty"`
	Code               string         `json:"code,omitempty"`
	Meta               map[string]any `json:"meta,omitempty"`
}

// encode renders the envelope as the tool message content.
func (e Envelope) encode() string {
	b, err := json.Marshal(e)
	if err != nil {
		return `{"status":500,"message":"envelope encoding failed"}`
	}
	return string(b)
}

// Respond is the structured result of a deck that finishes through
// gambit_respond. Status, message, code and meta are taken verbatim from the
// tool call; payload is validated against the deck's output schema.
type Respond struct {
	Status  int            `json:"status,omitempty"`
	Payload any            `json:"payload,omitempty"`
	Message string         `json:"message,omitempty"`
	Code    string         `json:"code,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// normalizeResult splits a child deck's return value into envelope fields.
// A value already shaped like an envelope (a Respond, or an object carrying
// at least one of status/payload/message/code/meta) keeps its fields; any
// other value becomes the payload wholesale.
func normalizeResult(value any, defaultStatus int) (status int, payload any, message, code string, meta map[string]any) {
	status = defaultStatus
	switch v := value.(type) {
	case *Respond:
		if v == nil {
			return
		}
		if v.Status != 0 {
			status = v.Status
		}
		return status, v.Payload, v.Message, v.Code, v.Meta
	case Respond:
		if v.Status != 0 {
			status = v.Status
		}
		return status, v.Payload, v.Message, v.Code, v.Meta
	case map[string]any:
		if !hasEnvelopeKey(v) {
			break
		}
		if s, ok := toInt(v["status"]); ok {
			status = s
		}
		payload = v["payload"]
		message, _ = v["message"].(string)
		code, _ = v["code"].(string)
		meta, _ = v["meta"].(map[string]any)
		return status, payload, message, code, meta
	}
	return status, value, "", "", nil
}

var envelopeKeys = []string{"status", "payload", "message", "code", "meta"}

func hasEnvelopeKey(m map[string]any) bool {
	for _, k := range envelopeKeys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}
