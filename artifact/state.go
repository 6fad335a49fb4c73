//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package artifact

import "github.com/gambit-run/gambit/model"

// Meta keys the store maintains on every snapshot.
const (
	MetaSessionID    = "sessionId"
	MetaSessionDir   = "sessionDir"
	MetaStatePath    = "sessionStatePath"
	MetaEventsPath   = "sessionEventsPath"
	MetaLastOffset   = "lastAppliedOffset"
	MetaLastEventSeq = "lastAppliedEventSeq"
)

// State is the saved run state: the authoritative conversation plus session
// linkage meta. Snapshots exclude trace history; traces live in the event
// log.
type State struct {
	RunID    string          `json:"runId"`
	Messages []model.Message `json:"messages"`
	Meta     map[string]any  `json:"meta,omitempty"`
}

// Clone deep-copies the state so callers can hold an immutable snapshot.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := &State{RunID: s.RunID}
	clone.Messages = make([]model.Message, len(s.Messages))
	copy(clone.Messages, s.Messages)
	if s.Meta != nil {
		clone.Meta = make(map[string]any, len(s.Meta))
		for k, v := range s.Meta {
			clone.Meta[k] = v
		}
	}
	return clone
}
