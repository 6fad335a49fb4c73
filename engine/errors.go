//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package engine

import "errors"

// Guardrail and provider contract violations. Message text is part of the
// public surface; callers match on it.
var (
	ErrMaxDepth        = errors.New("Max depth exceeded")
	ErrMaxPasses       = errors.New("Max passes exceeded without completing")
	ErrTimeout         = errors.New("Timeout exceeded")
	ErrNoToolCalls     = errors.New("Model requested tool_calls but provided none")
	ErrLengthNoContent = errors.New("Model stopped early (length) with no content")
	ErrRespondRequired = errors.New("Deck requires gambit_respond to finish")
)
