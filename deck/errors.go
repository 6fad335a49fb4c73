//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package deck

import "errors"

// Sentinel errors for load failures. All loader errors wrap one of these.
var (
	// ErrUnknownDeck is returned when no source can load the path.
	ErrUnknownDeck = errors.New("unknown deck")
	// ErrCycle is returned when the card/embed graph contains a cycle.
	ErrCycle = errors.New("cycle")
	// ErrInvalidActionName is returned for malformed or reserved action names.
	ErrInvalidActionName = errors.New("invalid action name")
	// ErrCardHandlers is returned when an embedded card declares handlers.
	ErrCardHandlers = errors.New("card declares handlers")
	// ErrMissingSchemas is returned when a non-root deck omits its schemas.
	ErrMissingSchemas = errors.New("missing schemas")
)
