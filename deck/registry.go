//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package deck

import (
	"fmt"
	"sync"

	"github.com/gambit-run/gambit/schema"
)

// The module source: deck and schema definitions registered from Go code.
// Registered paths are matched verbatim by the loader before any file-based
// source is consulted.

var (
	registryMu     sync.RWMutex
	deckRegistry   = map[string]*Definition{}
	schemaRegistry = map[string]*schema.Schema{}
)

// Register makes a code-defined deck or card available under path.
// Registering the same path twice panics; definitions are static.
func Register(path string, def *Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := deckRegistry[path]; exists {
		panic(fmt.Sprintf("deck: duplicate registration for %q", path))
	}
	deckRegistry[path] = def
}

// RegisterSchema makes a code-defined schema available under path, for use
// as an inputSchema/outputSchema reference in markdown front matter.
func RegisterSchema(path string, s *schema.Schema) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := schemaRegistry[path]; exists {
		panic(fmt.Sprintf("deck: duplicate schema registration for %q", path))
	}
	schemaRegistry[path] = s
}

// Unregister removes a registered deck. Intended for tests.
func Unregister(path string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(deckRegistry, path)
}

// UnregisterSchema removes a registered schema. Intended for tests.
func UnregisterSchema(path string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(schemaRegistry, path)
}

func registeredDeck(path string) (*Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	def, ok := deckRegistry[path]
	return def, ok
}

func registeredSchema(path string) (*schema.Schema, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := schemaRegistry[path]
	return s, ok
}
