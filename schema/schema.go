//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package schema provides structured validation and JSON-schema projection
// for deck inputs, outputs and tool parameters.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Schema represents the structure of JSON Schema used for defining deck
// inputs, outputs and tool parameters. It follows the JSON Schema standard,
// supporting various types, properties, and validation rules.
type Schema struct {
	// Type specifies the data type (e.g., "object", "array", "string",
	// "number", "integer", "boolean"). Empty type matches any value.
	Type        string   `json:"type,omitempty"`
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required,omitempty"`
	// Properties of the arguments, each with its own schema.
	Properties map[string]*Schema `json:"properties,omitempty"`
	// For array types, defines the schema of items in the array.
	Items *Schema `json:"items,omitempty"`
	// Enum restricts the value to one of the listed literals.
	Enum []any `json:"enum,omitempty"`
	// AdditionalProperties controls whether properties not defined in
	// Properties are allowed.
	AdditionalProperties any `json:"additionalProperties,omitempty"`
}

// Common scalar schemas.
func String() *Schema  { return &Schema{Type: "string"} }
func Number() *Schema  { return &Schema{Type: "number"} }
func Boolean() *Schema { return &Schema{Type: "boolean"} }
func Any() *Schema     { return &Schema{} }

// Object builds an object schema from the given properties. Property order
// does not matter; required names are sorted for stable output.
func Object(properties map[string]*Schema, required ...string) *Schema {
	sort.Strings(required)
	return &Schema{Type: "object", Properties: properties, Required: required}
}

// IsString reports whether the schema accepts exactly string values.
func (s *Schema) IsString() bool { return s != nil && s.Type == "string" }

// ToParameterShape projects the schema to a JSON-schema-compatible map
// suitable as the `parameters` field of a tool definition. A nil or empty
// schema projects to an open object so popular model APIs accept it.
func ToParameterShape(s *Schema) map[string]any {
	if s == nil || (s.Type == "" && len(s.Properties) == 0) {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var shape map[string]any
	if err := json.Unmarshal(raw, &shape); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	// Non-object schemas are wrapped so the tool parameter surface is always
	// an object, which is what chat-completion APIs require.
	if s.Type != "object" {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{"value": shape},
			"required":   []any{"value"},
		}
	}
	if _, ok := shape["properties"]; !ok {
		shape["properties"] = map[string]any{}
	}
	return shape
}

// AssertIsSchema checks that x is structurally a schema definition and
// decodes it. Accepts *Schema, map[string]any and JSON-encoded bytes.
func AssertIsSchema(x any, label string) (*Schema, error) {
	switch v := x.(type) {
	case nil:
		return nil, fmt.Errorf("%s: schema is nil", label)
	case *Schema:
		return v, nil
	case Schema:
		return &v, nil
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: not a schema: %w", label, err)
		}
		var s Schema
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%s: not a schema: %w", label, err)
		}
		return &s, nil
	case []byte:
		var s Schema
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("%s: not a schema: %w", label, err)
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("%s: not a schema: unsupported type %T", label, x)
	}
}

// Merge unions two object schemas by shallow field union. Fields defined in
// both sides are invalid. A nil side passes the other side through.
func Merge(a, b *Schema) (*Schema, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	if a.Type != "object" || b.Type != "object" {
		return nil, fmt.Errorf("cannot merge non-object schemas (%q and %q)", a.Type, b.Type)
	}
	merged := &Schema{Type: "object", Properties: map[string]*Schema{}}
	for name, prop := range a.Properties {
		merged.Properties[name] = prop
	}
	for name, prop := range b.Properties {
		if _, exists := merged.Properties[name]; exists {
			return nil, fmt.Errorf("conflicting schema field %q", name)
		}
		merged.Properties[name] = prop
	}
	seen := map[string]bool{}
	for _, req := range append(append([]string{}, a.Required...), b.Required...) {
		if !seen[req] {
			seen[req] = true
			merged.Required = append(merged.Required, req)
		}
	}
	sort.Strings(merged.Required)
	if a.Description != "" {
		merged.Description = a.Description
	} else {
		merged.Description = b.Description
	}
	return merged, nil
}
