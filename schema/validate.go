//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Error is a validation failure. It carries the path of the offending field
// so callers can surface actionable messages.
type Error struct {
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "schema: " + e.Message
	}
	return "schema: " + e.Path + ": " + e.Message
}

func fail(path, format string, args ...any) error {
	return &Error{Path: path, Message: fmt.Sprintf(format, args...)}
}

// Validate checks value against s and returns the canonicalized value:
// numbers normalize to float64 (or int64 for integer schemas), structs and
// typed maps normalize to map[string]any, slices to []any. A nil schema
// accepts anything.
func Validate(s *Schema, value any) (any, error) {
	return validate(s, value, "")
}

func validate(s *Schema, value any, path string) (any, error) {
	if s == nil {
		return value, nil
	}
	if len(s.Enum) > 0 {
		for _, allowed := range s.Enum {
			if reflect.DeepEqual(allowed, value) {
				return value, nil
			}
		}
		return nil, fail(path, "value %v not in enum", value)
	}
	switch s.Type {
	case "":
		return value, nil
	case "string":
		str, ok := value.(string)
		if !ok {
			return nil, fail(path, "expected string, got %T", value)
		}
		return str, nil
	case "boolean":
		b, ok := value.(bool)
		if !ok {
			return nil, fail(path, "expected boolean, got %T", value)
		}
		return b, nil
	case "number":
		f, ok := toFloat(value)
		if !ok {
			return nil, fail(path, "expected number, got %T", value)
		}
		return f, nil
	case "integer":
		f, ok := toFloat(value)
		if !ok || f != math.Trunc(f) {
			return nil, fail(path, "expected integer, got %v", value)
		}
		return int64(f), nil
	case "array":
		items, ok := toSlice(value)
		if !ok {
			return nil, fail(path, "expected array, got %T", value)
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := validate(s.Items, item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case "object":
		obj, ok := toObject(value)
		if !ok {
			return nil, fail(path, "expected object, got %T", value)
		}
		out := map[string]any{}
		for name, prop := range s.Properties {
			fieldPath := joinPath(path, name)
			v, present := obj[name]
			if !present {
				if contains(s.Required, name) {
					return nil, fail(fieldPath, "missing required field")
				}
				continue
			}
			canonical, err := validate(prop, v, fieldPath)
			if err != nil {
				return nil, err
			}
			out[name] = canonical
		}
		// Required fields may be absent from Properties when fragments only
		// declared the requirement.
		for _, name := range s.Required {
			if _, declared := s.Properties[name]; declared {
				continue
			}
			if _, present := obj[name]; !present {
				return nil, fail(joinPath(path, name), "missing required field")
			}
		}
		closed := false
		if b, ok := s.AdditionalProperties.(bool); ok && !b {
			closed = true
		}
		for name, v := range obj {
			if _, declared := s.Properties[name]; declared {
				continue
			}
			if closed {
				return nil, fail(joinPath(path, name), "unexpected field")
			}
			out[name] = v
		}
		return out, nil
	default:
		return nil, fail(path, "unsupported schema type %q", s.Type)
	}
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toSlice(value any) ([]any, bool) {
	if items, ok := value.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// toObject coerces maps and structs to map[string]any via a JSON round trip.
// Strings are not coerced; a string against an object schema is a failure
// (root string fallback is handled by the engine).
func toObject(value any) (map[string]any, bool) {
	if obj, ok := value.(map[string]any); ok {
		return obj, true
	}
	switch value.(type) {
	case string, bool, float64, int, int64, nil, []any:
		return nil, false
	}
	raw, err := json.Marshal(value)
	if err != nil || !strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}
