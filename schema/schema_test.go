//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateScalars(t *testing.T) {
	out, err := Validate(String(), "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", out)

	_, err = Validate(String(), 7)
	require.Error(t, err)

	out, err = Validate(Number(), 7)
	require.NoError(t, err)
	require.Equal(t, float64(7), out)

	out, err = Validate(Boolean(), true)
	require.NoError(t, err)
	require.Equal(t, true, out)

	out, err = Validate(Any(), map[string]any{"free": "form"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"free": "form"}, out)
}

func TestValidateObjectRequiredAndPath(t *testing.T) {
	s := Object(map[string]*Schema{
		"name": String(),
		"age":  Number(),
	}, "name")

	out, err := Validate(s, map[string]any{"name": "bob", "age": 3})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "bob", "age": float64(3)}, out)

	_, err = Validate(s, map[string]any{"age": 3})
	require.Error(t, err)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "name", serr.Path)
	require.Contains(t, err.Error(), "missing required field")
}

func TestValidateNestedPath(t *testing.T) {
	s := Object(map[string]*Schema{
		"user": Object(map[string]*Schema{
			"email": String(),
		}, "email"),
	}, "user")

	_, err := Validate(s, map[string]any{"user": map[string]any{"email": 5}})
	var serr *Error
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "user.email", serr.Path)
}

func TestValidateArray(t *testing.T) {
	s := &Schema{Type: "array", Items: String()}
	out, err := Validate(s, []any{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b"}, out)

	_, err = Validate(s, []any{"a", 1})
	require.Error(t, err)
}

func TestValidateStructCoercion(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	s := Object(map[string]*Schema{"name": String()}, "name")
	out, err := Validate(s, payload{Name: "x"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "x"}, out)
}

func TestValidateStringAgainstObjectFails(t *testing.T) {
	s := Object(map[string]*Schema{"name": String()}, "name")
	_, err := Validate(s, "not an object")
	require.Error(t, err)
}

func TestValidateClosedObject(t *testing.T) {
	s := Object(map[string]*Schema{"name": String()})
	s.AdditionalProperties = false
	_, err := Validate(s, map[string]any{"name": "x", "extra": 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected field")
}

func TestValidateEnum(t *testing.T) {
	s := &Schema{Enum: []any{"red", "green"}}
	out, err := Validate(s, "red")
	require.NoError(t, err)
	require.Equal(t, "red", out)

	_, err = Validate(s, "blue")
	require.Error(t, err)
}

func TestToParameterShapeObject(t *testing.T) {
	s := Object(map[string]*Schema{"q": String()}, "q")
	shape := ToParameterShape(s)
	require.Equal(t, "object", shape["type"])
	props := shape["properties"].(map[string]any)
	require.Contains(t, props, "q")
}

func TestToParameterShapeWrapsScalars(t *testing.T) {
	shape := ToParameterShape(String())
	require.Equal(t, "object", shape["type"])
	props := shape["properties"].(map[string]any)
	value := props["value"].(map[string]any)
	require.Equal(t, "string", value["type"])
	require.Equal(t, []any{"value"}, shape["required"])
}

func TestToParameterShapeNil(t *testing.T) {
	shape := ToParameterShape(nil)
	require.Equal(t, "object", shape["type"])
	require.Empty(t, shape["properties"])
}

func TestMergeUnion(t *testing.T) {
	a := Object(map[string]*Schema{"x": String()}, "x")
	b := Object(map[string]*Schema{"y": Number()}, "y")
	merged, err := Merge(a, b)
	require.NoError(t, err)
	require.Len(t, merged.Properties, 2)
	require.Equal(t, []string{"x", "y"}, merged.Required)
}

func TestMergeConflictFails(t *testing.T) {
	a := Object(map[string]*Schema{"x": String()})
	b := Object(map[string]*Schema{"x": Number()})
	_, err := Merge(a, b)
	require.Error(t, err)
	require.Contains(t, err.Error(), `conflicting schema field "x"`)
}

func TestMergeNilPassthrough(t *testing.T) {
	a := Object(map[string]*Schema{"x": String()})
	merged, err := Merge(a, nil)
	require.NoError(t, err)
	require.Same(t, a, merged)

	merged, err = Merge(nil, a)
	require.NoError(t, err)
	require.Same(t, a, merged)
}

func TestAssertIsSchema(t *testing.T) {
	s, err := AssertIsSchema(map[string]any{"type": "object", "properties": map[string]any{"a": map[string]any{"type": "string"}}}, "inputSchema")
	require.NoError(t, err)
	require.Equal(t, "object", s.Type)
	require.Contains(t, s.Properties, "a")

	_, err = AssertIsSchema(42, "inputSchema")
	require.Error(t, err)
	require.Contains(t, err.Error(), "inputSchema")
}
