//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package deck

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gambit-run/gambit/schema"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMarkdownDeck(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manners.md", `+++
label = "manners"
+++
Always be polite.
`)
	writeFile(t, dir, "child.md", `+++
label = "child"
inputSchema = { type = "string" }
outputSchema = { type = "string" }
+++
Child deck.
`)
	path := writeFile(t, dir, "deck.md", `+++
label = "concierge"
embeds = ["manners.md"]

[[actions]]
name = "ask_child"
path = "child.md"
description = "ask the child"

[modelParams]
model = "openrouter/gpt-4o-mini"
temperature = 0.3
+++
You are a concierge.

![manners](manners.md)

Answer briefly.
`)

	d, err := Load(path, LoadOptions{Root: true})
	require.NoError(t, err)
	require.Equal(t, "concierge", d.Label)
	require.Equal(t, []string{"openrouter/gpt-4o-mini"}, d.ModelParams.Models)
	require.Equal(t, 0.3, d.ModelParams.Params["temperature"])

	prompt := d.SystemPrompt()
	require.Contains(t, prompt, "You are a concierge.")
	require.Contains(t, prompt, "Always be polite.")
	require.NotContains(t, prompt, "![manners]")

	action, ok := d.Actions["ask_child"]
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "child.md"), action.Path)
	require.Equal(t, "ask the child", action.Description)
}

func TestLoadStripsByteOrderMark(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "deck.md", "\ufeff+++\nlabel = \"bom\"\n+++\nBody.\n")

	d, err := Load(path, LoadOptions{Root: true})
	require.NoError(t, err)
	require.Equal(t, "bom", d.Label)
	require.Contains(t, d.SystemPrompt(), "Body.")
}

func TestCycleDetection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", `+++
embeds = ["b.md"]
+++
A.
`)
	writeFile(t, dir, "b.md", `+++
embeds = ["a.md"]
+++
B.
`)

	_, err := Load(filepath.Join(dir, "a.md"), LoadOptions{Root: true})
	require.ErrorIs(t, err, ErrCycle)
	require.Contains(t, err.Error(), "Card/embed cycle detected")
	require.Contains(t, err.Error(), " -> ")
}

func TestActionNameRules(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"lookup_hours", true},
		{"_private", true},
		{"X9", true},
		{"bad-name", false},
		{"9starts_with_digit", false},
		{"has space", false},
		{"gambit_reserved", false},
		{strings.Repeat("a", 65), false},
		{strings.Repeat("a", 64), true},
	}
	for _, tc := range cases {
		err := ValidateActionName(tc.name)
		if tc.ok {
			require.NoError(t, err, tc.name)
		} else {
			require.ErrorIs(t, err, ErrInvalidActionName, tc.name)
		}
	}
}

func TestInvalidActionNameFailsLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "deck.md", `+++
[[actions]]
name = "gambit_hijack"
path = "other.md"
+++
Body.
`)
	_, err := Load(path, LoadOptions{Root: true})
	require.ErrorIs(t, err, ErrInvalidActionName)
}

func TestCardWithHandlersRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "card.md", `+++
[handlers.onError]
path = "handler.md"
+++
Card.
`)
	path := writeFile(t, dir, "deck.md", `+++
embeds = ["card.md"]
+++
Deck.
`)
	_, err := Load(path, LoadOptions{Root: true})
	require.ErrorIs(t, err, ErrCardHandlers)
}

func TestDeckActionOverridesCard(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "target_a.md", `+++
inputSchema = { type = "string" }
outputSchema = { type = "string" }
+++
A.
`)
	writeFile(t, dir, "target_b.md", `+++
inputSchema = { type = "string" }
outputSchema = { type = "string" }
+++
B.
`)
	writeFile(t, dir, "card.md", `+++
[[actions]]
name = "go"
path = "target_a.md"
+++
Card.
`)
	path := writeFile(t, dir, "deck.md", `+++
embeds = ["card.md"]

[[actions]]
name = "go"
path = "target_b.md"
+++
Deck.
`)

	d, err := Load(path, LoadOptions{Root: true})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "target_b.md"), d.Actions["go"].Path)
	require.Equal(t, []string{"go"}, d.ActionOrder)
}

func TestSchemaFragmentsMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "card.md", `+++
[inputSchema]
type = "object"
required = ["question"]
[inputSchema.properties.question]
type = "string"
+++
Card.
`)
	path := writeFile(t, dir, "deck.md", `+++
embeds = ["card.md"]

[inputSchema]
type = "object"
required = ["locale"]
[inputSchema.properties.locale]
type = "string"
+++
Deck.
`)

	d, err := Load(path, LoadOptions{Root: true})
	require.NoError(t, err)
	require.Len(t, d.InputSchema.Properties, 2)
	require.ElementsMatch(t, []string{"question", "locale"}, d.InputSchema.Required)
}

func TestSchemaFragmentConflictFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "card.md", `+++
[inputSchema]
type = "object"
[inputSchema.properties.q]
type = "string"
+++
Card.
`)
	path := writeFile(t, dir, "deck.md", `+++
embeds = ["card.md"]

[inputSchema]
type = "object"
[inputSchema.properties.q]
type = "number"
+++
Deck.
`)

	_, err := Load(path, LoadOptions{Root: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), `conflicting schema field "q"`)
}

func TestRootDefaultsToStringSchemas(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "deck.md", "Just a body.\n")

	d, err := Load(path, LoadOptions{Root: true})
	require.NoError(t, err)
	require.True(t, d.InputSchema.IsString())
	require.True(t, d.OutputSchema.IsString())
}

func TestNonRootRequiresSchemas(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "deck.md", "Just a body.\n")

	_, err := Load(path, LoadOptions{})
	require.ErrorIs(t, err, ErrMissingSchemas)
}

func TestOnIntervalAliasBindsToBusy(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "deck.md", `+++
[handlers.onInterval]
path = "busy.md"
delayMs = 100
+++
Deck.
`)

	d, err := Load(path, LoadOptions{Root: true})
	require.NoError(t, err)
	busy := d.Handlers.Busy()
	require.NotNil(t, busy)
	require.Equal(t, filepath.Join(dir, "busy.md"), busy.Path)
	require.Equal(t, 100, *busy.DelayMs)
}

func TestOnBusyWinsOverInterval(t *testing.T) {
	h := &Handlers{
		OnBusy:     &HandlerRef{Path: "busy.md"},
		OnInterval: &HandlerRef{Path: "interval.md"},
	}
	require.Equal(t, "busy.md", h.Busy().Path)
}

func TestRegisteredSchemaReference(t *testing.T) {
	RegisterSchema("test://schemas/question", schema.Object(map[string]*schema.Schema{
		"question": schema.String(),
	}, "question"))
	t.Cleanup(func() { UnregisterSchema("test://schemas/question") })

	dir := t.TempDir()
	path := writeFile(t, dir, "deck.md", `+++
inputSchema = "test://schemas/question"
outputSchema = { type = "string" }
+++
Deck.
`)

	d, err := Load(path, LoadOptions{Root: true})
	require.NoError(t, err)
	require.Contains(t, d.InputSchema.Properties, "question")
}

func TestUnknownSchemaReferenceFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "deck.md", `+++
inputSchema = "nowhere://missing"
+++
Deck.
`)
	_, err := Load(path, LoadOptions{Root: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown schema reference")
}

func TestBuiltinAssetSchema(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "deck.md", `+++
inputSchema = { type = "string" }
outputSchema = "gambit://schemas/graders/grader_output.json"
+++
Grader.
`)

	d, err := Load(path, LoadOptions{Root: true})
	require.NoError(t, err)
	require.Equal(t, "object", d.OutputSchema.Type)
}

func TestBuiltinAssetCardEmbed(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "deck.md", `+++
embeds = ["gambit://snippets/respond.md"]
+++
Deck body.
`)

	d, err := Load(path, LoadOptions{Root: true})
	require.NoError(t, err)
	require.Len(t, d.Cards, 1)
	require.NotEmpty(t, d.Cards[0].Body)
}

func TestRegisteredDeckRoundTrip(t *testing.T) {
	Register("test://registered/basic", &Definition{
		Label:        "registered",
		Body:         "From the registry.",
		InputSchema:  schema.String(),
		OutputSchema: schema.String(),
	})
	t.Cleanup(func() { Unregister("test://registered/basic") })

	d, err := Load("test://registered/basic", LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, "registered", d.Label)
	require.Contains(t, d.SystemPrompt(), "From the registry.")
}

func TestUnknownDeckPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.md"), LoadOptions{Root: true})
	require.ErrorIs(t, err, ErrUnknownDeck)
}
