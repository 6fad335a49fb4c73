//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package deck

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"github.com/gambit-run/gambit/schema"
)

// The markdown source: a deck or card is a markdown file with TOML front
// matter between +++ fences. The body is the prompt; inline embed markers
// (image syntax pointing at embedded cards) are stripped from the rendered
// prompt since only the embedded card's own body contributes.

const frontMatterFence = "+++"

// frontMatter is the TOML surface of a markdown deck file.
type frontMatter struct {
	Label          string          `toml:"label"`
	InputSchema    any             `toml:"inputSchema"`
	OutputSchema   any             `toml:"outputSchema"`
	Embeds         []string        `toml:"embeds"`
	Actions        []Action        `toml:"actions"`
	ModelParams    map[string]any  `toml:"modelParams"`
	Handlers       *Handlers       `toml:"handlers"`
	SyntheticTools *SyntheticTools `toml:"syntheticTools"`
	Guardrails     *Guardrails     `toml:"guardrails"`
}

// parseMarkdown parses a markdown deck file into a Definition.
func parseMarkdown(path string, raw []byte) (*Definition, error) {
	matter, body, err := splitFrontMatter(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var fm frontMatter
	if matter != "" {
		if err := toml.Unmarshal([]byte(matter), &fm); err != nil {
			return nil, fmt.Errorf("%s: malformed front matter: %w", path, err)
		}
	}
	def := &Definition{
		Path:    path,
		Label:   fm.Label,
		Body:    stripEmbedMarkers(body),
		Embeds:  fm.Embeds,
		Actions: fm.Actions,
	}
	if fm.Handlers != nil && !fm.Handlers.Empty() {
		def.Handlers = fm.Handlers
	}
	if fm.SyntheticTools != nil {
		def.SyntheticTools = *fm.SyntheticTools
	}
	def.Guardrails = fm.Guardrails
	if def.InputSchema, err = resolveSchemaRef(fm.InputSchema, path, "inputSchema"); err != nil {
		return nil, err
	}
	if def.OutputSchema, err = resolveSchemaRef(fm.OutputSchema, path, "outputSchema"); err != nil {
		return nil, err
	}
	if def.ModelParams, err = parseModelParams(fm.ModelParams, path); err != nil {
		return nil, err
	}
	return def, nil
}

// splitFrontMatter extracts the +++ fenced TOML head and the body.
func splitFrontMatter(content string) (matter, body string, err error) {
	trimmed := strings.TrimLeft(content, "\ufeff")
	if !strings.HasPrefix(trimmed, frontMatterFence) {
		return "", content, nil
	}
	rest := strings.TrimPrefix(trimmed, frontMatterFence)
	rest = strings.TrimPrefix(rest, "\r\n")
	rest = strings.TrimPrefix(rest, "\n")
	idx := strings.Index(rest, "\n"+frontMatterFence)
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated front matter")
	}
	matter = rest[:idx]
	body = rest[idx+len("\n"+frontMatterFence):]
	body = strings.TrimPrefix(body, "\r\n")
	body = strings.TrimPrefix(body, "\n")
	return matter, body, nil
}

// resolveSchemaRef resolves a front-matter schema value: an inline table is
// decoded directly, a string is resolved through the schema registry and the
// gambit:// asset tree.
func resolveSchemaRef(value any, path, field string) (*schema.Schema, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if s, ok := registeredSchema(v); ok {
			return s, nil
		}
		if isAssetPath(v) {
			s, err := loadAssetSchema(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", path, field, err)
			}
			return s, nil
		}
		return nil, fmt.Errorf("%s: %s: unknown schema reference %q", path, field, v)
	default:
		s, err := schema.AssertIsSchema(v, field)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return s, nil
	}
}

// parseModelParams splits the modelParams table into the candidate model
// list and the free-form parameter map.
func parseModelParams(table map[string]any, path string) (*ModelParams, error) {
	if len(table) == 0 {
		return nil, nil
	}
	mp := &ModelParams{Params: map[string]any{}}
	for key, value := range table {
		if key != "model" {
			mp.Params[key] = value
			continue
		}
		switch v := value.(type) {
		case string:
			mp.Models = []string{v}
		case []any:
			for _, item := range v {
				id, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%s: modelParams.model entries must be strings, got %T", path, item)
				}
				mp.Models = append(mp.Models, id)
			}
		default:
			return nil, fmt.Errorf("%s: modelParams.model must be a string or list, got %T", path, value)
		}
	}
	return mp, nil
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// stripEmbedMarkers removes inline embed markers (markdown image syntax)
// from the body. The goldmark AST identifies the marker destinations; the
// textual markers are then cut from the source.
func stripEmbedMarkers(body string) string {
	src := []byte(body)
	doc := goldmark.New().Parser().Parse(gmtext.NewReader(src))
	var destinations []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if img, ok := n.(*ast.Image); ok {
			destinations = append(destinations, string(img.Destination))
		}
		return ast.WalkContinue, nil
	})
	out := body
	for _, dest := range destinations {
		marker := regexp.MustCompile(`!\[[^\]]*\]\(` + regexp.QuoteMeta(dest) + `\)[ \t]*\n?`)
		out = marker.ReplaceAllString(out, "")
	}
	out = blankRuns.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out) + "\n"
}
