//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package deck

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gambit-run/gambit/schema"
)

// Built-in assets addressable through the gambit:// scheme, e.g.
// gambit://snippets/respond.md.

//go:embed assets
var assetsFS embed.FS

const assetScheme = "gambit://"

func isAssetPath(path string) bool {
	return strings.HasPrefix(path, assetScheme)
}

func assetBytes(path string) ([]byte, error) {
	rel := strings.TrimPrefix(path, assetScheme)
	raw, err := assetsFS.ReadFile("assets/" + rel)
	if err != nil {
		return nil, fmt.Errorf("%w: no built-in asset %q", ErrUnknownDeck, path)
	}
	return raw, nil
}

func loadAssetSchema(path string) (*schema.Schema, error) {
	raw, err := assetBytes(path)
	if err != nil {
		return nil, err
	}
	var s schema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("asset %q is not a schema: %w", path, err)
	}
	return &s, nil
}
