//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package engine

import (
	"strings"

	"github.com/google/uuid"
)

// newID returns a short opaque identifier. Kept well under 40 characters to
// stay compatible with popular model APIs.
func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
