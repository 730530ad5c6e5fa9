// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Mode controls how output is rendered.
type Mode string

const (
	// ModeRich uses colors, icons and boxes. Dialogs are interactive.
	ModeRich Mode = "rich"

	// ModePlain prints unstyled prefixed lines for pipes and logs.
	ModePlain Mode = "plain"

	// ModeJSON is like ModePlain; commands emit structured results instead
	// of prose where they can.
	ModeJSON Mode = "json"
)

// EnvMode overrides mode detection.
const EnvMode = "ANTIMONY_OUTPUT"

var (
	currentMode = ModeRich
	modeMu      sync.RWMutex
)

// GetMode returns the process-wide output mode.
func GetMode() Mode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return currentMode
}

// SetMode sets the process-wide output mode.
func SetMode(m Mode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	currentMode = m
}

// ParseMode parses a mode name, falling back to ModeRich.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePlain:
		return ModePlain
	case ModeJSON:
		return ModeJSON
	default:
		return ModeRich
	}
}

// DetectMode picks ModeRich for terminals and ModePlain otherwise.
// EnvMode wins when set.
func DetectMode(w io.Writer) Mode {
	if env := os.Getenv(EnvMode); env != "" {
		return ParseMode(env)
	}
	if IsTerminal(w) {
		return ModeRich
	}
	return ModePlain
}

// IsTerminal reports whether v is a file attached to a terminal.
func IsTerminal(v interface{}) bool {
	f, ok := v.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
