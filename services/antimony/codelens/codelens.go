// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codelens offers a help link at the top of empty Antimony
// documents.
package codelens

import (
	"github.com/mastevb/vscode-antimony/services/antimony/host"
	"github.com/mastevb/vscode-antimony/services/antimony/lsp"
)

const (
	// HelpTitle is the lens text.
	HelpTitle = "vscode-antimony Help Page"

	// HelpURL is the usage guide the lens opens.
	HelpURL = "https://github.com/evilnose/vscode-antimony#usage"
)

// Command is what a lens runs when activated.
type Command struct {
	Title     string        `json:"title"`
	Command   string        `json:"command"`
	Arguments []interface{} `json:"arguments,omitempty"`
}

// Lens is an actionable annotation attached to a range.
type Lens struct {
	Range   lsp.Range `json:"range"`
	Command Command   `json:"command"`
}

// Provider produces lenses for documents matching Selector.
type Provider struct {
	Selector lsp.DocumentSelector
}

// NewProvider returns a provider scoped to selector.
func NewProvider(selector lsp.DocumentSelector) *Provider {
	return &Provider{Selector: selector}
}

// Provide returns the help lens for a blank document of the selected
// language, and nothing otherwise.
func (p *Provider) Provide(doc host.Document) []Lens {
	if !p.Selector.Matches(doc.LanguageID, doc.Scheme()) || !doc.IsBlank() {
		return nil
	}
	return []Lens{{
		Range: lsp.Range{},
		Command: Command{
			Title:     HelpTitle,
			Command:   host.CommandOpenURL,
			Arguments: []interface{}{HelpURL},
		},
	}}
}
