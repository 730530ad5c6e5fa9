// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package host defines the editor capabilities the Antimony bridge needs.
//
// Each capability is a small interface so components depend only on what
// they use. Cancellation by the user is never an error: dialogs report it
// with an empty result.
package host

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/mastevb/vscode-antimony/services/antimony/lsp"
)

// ErrNoActiveEditor is returned when an editor operation has no target.
var ErrNoActiveEditor = errors.New("no active editor")

// =============================================================================
// DOCUMENTS
// =============================================================================

// Document is an open text document.
type Document struct {
	URI        string
	LanguageID string
	Version    int
	Text       string
}

// Scheme returns the URI scheme, e.g. "file" or "untitled".
func (d Document) Scheme() string {
	u, err := url.Parse(d.URI)
	if err != nil {
		return ""
	}
	return u.Scheme
}

// Path returns the filesystem path for file URIs, else the URI.
func (d Document) Path() string {
	return lsp.URIPath(d.URI)
}

// IsBlank reports whether the document has only whitespace.
func (d Document) IsBlank() bool {
	return strings.TrimSpace(d.Text) == ""
}

// End returns the position just past the last character.
func (d Document) End() lsp.Position {
	lines := strings.Split(d.Text, "\n")
	last := lines[len(lines)-1]
	return lsp.Position{Line: len(lines) - 1, Character: len([]rune(last))}
}

// TextIn returns the text covered by r. Out-of-range positions are clamped.
func (d Document) TextIn(r lsp.Range) string {
	lines := strings.Split(d.Text, "\n")
	offset := func(p lsp.Position) int {
		if p.Line >= len(lines) {
			return len([]rune(d.Text))
		}
		off := 0
		for i := 0; i < p.Line; i++ {
			off += len([]rune(lines[i])) + 1
		}
		n := len([]rune(lines[p.Line]))
		if p.Character < n {
			n = p.Character
		}
		return off + n
	}
	runes := []rune(d.Text)
	start, end := offset(r.Start), offset(r.End)
	if start > end {
		start, end = end, start
	}
	return string(runes[start:end])
}

// Item converts the document to its didOpen payload.
func (d Document) Item() lsp.TextDocumentItem {
	return lsp.TextDocumentItem{
		URI:        d.URI,
		LanguageID: d.LanguageID,
		Version:    d.Version,
		Text:       d.Text,
	}
}

// =============================================================================
// CAPABILITIES
// =============================================================================

// Messages shows notifications. The returned string is the chosen action,
// or empty if the message was dismissed.
type Messages interface {
	ShowInfo(ctx context.Context, message string, actions ...string) (string, error)
	ShowError(ctx context.Context, message string, actions ...string) (string, error)
}

// FileFilter is one named entry of an open dialog's filter list.
type FileFilter struct {
	Name       string
	Extensions []string
}

// OpenDialogOptions configures ShowOpenDialog.
type OpenDialogOptions struct {
	Title            string
	OpenLabel        string
	DefaultPath      string
	CanSelectFiles   bool
	CanSelectFolders bool
	CanSelectMany    bool
	Filters          []FileFilter
}

// QuickPickItem is one selectable entry.
type QuickPickItem struct {
	Label       string
	Description string
	Detail      string

	// Value carries caller data; not shown.
	Value string
}

// QuickPickOptions configures ShowQuickPick.
type QuickPickOptions struct {
	Title       string
	Placeholder string
	Step        int
	TotalSteps  int
}

// InputBoxOptions configures ShowInputBox.
type InputBoxOptions struct {
	Title       string
	Prompt      string
	Value       string
	Placeholder string
	Step        int
	TotalSteps  int
}

// Dialogs collects input from the user.
//
// Cancellation is reported as an empty result with a nil error.
type Dialogs interface {
	ShowOpenDialog(ctx context.Context, opts OpenDialogOptions) ([]string, error)
	ShowQuickPick(ctx context.Context, items []QuickPickItem, opts QuickPickOptions) (*QuickPickItem, error)
	ShowInputBox(ctx context.Context, opts InputBoxOptions) (value string, ok bool, err error)
}

// Workspace opens and reveals documents.
type Workspace interface {
	OpenTextDocument(ctx context.Context, path string) (Document, error)
	ShowTextDocument(ctx context.Context, doc Document) error
}

// Editor is the active text editor.
type Editor interface {
	// ActiveDocument returns the document in the active editor.
	ActiveDocument() (Document, bool)

	// Selection returns the active editor's selection.
	Selection() lsp.Range

	// InsertSnippet inserts snippet text at a position in the active document.
	InsertSnippet(ctx context.Context, snippet string, at lsp.Position) error
}

// Commands executes host commands by name.
type Commands interface {
	ExecuteCommand(ctx context.Context, command string, args ...interface{}) (interface{}, error)
}

// Host is every capability together.
type Host interface {
	Messages
	Dialogs
	Workspace
	Editor
	Commands
}

// Well-known host command names.
const (
	CommandOpenSettings     = "workbench.action.openSettings"
	CommandFocusEditorGroup = "workbench.action.focusActiveEditorGroup"
	CommandOpenURL          = "vscode.open"
)

// SelectedText returns the text under the editor's selection.
func SelectedText(e Editor) string {
	doc, ok := e.ActiveDocument()
	if !ok {
		return ""
	}
	return doc.TextIn(e.Selection())
}
