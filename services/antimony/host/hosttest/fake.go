// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hosttest provides a scripted, recording host for tests.
package hosttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/mastevb/vscode-antimony/services/antimony/host"
	"github.com/mastevb/vscode-antimony/services/antimony/lsp"
)

// Message is one notification shown to the user.
type Message struct {
	Text    string
	Actions []string
}

// Invocation is one host command execution.
type Invocation struct {
	Command string
	Args    []interface{}
}

// Insertion is one snippet insertion.
type Insertion struct {
	Snippet string
	At      lsp.Position
}

// Input is a scripted answer to ShowInputBox.
type Input struct {
	Value     string
	Cancelled bool
}

// Fake implements host.Host. Script answers by setting the exported
// fields before use; inspect the recorded calls afterwards.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	// Scripted answers.
	InfoChoice  string
	ErrorChoice string
	OpenDialog  []string
	QuickPicks  []int
	Inputs      []Input
	Files       map[string]string
	Active      *host.Document
	Sel         lsp.Range
	CommandFunc func(command string, args ...interface{}) (interface{}, error)

	// Recorded calls.
	Infos         []Message
	Errors        []Message
	OpenDialogs   []host.OpenDialogOptions
	QuickPickOpts []host.QuickPickOptions
	QuickPickSets [][]host.QuickPickItem
	InputOpts     []host.InputBoxOptions
	Opened        []string
	Shown         []host.Document
	Inserted      []Insertion
	Commands      []Invocation
}

var _ host.Host = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{Files: map[string]string{}}
}

// ShowInfo implements host.Messages.
func (f *Fake) ShowInfo(_ context.Context, message string, actions ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Infos = append(f.Infos, Message{Text: message, Actions: actions})
	return f.InfoChoice, nil
}

// ShowError implements host.Messages.
func (f *Fake) ShowError(_ context.Context, message string, actions ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors = append(f.Errors, Message{Text: message, Actions: actions})
	return f.ErrorChoice, nil
}

// ShowOpenDialog implements host.Dialogs.
func (f *Fake) ShowOpenDialog(_ context.Context, opts host.OpenDialogOptions) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenDialogs = append(f.OpenDialogs, opts)
	return f.OpenDialog, nil
}

// ShowQuickPick implements host.Dialogs. Each call consumes the next
// index from QuickPicks; a negative index or an exhausted script cancels.
func (f *Fake) ShowQuickPick(_ context.Context, items []host.QuickPickItem, opts host.QuickPickOptions) (*host.QuickPickItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.QuickPickSets = append(f.QuickPickSets, items)
	f.QuickPickOpts = append(f.QuickPickOpts, opts)
	if len(f.QuickPicks) == 0 {
		return nil, nil
	}
	idx := f.QuickPicks[0]
	f.QuickPicks = f.QuickPicks[1:]
	if idx < 0 || idx >= len(items) {
		return nil, nil
	}
	item := items[idx]
	return &item, nil
}

// ShowInputBox implements host.Dialogs. Each call consumes the next Input;
// an exhausted script cancels.
func (f *Fake) ShowInputBox(_ context.Context, opts host.InputBoxOptions) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InputOpts = append(f.InputOpts, opts)
	if len(f.Inputs) == 0 {
		return "", false, nil
	}
	in := f.Inputs[0]
	f.Inputs = f.Inputs[1:]
	if in.Cancelled {
		return "", false, nil
	}
	return in.Value, true, nil
}

// OpenTextDocument implements host.Workspace. Paths missing from Files
// fail.
func (f *Fake) OpenTextDocument(_ context.Context, path string) (host.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Opened = append(f.Opened, path)
	text, ok := f.Files[path]
	if !ok {
		return host.Document{}, fmt.Errorf("open %s: no such file", path)
	}
	return host.Document{URI: lsp.FileURI(path), Version: 1, Text: text}, nil
}

// ShowTextDocument implements host.Workspace.
func (f *Fake) ShowTextDocument(_ context.Context, doc host.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Shown = append(f.Shown, doc)
	return nil
}

// ActiveDocument implements host.Editor.
func (f *Fake) ActiveDocument() (host.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Active == nil {
		return host.Document{}, false
	}
	return *f.Active, true
}

// Selection implements host.Editor.
func (f *Fake) Selection() lsp.Range {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Sel
}

// InsertSnippet implements host.Editor.
func (f *Fake) InsertSnippet(_ context.Context, snippet string, at lsp.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Active == nil {
		return host.ErrNoActiveEditor
	}
	f.Inserted = append(f.Inserted, Insertion{Snippet: snippet, At: at})
	return nil
}

// ExecuteCommand implements host.Commands.
func (f *Fake) ExecuteCommand(_ context.Context, command string, args ...interface{}) (interface{}, error) {
	f.mu.Lock()
	f.Commands = append(f.Commands, Invocation{Command: command, Args: args})
	fn := f.CommandFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(command, args...)
	}
	return nil, nil
}

// ErrorCount returns the number of error messages shown.
func (f *Fake) ErrorCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Errors)
}

// InfoCount returns the number of info messages shown.
func (f *Fake) InfoCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Infos)
}

// CommandNames returns the executed host commands in order.
func (f *Fake) CommandNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.Commands))
	for i, c := range f.Commands {
		names[i] = c.Command
	}
	return names
}
