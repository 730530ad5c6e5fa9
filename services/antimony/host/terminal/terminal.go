// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package terminal implements the editor host on a terminal.
//
// Notifications are printed, dialogs become prompts and the "active
// editor" is a document opened from disk. Snippet insertions are written
// back to the file.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mastevb/vscode-antimony/pkg/logging"
	"github.com/mastevb/vscode-antimony/pkg/ux"
	"github.com/mastevb/vscode-antimony/services/antimony/annotation"
	"github.com/mastevb/vscode-antimony/services/antimony/host"
	"github.com/mastevb/vscode-antimony/services/antimony/lsp"
	"github.com/mastevb/vscode-antimony/services/antimony/settings"
)

// ErrUnsupportedCommand is returned for host commands a terminal cannot run.
var ErrUnsupportedCommand = errors.New("unsupported host command")

// Options configures New.
type Options struct {
	// In and Out default to os.Stdin and os.Stdout.
	In  io.Reader
	Out io.Writer

	// Printer renders notifications. Nil means a printer on Out.
	Printer *ux.Printer

	// Prompter asks questions. Nil means a FormPrompter on In and Out,
	// accessible unless the printer is in rich mode.
	Prompter Prompter

	// Store backs the open-settings command. Optional.
	Store *settings.Store

	// OnSettingsChanged is called after a setting is edited.
	OnSettingsChanged func(settings.ChangeEvent)

	// Directory answers every folder dialog without prompting.
	Directory string

	// Pager shows documents in a scrollable viewer instead of printing.
	Pager bool

	Logger *logging.Logger
}

// Terminal implements host.Host.
//
// Thread Safety:
//
//	Safe for concurrent use. Prompts are serialized.
type Terminal struct {
	opts    Options
	printer *ux.Printer
	logger  *logging.Logger

	promptMu sync.Mutex

	mu     sync.Mutex
	active *host.Document
	sel    lsp.Range
}

var _ host.Host = (*Terminal)(nil)

// New returns a terminal host.
func New(opts Options) *Terminal {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Printer == nil {
		opts.Printer = ux.NewPrinter(opts.Out)
	}
	if opts.Prompter == nil {
		opts.Prompter = &FormPrompter{
			In:         opts.In,
			Out:        opts.Out,
			Accessible: opts.Printer.Mode() != ux.ModeRich,
		}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Terminal{
		opts:    opts,
		printer: opts.Printer,
		logger:  opts.Logger.With("component", "terminal"),
	}
}

// =============================================================================
// MESSAGES
// =============================================================================

// ShowInfo implements host.Messages.
func (t *Terminal) ShowInfo(ctx context.Context, message string, actions ...string) (string, error) {
	t.printer.Info(message)
	return t.chooseAction(ctx, message, actions)
}

// ShowError implements host.Messages.
func (t *Terminal) ShowError(ctx context.Context, message string, actions ...string) (string, error) {
	t.printer.Error(message)
	return t.chooseAction(ctx, message, actions)
}

func (t *Terminal) chooseAction(ctx context.Context, message string, actions []string) (string, error) {
	if len(actions) == 0 {
		return "", nil
	}
	options := append(append([]string{}, actions...), "Dismiss")
	idx, ok, err := t.selectOne(ctx, SelectPrompt{Title: message, Options: options})
	if err != nil || !ok || idx >= len(actions) {
		return "", err
	}
	return actions[idx], nil
}

// =============================================================================
// DIALOGS
// =============================================================================

// ShowOpenDialog implements host.Dialogs.
func (t *Terminal) ShowOpenDialog(ctx context.Context, opts host.OpenDialogOptions) ([]string, error) {
	if opts.CanSelectFolders && t.opts.Directory != "" {
		return []string{t.opts.Directory}, nil
	}

	start := opts.DefaultPath
	if start == "" {
		start, _ = os.Getwd()
	}
	title := opts.Title
	if opts.OpenLabel != "" {
		title = fmt.Sprintf("%s (%s)", title, opts.OpenLabel)
	}

	var exts []string
	if !opts.CanSelectFolders {
		for _, f := range opts.Filters {
			for _, ext := range f.Extensions {
				exts = append(exts, "."+ext)
			}
		}
	}

	t.promptMu.Lock()
	defer t.promptMu.Unlock()
	path, ok, err := t.opts.Prompter.Path(ctx, PathPrompt{
		Title:     title,
		Start:     start,
		Dirs:      opts.CanSelectFolders,
		Files:     opts.CanSelectFiles || !opts.CanSelectFolders,
		Extension: exts,
	})
	if err != nil || !ok {
		return nil, err
	}
	return []string{path}, nil
}

// ShowQuickPick implements host.Dialogs.
func (t *Terminal) ShowQuickPick(ctx context.Context, items []host.QuickPickItem, opts host.QuickPickOptions) (*host.QuickPickItem, error) {
	labels := make([]string, len(items))
	for i, item := range items {
		labels[i] = item.Label
		if item.Description != "" {
			labels[i] += " (" + item.Description + ")"
		}
		if item.Detail != "" {
			labels[i] += " " + item.Detail
		}
	}

	idx, ok, err := t.selectOne(ctx, SelectPrompt{
		Title:       stepTitle(opts.Title, opts.Step, opts.TotalSteps),
		Description: opts.Placeholder,
		Options:     labels,
	})
	if err != nil || !ok || idx < 0 || idx >= len(items) {
		return nil, err
	}
	item := items[idx]
	return &item, nil
}

// ShowInputBox implements host.Dialogs.
func (t *Terminal) ShowInputBox(ctx context.Context, opts host.InputBoxOptions) (string, bool, error) {
	t.promptMu.Lock()
	defer t.promptMu.Unlock()
	return t.opts.Prompter.Input(ctx, InputPrompt{
		Title:       stepTitle(opts.Title, opts.Step, opts.TotalSteps),
		Description: opts.Prompt,
		Value:       opts.Value,
		Placeholder: opts.Placeholder,
	})
}

func (t *Terminal) selectOne(ctx context.Context, p SelectPrompt) (int, bool, error) {
	t.promptMu.Lock()
	defer t.promptMu.Unlock()
	return t.opts.Prompter.Select(ctx, p)
}

func stepTitle(title string, step, total int) string {
	if step <= 0 || total <= 0 {
		return title
	}
	return fmt.Sprintf("%s (%d/%d)", title, step, total)
}

// =============================================================================
// WORKSPACE
// =============================================================================

// LanguageFor maps a file extension to a language id.
func LanguageFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ant", ".txt":
		return "antimony"
	case ".xml", ".sbml":
		return "xml"
	default:
		return "plaintext"
	}
}

// OpenTextDocument implements host.Workspace.
func (t *Terminal) OpenTextDocument(_ context.Context, path string) (host.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return host.Document{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return host.Document{}, fmt.Errorf("open %s: %w", path, err)
	}
	return host.Document{
		URI:        lsp.FileURI(abs),
		LanguageID: LanguageFor(abs),
		Version:    1,
		Text:       string(data),
	}, nil
}

// ShowTextDocument implements host.Workspace. The document becomes the
// active one.
func (t *Terminal) ShowTextDocument(ctx context.Context, doc host.Document) error {
	t.SetActive(doc)

	if !t.opts.Pager || t.printer.Mode() != ux.ModeRich {
		t.printer.Box(doc.Path(), doc.Text)
		return nil
	}

	t.promptMu.Lock()
	defer t.promptMu.Unlock()
	p := tea.NewProgram(newViewerModel(doc.Path(), doc.Text),
		tea.WithContext(ctx),
		tea.WithInput(t.opts.In),
		tea.WithOutput(t.opts.Out),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("viewer: %w", err)
	}
	return nil
}

// Open reads path and makes it the active document.
func (t *Terminal) Open(ctx context.Context, path string) (host.Document, error) {
	doc, err := t.OpenTextDocument(ctx, path)
	if err != nil {
		return host.Document{}, err
	}
	t.SetActive(doc)
	return doc, nil
}

// =============================================================================
// EDITOR
// =============================================================================

// SetActive makes doc the active document and clears the selection.
func (t *Terminal) SetActive(doc host.Document) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = &doc
	t.sel = lsp.Range{}
}

// SetSelection sets the active selection.
func (t *Terminal) SetSelection(r lsp.Range) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sel = r
}

// SelectText selects the first occurrence of s in the active document.
// It reports false when there is no active document or no match.
func (t *Terminal) SelectText(s string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil || s == "" {
		return false
	}
	idx := strings.Index(t.active.Text, s)
	if idx < 0 {
		return false
	}
	t.sel = lsp.Range{
		Start: positionOf(t.active.Text[:idx]),
		End:   positionOf(t.active.Text[:idx+len(s)]),
	}
	return true
}

// positionOf returns the position just past prefix.
func positionOf(prefix string) lsp.Position {
	line := strings.Count(prefix, "\n")
	last := prefix[strings.LastIndex(prefix, "\n")+1:]
	return lsp.Position{Line: line, Character: len([]rune(last))}
}

// ActiveDocument implements host.Editor.
func (t *Terminal) ActiveDocument() (host.Document, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return host.Document{}, false
	}
	return *t.active, true
}

// Selection implements host.Editor.
func (t *Terminal) Selection() lsp.Range {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sel
}

// InsertSnippet implements host.Editor. Placeholders are replaced by
// their defaults; file documents are saved.
func (t *Terminal) InsertSnippet(_ context.Context, snippet string, at lsp.Position) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return host.ErrNoActiveEditor
	}

	text := annotation.ExpandSnippet(snippet)
	runes := []rune(t.active.Text)
	off := offsetOf(t.active.Text, at)
	updated := string(runes[:off]) + text + string(runes[off:])

	if t.active.Scheme() == "file" {
		if err := os.WriteFile(t.active.Path(), []byte(updated), 0o644); err != nil {
			return fmt.Errorf("save %s: %w", t.active.Path(), err)
		}
	}
	t.active.Text = updated
	t.active.Version++
	t.logger.Debug("Snippet inserted", "uri", t.active.URI, "line", at.Line, "character", at.Character)
	t.printer.Success("Updated " + t.active.Path())
	return nil
}

// offsetOf converts a position to a rune offset, clamped to the text.
func offsetOf(text string, p lsp.Position) int {
	lines := strings.Split(text, "\n")
	if p.Line >= len(lines) {
		return len([]rune(text))
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

// =============================================================================
// COMMANDS
// =============================================================================

// ExecuteCommand implements host.Commands.
func (t *Terminal) ExecuteCommand(ctx context.Context, command string, args ...interface{}) (interface{}, error) {
	switch command {
	case host.CommandFocusEditorGroup:
		return nil, nil
	case host.CommandOpenURL:
		if len(args) > 0 {
			t.printer.Info(fmt.Sprint(args[0]))
		}
		return nil, nil
	case host.CommandOpenSettings:
		return nil, t.editSetting(ctx, args)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCommand, command)
	}
}

// editSetting prompts for a new value of the setting named by args[0],
// e.g. "antimony.pythonInterpreter".
func (t *Terminal) editSetting(ctx context.Context, args []interface{}) error {
	if t.opts.Store == nil {
		return fmt.Errorf("%w: no settings store", ErrUnsupportedCommand)
	}
	if len(args) == 0 {
		t.printer.Info("Settings file: " + t.opts.Store.Path())
		return nil
	}
	key := strings.TrimPrefix(fmt.Sprint(args[0]), settings.Section+".")
	current, err := t.opts.Store.Get().Get(key)
	if err != nil {
		return err
	}

	t.promptMu.Lock()
	value, ok, err := t.opts.Prompter.Input(ctx, InputPrompt{
		Title:       settings.Section + "." + key,
		Description: "Saved to " + t.opts.Store.Path(),
		Value:       current,
	})
	t.promptMu.Unlock()
	if err != nil || !ok || value == current {
		return err
	}

	if err := t.opts.Store.Set(key, value); err != nil {
		t.printer.Error(err.Error())
		return err
	}
	if t.opts.OnSettingsChanged != nil {
		t.opts.OnSettingsChanged(settings.ChangeEvent{
			Sections: []string{settings.Section},
			Time:     time.Now(),
		})
	}
	return nil
}
