// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package terminal

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastevb/vscode-antimony/pkg/ux"
	"github.com/mastevb/vscode-antimony/services/antimony/host"
	"github.com/mastevb/vscode-antimony/services/antimony/lsp"
	"github.com/mastevb/vscode-antimony/services/antimony/settings"
)

// scriptedPrompter answers from queues. An exhausted queue aborts.
type scriptedPrompter struct {
	selects []int
	inputs  []string
	paths   []string

	selectPrompts []SelectPrompt
	inputPrompts  []InputPrompt
	pathPrompts   []PathPrompt
}

func (p *scriptedPrompter) Select(_ context.Context, sp SelectPrompt) (int, bool, error) {
	p.selectPrompts = append(p.selectPrompts, sp)
	if len(p.selects) == 0 {
		return 0, false, nil
	}
	i := p.selects[0]
	p.selects = p.selects[1:]
	return i, true, nil
}

func (p *scriptedPrompter) Input(_ context.Context, ip InputPrompt) (string, bool, error) {
	p.inputPrompts = append(p.inputPrompts, ip)
	if len(p.inputs) == 0 {
		return "", false, nil
	}
	v := p.inputs[0]
	p.inputs = p.inputs[1:]
	return v, true, nil
}

func (p *scriptedPrompter) Path(_ context.Context, pp PathPrompt) (string, bool, error) {
	p.pathPrompts = append(p.pathPrompts, pp)
	if len(p.paths) == 0 {
		return "", false, nil
	}
	v := p.paths[0]
	p.paths = p.paths[1:]
	return v, true, nil
}

func newTerminal(p *scriptedPrompter, opts Options) (*Terminal, *bytes.Buffer) {
	var out bytes.Buffer
	opts.Out = &out
	opts.In = strings.NewReader("")
	opts.Printer = ux.NewPrinterMode(&out, ux.ModePlain)
	opts.Prompter = p
	return New(opts), &out
}

func writeModel(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.ant")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestShowInfo_NoActions(t *testing.T) {
	p := &scriptedPrompter{}
	term, out := newTerminal(p, Options{})

	choice, err := term.ShowInfo(context.Background(), "Model converted")
	require.NoError(t, err)
	assert.Empty(t, choice)
	assert.Equal(t, "Model converted\n", out.String())
	assert.Empty(t, p.selectPrompts)
}

func TestShowError_Actions(t *testing.T) {
	p := &scriptedPrompter{selects: []int{0}}
	term, out := newTerminal(p, Options{})

	choice, err := term.ShowError(context.Background(), "bad interpreter", "Edit in settings")
	require.NoError(t, err)
	assert.Equal(t, "Edit in settings", choice)
	assert.Contains(t, out.String(), "ERROR: bad interpreter")
	require.Len(t, p.selectPrompts, 1)
	assert.Equal(t, []string{"Edit in settings", "Dismiss"}, p.selectPrompts[0].Options)

	p.selects = []int{1}
	choice, err = term.ShowError(context.Background(), "bad interpreter", "Edit in settings")
	require.NoError(t, err)
	assert.Empty(t, choice, "Dismiss is not an action")

	choice, err = term.ShowError(context.Background(), "bad interpreter", "Edit in settings")
	require.NoError(t, err)
	assert.Empty(t, choice, "aborted prompt")
}

func TestShowQuickPick(t *testing.T) {
	p := &scriptedPrompter{selects: []int{1}}
	term, _ := newTerminal(p, Options{})
	items := []host.QuickPickItem{
		{Label: "ChEBI", Value: "chebi"},
		{Label: "glucose", Description: "chebi", Detail: "D-glucose", Value: "1"},
	}

	got, err := term.ShowQuickPick(context.Background(), items, host.QuickPickOptions{
		Title: "Create annotation", Step: 3, TotalSteps: 3, Placeholder: "Select an entity",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1", got.Value)
	assert.Equal(t, "Create annotation (3/3)", p.selectPrompts[0].Title)
	assert.Equal(t, []string{"ChEBI", "glucose (chebi) D-glucose"}, p.selectPrompts[0].Options)

	got, err = term.ShowQuickPick(context.Background(), items, host.QuickPickOptions{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestShowInputBox(t *testing.T) {
	p := &scriptedPrompter{inputs: []string{"glucose"}}
	term, _ := newTerminal(p, Options{})

	v, ok, err := term.ShowInputBox(context.Background(), host.InputBoxOptions{
		Title: "Create annotation", Prompt: "Query", Value: "glc", Step: 2, TotalSteps: 3,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "glucose", v)
	assert.Equal(t, InputPrompt{Title: "Create annotation (2/3)", Description: "Query", Value: "glc"}, p.inputPrompts[0])

	_, ok, err = term.ShowInputBox(context.Background(), host.InputBoxOptions{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShowOpenDialog(t *testing.T) {
	t.Run("preset directory", func(t *testing.T) {
		p := &scriptedPrompter{}
		term, _ := newTerminal(p, Options{Directory: "/out"})
		got, err := term.ShowOpenDialog(context.Background(), host.OpenDialogOptions{CanSelectFolders: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"/out"}, got)
		assert.Empty(t, p.pathPrompts)
	})

	t.Run("prompted folder", func(t *testing.T) {
		p := &scriptedPrompter{paths: []string{"/tmp/out"}}
		term, _ := newTerminal(p, Options{})
		got, err := term.ShowOpenDialog(context.Background(), host.OpenDialogOptions{
			Title:            "Choose a folder",
			OpenLabel:        "Select",
			DefaultPath:      "/tmp",
			CanSelectFolders: true,
			Filters:          []host.FileFilter{{Name: "SBML", Extensions: []string{"xml"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"/tmp/out"}, got)
		assert.Equal(t, PathPrompt{Title: "Choose a folder (Select)", Start: "/tmp", Dirs: true}, p.pathPrompts[0])
	})

	t.Run("file filters", func(t *testing.T) {
		p := &scriptedPrompter{}
		term, _ := newTerminal(p, Options{})
		got, err := term.ShowOpenDialog(context.Background(), host.OpenDialogOptions{
			DefaultPath:    "/tmp",
			CanSelectFiles: true,
			Filters:        []host.FileFilter{{Name: "Antimony", Extensions: []string{"ant", "txt"}}},
		})
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, []string{".ant", ".txt"}, p.pathPrompts[0].Extension)
		assert.True(t, p.pathPrompts[0].Files)
	})
}

func TestOpenAndShowTextDocument(t *testing.T) {
	path := writeModel(t, "model m\nend")
	term, out := newTerminal(&scriptedPrompter{}, Options{})

	_, ok := term.ActiveDocument()
	assert.False(t, ok)

	doc, err := term.OpenTextDocument(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, lsp.FileURI(path), doc.URI)
	assert.Equal(t, "antimony", doc.LanguageID)
	assert.Equal(t, "model m\nend", doc.Text)

	require.NoError(t, term.ShowTextDocument(context.Background(), doc))
	active, ok := term.ActiveDocument()
	require.True(t, ok)
	assert.Equal(t, doc, active)
	assert.Contains(t, out.String(), path+": model m\nend")

	_, err = term.OpenTextDocument(context.Background(), filepath.Join(t.TempDir(), "missing.xml"))
	assert.Error(t, err)
}

func TestLanguageFor(t *testing.T) {
	assert.Equal(t, "antimony", LanguageFor("a.ant"))
	assert.Equal(t, "xml", LanguageFor("A.XML"))
	assert.Equal(t, "plaintext", LanguageFor("a.py"))
}

func TestInsertSnippet(t *testing.T) {
	path := writeModel(t, "model m\n  glc = 5\nend")
	term, _ := newTerminal(&scriptedPrompter{}, Options{})

	err := term.InsertSnippet(context.Background(), "x", lsp.Position{})
	assert.ErrorIs(t, err, host.ErrNoActiveEditor)

	doc, err := term.Open(context.Background(), path)
	require.NoError(t, err)
	term.SetSelection(lsp.Range{Start: lsp.Position{Line: 1, Character: 2}, End: lsp.Position{Line: 1, Character: 5}})
	assert.Equal(t, "glc", host.SelectedText(term))

	snippet := "\n\n${1:glc} identity \"http://identifiers.org/chebi/15422\""
	require.NoError(t, term.InsertSnippet(context.Background(), snippet, doc.End()))

	want := "model m\n  glc = 5\nend\n\nglc identity \"http://identifiers.org/chebi/15422\""
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))

	active, _ := term.ActiveDocument()
	assert.Equal(t, want, active.Text)
	assert.Equal(t, 2, active.Version)
}

func TestSelectText(t *testing.T) {
	term, _ := newTerminal(&scriptedPrompter{}, Options{})
	assert.False(t, term.SelectText("glc"))

	term.SetActive(host.Document{URI: "untitled:a", Text: "model m\n  µglc = 5\nend"})
	assert.False(t, term.SelectText("atp"))
	require.True(t, term.SelectText("glc"))
	assert.Equal(t, lsp.Range{
		Start: lsp.Position{Line: 1, Character: 3},
		End:   lsp.Position{Line: 1, Character: 6},
	}, term.Selection())
	assert.Equal(t, "glc", host.SelectedText(term))
}

func TestInsertSnippet_Untitled(t *testing.T) {
	term, _ := newTerminal(&scriptedPrompter{}, Options{})
	term.SetActive(host.Document{URI: "untitled:Untitled-1", Text: "ab"})

	require.NoError(t, term.InsertSnippet(context.Background(), "X", lsp.Position{Character: 1}))
	active, _ := term.ActiveDocument()
	assert.Equal(t, "aXb", active.Text)
}

func TestOffsetOf(t *testing.T) {
	text := "µa\nbc"
	assert.Equal(t, 0, offsetOf(text, lsp.Position{}))
	assert.Equal(t, 1, offsetOf(text, lsp.Position{Character: 1}))
	assert.Equal(t, 2, offsetOf(text, lsp.Position{Character: 9}))
	assert.Equal(t, 4, offsetOf(text, lsp.Position{Line: 1, Character: 1}))
	assert.Equal(t, 5, offsetOf(text, lsp.Position{Line: 7}))
}

func TestExecuteCommand(t *testing.T) {
	term, out := newTerminal(&scriptedPrompter{}, Options{})

	_, err := term.ExecuteCommand(context.Background(), host.CommandFocusEditorGroup)
	assert.NoError(t, err)

	_, err = term.ExecuteCommand(context.Background(), host.CommandOpenURL, "https://example.org")
	assert.NoError(t, err)
	assert.Contains(t, out.String(), "https://example.org")

	_, err = term.ExecuteCommand(context.Background(), "editor.action.formatDocument")
	assert.ErrorIs(t, err, ErrUnsupportedCommand)

	_, err = term.ExecuteCommand(context.Background(), host.CommandOpenSettings, "antimony.pythonInterpreter")
	assert.ErrorIs(t, err, ErrUnsupportedCommand, "no store configured")
}

func TestExecuteCommand_OpenSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store := settings.NewStore(path, nil)
	_, err := store.Load()
	require.NoError(t, err)

	var events []settings.ChangeEvent
	p := &scriptedPrompter{inputs: []string{"/usr/bin/python3.11"}}
	term, _ := newTerminal(p, Options{
		Store:             store,
		OnSettingsChanged: func(ev settings.ChangeEvent) { events = append(events, ev) },
	})

	_, err = term.ExecuteCommand(context.Background(), host.CommandOpenSettings, "antimony.pythonInterpreter")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/python3.11", store.PythonInterpreter())
	assert.Equal(t, "python3", p.inputPrompts[0].Value)
	require.Len(t, events, 1)
	assert.True(t, events[0].AffectsConfiguration(settings.Section))

	// Unchanged and aborted edits are not reported.
	p.inputs = []string{"/usr/bin/python3.11"}
	_, err = term.ExecuteCommand(context.Background(), host.CommandOpenSettings, "antimony.pythonInterpreter")
	require.NoError(t, err)
	_, err = term.ExecuteCommand(context.Background(), host.CommandOpenSettings, "antimony.pythonInterpreter")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = term.ExecuteCommand(context.Background(), host.CommandOpenSettings, "antimony.colour")
	assert.ErrorIs(t, err, settings.ErrUnknownKey)
}

func TestViewerModel(t *testing.T) {
	content := strings.Repeat("line\n", 50) + "last"
	m := newViewerModel("/out/model.xml", content)
	assert.Equal(t, "Loading...\n", m.View())

	next, _ := m.Update(tea.WindowSizeMsg{Width: 40, Height: 14})
	m = next.(viewerModel)
	require.True(t, m.ready)
	assert.Equal(t, 10, m.viewport.Height)
	assert.True(t, m.viewport.AtTop())
	assert.Contains(t, m.View(), "/out/model.xml")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'G'}})
	m = next.(viewerModel)
	assert.True(t, m.viewport.AtBottom())

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'g'}})
	m = next.(viewerModel)
	assert.True(t, m.viewport.AtTop())

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = next.(viewerModel)
	assert.True(t, m.quitting)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}
