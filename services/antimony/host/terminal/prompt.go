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
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/huh"
)

// SelectPrompt asks for one of several options.
type SelectPrompt struct {
	Title       string
	Description string
	Options     []string
}

// InputPrompt asks for a line of text.
type InputPrompt struct {
	Title       string
	Description string
	Value       string
	Placeholder string
}

// PathPrompt asks for a file or directory.
type PathPrompt struct {
	Title     string
	Start     string
	Dirs      bool
	Files     bool
	Extension []string
}

// Prompter runs one question at a time. ok is false when the user
// aborted.
type Prompter interface {
	Select(ctx context.Context, p SelectPrompt) (index int, ok bool, err error)
	Input(ctx context.Context, p InputPrompt) (value string, ok bool, err error)
	Path(ctx context.Context, p PathPrompt) (path string, ok bool, err error)
}

// FormPrompter asks questions with huh forms.
//
// Accessible forms read answers line by line, which works when stdin is
// not a terminal.
type FormPrompter struct {
	In         io.Reader
	Out        io.Writer
	Accessible bool
}

var _ Prompter = (*FormPrompter)(nil)

func (p *FormPrompter) run(ctx context.Context, field huh.Field) (bool, error) {
	form := huh.NewForm(huh.NewGroup(field)).WithAccessible(p.Accessible)
	if p.In != nil {
		form = form.WithInput(p.In)
	}
	if p.Out != nil {
		form = form.WithOutput(p.Out)
	}
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, err
	}
	return true, nil
}

// Select implements Prompter.
func (p *FormPrompter) Select(ctx context.Context, sp SelectPrompt) (int, bool, error) {
	options := make([]huh.Option[int], len(sp.Options))
	for i, label := range sp.Options {
		options[i] = huh.NewOption(label, i)
	}
	var choice int
	field := huh.NewSelect[int]().
		Title(sp.Title).
		Description(sp.Description).
		Options(options...).
		Value(&choice)

	ok, err := p.run(ctx, field)
	if err != nil || !ok {
		return 0, false, err
	}
	return choice, true, nil
}

// Input implements Prompter.
func (p *FormPrompter) Input(ctx context.Context, ip InputPrompt) (string, bool, error) {
	value := ip.Value
	field := huh.NewInput().
		Title(ip.Title).
		Description(ip.Description).
		Placeholder(ip.Placeholder).
		Value(&value)

	ok, err := p.run(ctx, field)
	if err != nil || !ok {
		return "", false, err
	}
	return value, true, nil
}

// Path implements Prompter.
func (p *FormPrompter) Path(ctx context.Context, pp PathPrompt) (string, bool, error) {
	var path string
	picker := huh.NewFilePicker().
		Title(pp.Title).
		CurrentDirectory(pp.Start).
		DirAllowed(pp.Dirs).
		FileAllowed(pp.Files).
		Value(&path)
	if len(pp.Extension) > 0 {
		picker = picker.AllowedTypes(pp.Extension)
	}

	ok, err := p.run(ctx, picker)
	if err != nil || !ok {
		return "", false, err
	}
	return path, path != "", nil
}
