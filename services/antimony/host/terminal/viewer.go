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
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mastevb/vscode-antimony/pkg/ux"
)

const (
	viewerHeaderHeight = 2
	viewerFooterHeight = 2
)

// viewerModel pages through a document. Single-threaded; owned by the
// bubbletea event loop.
type viewerModel struct {
	title    string
	content  string
	lines    int
	viewport viewport.Model
	ready    bool
	quitting bool
}

func newViewerModel(title, content string) viewerModel {
	return viewerModel{
		title:   title,
		content: content,
		lines:   strings.Count(content, "\n") + 1,
	}
}

// Init implements tea.Model.
func (m viewerModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m viewerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := msg.Height - viewerHeaderHeight - viewerFooterHeight
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.viewport.YPosition = viewerHeaderHeight
			m.viewport.SetContent(m.content)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "g", "home":
			m.viewport.GotoTop()
			return m, nil
		case "G", "end":
			m.viewport.GotoBottom()
			return m, nil
		}
	}

	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m viewerModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading...\n"
	}

	var b strings.Builder
	b.WriteString(ux.Styles.Title.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	footer := fmt.Sprintf("%d lines  %3.f%%  q quit  j/k scroll  g/G top/bottom",
		m.lines, m.viewport.ScrollPercent()*100)
	b.WriteString(ux.Styles.Muted.Render(footer))
	return b.String()
}
