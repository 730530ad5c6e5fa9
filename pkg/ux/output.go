// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the antimony CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	ColorAccent  = lipgloss.Color("#5FB3B3")
	ColorPrimary = lipgloss.Color("#4C8FBF")
	ColorBorder  = lipgloss.Color("#3A6B8C")
	ColorSlate   = lipgloss.Color("#5C6B73")

	ColorSuccess = lipgloss.Color("#7FC97F")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorAccent).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconInfo    Icon = "│"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconInfo:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// PRINTER
// =============================================================================

// Printer writes styled lines to a writer. A nil Mode function means the
// process-wide mode.
//
// Thread Safety:
//
//	Safe for concurrent use; lines are never interleaved.
type Printer struct {
	mu   sync.Mutex
	out  io.Writer
	mode func() Mode
}

// NewPrinter returns a printer writing to out using the process mode.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, mode: GetMode}
}

// NewPrinterMode returns a printer with a fixed mode.
func NewPrinterMode(out io.Writer, m Mode) *Printer {
	return &Printer{out: out, mode: func() Mode { return m }}
}

// Stdout is the default printer.
var Stdout = NewPrinter(os.Stdout)

// Mode returns the printer's current mode.
func (p *Printer) Mode() Mode {
	return p.mode()
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

func (p *Printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}

func (p *Printer) rich() bool {
	return p.mode() == ModeRich
}

// Title prints a styled title. Plain output omits it.
func (p *Printer) Title(text string) {
	if !p.rich() {
		return
	}
	p.println(Styles.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if !p.rich() {
		p.println("OK: " + text)
		return
	}
	p.println(IconSuccess.Render() + " " + Styles.Success.Render(text))
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if !p.rich() {
		p.println("WARN: " + text)
		return
	}
	p.println(IconWarning.Render() + " " + Styles.Warning.Render(text))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if !p.rich() {
		p.println("ERROR: " + text)
		return
	}
	p.println(IconError.Render() + " " + Styles.Error.Render(text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if !p.rich() {
		p.println(text)
		return
	}
	p.println(IconInfo.Render() + " " + text)
}

// Muted prints secondary text. Plain output omits it.
func (p *Printer) Muted(text string) {
	if !p.rich() {
		return
	}
	p.println(Styles.Muted.Render(text))
}

// Box prints content in a rounded box under a title.
func (p *Printer) Box(title, content string) {
	if !p.rich() {
		p.println(title + ": " + content)
		return
	}
	p.println(Styles.Box.Render(Styles.Title.Render(title) + "\n" + content))
}

// KeyValues prints aligned key/value pairs in the given order.
func (p *Printer) KeyValues(keys []string, values map[string]string) {
	width := 0
	for _, k := range keys {
		if len(k) > width {
			width = len(k)
		}
	}
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		if p.rich() {
			b.WriteString(Styles.Muted.Render(fmt.Sprintf("%-*s", width, k)))
			b.WriteString("  ")
			b.WriteString(Styles.Bold.Render(values[k]))
		} else {
			fmt.Fprintf(&b, "%s=%s", k, values[k])
		}
	}
	p.println(b.String())
}

// Package-level helpers print to Stdout.

// Success prints a success line to stdout.
func Success(text string) { Stdout.Success(text) }

// Warning prints a warning line to stdout.
func Warning(text string) { Stdout.Warning(text) }

// Error prints an error line to stdout.
func Error(text string) { Stdout.Error(text) }

// Info prints an informational line to stdout.
func Info(text string) { Stdout.Info(text) }
