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
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// Helper to capture stdout
func captureStdout(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconInfo, IconArrow} {
		if got := icon.Render(); !strings.Contains(got, string(icon)) {
			t.Errorf("Render(%q) = %q, missing icon", icon, got)
		}
	}
	if IconBullet.Render() != string(IconBullet) {
		t.Error("unstyled icons render as-is")
	}
}

// =============================================================================
// Mode Tests
// =============================================================================

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"rich", ModeRich},
		{"PLAIN", ModePlain},
		{" json ", ModeJSON},
		{"", ModeRich},
		{"fancy", ModeRich},
	}
	for _, tt := range tests {
		if got := ParseMode(tt.in); got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectMode(t *testing.T) {
	t.Setenv(EnvMode, "")
	var buf bytes.Buffer
	if got := DetectMode(&buf); got != ModePlain {
		t.Errorf("buffer: got %q, want plain", got)
	}

	t.Setenv(EnvMode, "json")
	if got := DetectMode(&buf); got != ModeJSON {
		t.Errorf("env override: got %q, want json", got)
	}
}

func TestSetMode(t *testing.T) {
	orig := GetMode()
	defer SetMode(orig)

	SetMode(ModePlain)
	if GetMode() != ModePlain {
		t.Fatalf("GetMode() = %q", GetMode())
	}
	var buf bytes.Buffer
	NewPrinter(&buf).Success("done")
	if buf.String() != "OK: done\n" {
		t.Errorf("printer should follow process mode, got %q", buf.String())
	}
}

func TestIsTerminal_NonFile(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("buffer is not a terminal")
	}
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_Plain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterMode(&buf, ModePlain)

	p.Title("Antimony")
	p.Success("converted")
	p.Warning("slow")
	p.Error("failed")
	p.Info("note")
	p.Muted("hidden")
	p.Box("model.ant", "model m\nend")

	want := "OK: converted\nWARN: slow\nERROR: failed\nnote\nmodel.ant: model m\nend\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestPrinter_Rich(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterMode(&buf, ModeRich)

	p.Title("Antimony")
	p.Success("converted")
	p.Error("failed")
	p.Box("model.ant", "model m")

	out := buf.String()
	for _, want := range []string{"Antimony", "converted", "failed", "model.ant", "model m", string(IconSuccess), string(IconError)} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinter_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterMode(&buf, ModePlain)
	p.KeyValues([]string{"b", "a"}, map[string]string{"a": "1", "b": "2"})
	if buf.String() != "b=2\na=1\n" {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	p = NewPrinterMode(&buf, ModeRich)
	p.KeyValues([]string{"pythonInterpreter", "logLevel"}, map[string]string{
		"pythonInterpreter": "python3",
		"logLevel":          "info",
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "info") {
		t.Errorf("second line %q missing value", lines[1])
	}
}

func TestPackageHelpers(t *testing.T) {
	orig := GetMode()
	defer SetMode(orig)
	SetMode(ModePlain)

	old := Stdout
	defer func() { Stdout = old }()

	out := captureStdout(func() {
		Stdout = NewPrinter(os.Stdout)
		Success("a")
		Warning("b")
		Error("c")
		Info("d")
	})
	if out != "OK: a\nWARN: b\nERROR: c\nd\n" {
		t.Errorf("got %q", out)
	}
}
