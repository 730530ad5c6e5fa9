// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastevb/vscode-antimony/services/antimony/codelens"
	"github.com/mastevb/vscode-antimony/services/antimony/connection"
	"github.com/mastevb/vscode-antimony/services/antimony/host/terminal"
	"github.com/mastevb/vscode-antimony/services/antimony/interpreter"
	"github.com/mastevb/vscode-antimony/services/antimony/lsp"
	"github.com/mastevb/vscode-antimony/services/antimony/lsp/lsptest"
	"github.com/mastevb/vscode-antimony/services/antimony/settings"
	"github.com/mastevb/vscode-antimony/services/antimony/workflow"
)

func TestHelperProcess(t *testing.T) {
	if os.Getenv(lsptest.EnvHelper) != "1" {
		return
	}
	os.Exit(lsptest.Main())
}

// =============================================================================
// HARNESS
// =============================================================================

type stubResolver struct {
	status interpreter.Status
}

func (r stubResolver) Resolve(_ context.Context, exe string) interpreter.Result {
	out := "True"
	if r.status != interpreter.StatusValid {
		out = ""
	}
	return interpreter.Result{Executable: exe, Status: r.status, Output: out}
}

func (stubResolver) MinVersion() string { return "3.7" }

// queuePrompter answers prompts in order; an exhausted queue aborts.
type queuePrompter struct {
	selects []int
	inputs  []string
}

func (p *queuePrompter) Select(context.Context, terminal.SelectPrompt) (int, bool, error) {
	if len(p.selects) == 0 {
		return 0, false, nil
	}
	i := p.selects[0]
	p.selects = p.selects[1:]
	return i, true, nil
}

func (p *queuePrompter) Input(context.Context, terminal.InputPrompt) (string, bool, error) {
	if len(p.inputs) == 0 {
		return "", false, nil
	}
	v := p.inputs[0]
	p.inputs = p.inputs[1:]
	return v, true, nil
}

func (p *queuePrompter) Path(context.Context, terminal.PathPrompt) (string, bool, error) {
	return "", false, nil
}

type harness struct {
	dir      string
	settings string
}

// newHarness points the CLI at a temp settings file and the fake
// language server.
func newHarness(t *testing.T, status interpreter.Status) *harness {
	t.Helper()
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")

	dir := t.TempDir()
	h := &harness{dir: dir, settings: filepath.Join(dir, "settings.yaml")}
	require.NoError(t, os.WriteFile(h.settings, []byte("antimony:\n  pythonInterpreter: python3\n"), 0o644))

	testResolver = stubResolver{status: status}
	testLauncher = connection.LauncherFunc(func(ctx context.Context, _ lsp.ServerConfig) (connection.Handle, error) {
		s := lsp.NewServer(lsptest.Config(lsptest.ModeOK))
		if err := s.Start(ctx); err != nil {
			return nil, err
		}
		return s, nil
	})
	testPrompter = &queuePrompter{}
	t.Cleanup(func() {
		testResolver = nil
		testLauncher = nil
		testPrompter = nil
	})
	return h
}

func (h *harness) write(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

// run executes the CLI and returns stdout.
func (h *harness) run(t *testing.T, output string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--settings", h.settings, "--output", output}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings_SetAndShow(t *testing.T) {
	h := newHarness(t, interpreter.StatusValid)

	out, err := h.run(t, "plain", "settings", "set", "antimony.pythonInterpreter", "/usr/bin/python3.11")
	require.NoError(t, err)
	assert.Equal(t, "OK: antimony.pythonInterpreter = /usr/bin/python3.11\n", out)

	out, err = h.run(t, "plain", "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "pythonInterpreter=/usr/bin/python3.11\n")
	assert.Contains(t, out, "debounceDelay=3s\n")

	out, err = h.run(t, "json", "settings", "show")
	require.NoError(t, err)
	var doc map[string]map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "/usr/bin/python3.11", doc[settings.Section][settings.KeyPythonInterpreter])
}

func TestSettings_SetRejectsBadValues(t *testing.T) {
	h := newHarness(t, interpreter.StatusValid)

	_, err := h.run(t, "plain", "settings", "set", "colour", "blue")
	assert.ErrorIs(t, err, settings.ErrUnknownKey)

	_, err = h.run(t, "plain", "settings", "set", "logLevel", "loud")
	assert.Error(t, err)

	out, err := h.run(t, "plain", "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "logLevel=info\n")
}

func TestSettings_Path(t *testing.T) {
	h := newHarness(t, interpreter.StatusValid)
	out, err := h.run(t, "plain", "settings", "path")
	require.NoError(t, err)
	assert.Equal(t, h.settings+"\n", out)
}

// =============================================================================
// CONVERT
// =============================================================================

func TestConvert_ToSBML(t *testing.T) {
	h := newHarness(t, interpreter.StatusValid)
	model := h.write(t, "glycolysis.ant", "model glycolysis\n  glc -> g6p; k1*glc\nend")
	outDir := filepath.Join(h.dir, "out")
	h.write(t, "out/glycolysis.xml", "<sbml/>")

	out, err := h.run(t, "plain", "convert", model, "--to", "sbml", "--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Model converted\n")
	assert.Contains(t, out, filepath.Join(outDir, "glycolysis.xml")+": <sbml/>")
}

func TestConvert_ServiceError(t *testing.T) {
	h := newHarness(t, interpreter.StatusValid)
	model := h.write(t, "model.xml", "<sbml/>")

	out, err := h.run(t, "plain", "convert", model, "--to", "antimony", "--out", lsptest.FailFolder)
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrConversionFailed)
	var shown *shownError
	assert.True(t, errors.As(err, &shown), "the host already reported the failure")
	assert.Contains(t, out, "ERROR: Could not convert file to Antimony: conversion failed\n")
}

func TestConvert_UnknownTarget(t *testing.T) {
	h := newHarness(t, interpreter.StatusValid)
	_, err := h.run(t, "plain", "convert", "model.ant", "--to", "cellml")
	assert.ErrorContains(t, err, `unknown target format "cellml"`)
}

func TestConvert_InterpreterRejected(t *testing.T) {
	h := newHarness(t, interpreter.StatusUnusable)
	model := h.write(t, "model.ant", "model m\nend")

	out, err := h.run(t, "plain", "convert", model, "--out", h.dir)
	require.Error(t, err)
	assert.Contains(t, out, `ERROR: Failed to launch language server: Unable to run "python3"`)
	assert.Contains(t, out, "ERROR: The Antimony language server is not available.")
}

func TestConvert_HandshakeRefused(t *testing.T) {
	h := newHarness(t, interpreter.StatusValid)
	testLauncher = connection.LauncherFunc(func(ctx context.Context, _ lsp.ServerConfig) (connection.Handle, error) {
		s := lsp.NewServer(lsptest.Config(lsptest.ModeFailInit))
		if err := s.Start(ctx); err != nil {
			return nil, err
		}
		return s, nil
	})
	model := h.write(t, "model.ant", "model m\nend")

	out, err := h.run(t, "plain", "convert", model, "--out", h.dir)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "open ")
	assert.Contains(t, out, "ERROR: The Antimony language server is not available.")
}

func TestConversionCommand(t *testing.T) {
	tests := []struct {
		to   string
		want string
	}{
		{"sbml", workflow.CommandConvertToSBML},
		{"XML", workflow.CommandConvertToSBML},
		{"antimony", workflow.CommandConvertToAnt},
		{"ant", workflow.CommandConvertToAnt},
	}
	for _, tt := range tests {
		got, err := conversionCommand(tt.to)
		require.NoError(t, err, tt.to)
		assert.Equal(t, tt.want, got, tt.to)
	}
	_, err := conversionCommand("")
	assert.Error(t, err)
}

// =============================================================================
// ANNOTATE
// =============================================================================

func TestAnnotate(t *testing.T) {
	h := newHarness(t, interpreter.StatusValid)
	model := h.write(t, "model.ant", "model m\n  glc = 5\nend")
	// ChEBI, keep the seeded query, first match.
	testPrompter = &queuePrompter{selects: []int{0, 0}, inputs: []string{"glucose"}}

	_, err := h.run(t, "plain", "annotate", model, "--entity", "glc")
	require.NoError(t, err)

	data, err := os.ReadFile(model)
	require.NoError(t, err)
	assert.Equal(t, "model m\n  glc = 5\nend\n\nglc identity \"http://identifiers.org/chebi/15422\"", string(data))
}

func TestAnnotate_Cancelled(t *testing.T) {
	h := newHarness(t, interpreter.StatusValid)
	model := h.write(t, "model.ant", "model m\nend")
	testPrompter = &queuePrompter{}

	_, err := h.run(t, "plain", "annotate", model)
	require.NoError(t, err)

	data, err := os.ReadFile(model)
	require.NoError(t, err)
	assert.Equal(t, "model m\nend", string(data))
}

func TestAnnotate_EntityMissing(t *testing.T) {
	h := newHarness(t, interpreter.StatusValid)
	model := h.write(t, "model.ant", "model m\nend")

	_, err := h.run(t, "plain", "annotate", model, "--entity", "atp")
	assert.ErrorContains(t, err, `"atp" does not occur`)
}

// =============================================================================
// CHECK AND LENS
// =============================================================================

func TestCheck(t *testing.T) {
	h := newHarness(t, interpreter.StatusValid)

	out, err := h.run(t, "plain", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "interpreter=python3\n")
	assert.Contains(t, out, "status=valid\n")
	assert.Contains(t, out, "OK: Ready\n")

	out, err = h.run(t, "json", "check", "--server")
	require.NoError(t, err)
	var report checkReport
	require.NoError(t, json.NewDecoder(strings.NewReader(out)).Decode(&report))
	assert.Equal(t, "valid", report.Status)
	assert.Equal(t, "ready", report.Server)
	assert.Equal(t, "3.7", report.MinVersion)
}

func TestCheck_Rejected(t *testing.T) {
	h := newHarness(t, interpreter.StatusWrongVersion)

	out, err := h.run(t, "plain", "check", "--server")
	require.Error(t, err)
	var shown *shownError
	assert.True(t, errors.As(err, &shown))
	assert.Contains(t, out, "status=wrong-version\n")
	assert.Contains(t, out, `ERROR: Failed to launch language server: "python3" is not Python 3.7+`)
	assert.NotContains(t, out, "server=")
}

func TestLens(t *testing.T) {
	h := newHarness(t, interpreter.StatusValid)
	blank := h.write(t, "new.ant", "\n")
	model := h.write(t, "model.ant", "model m\nend")

	out, err := h.run(t, "plain", "lens", blank)
	require.NoError(t, err)
	assert.Equal(t, "1:1 "+codelens.HelpTitle+": "+codelens.HelpURL+"\n", out)

	out, err = h.run(t, "plain", "lens", model)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = h.run(t, "json", "lens", model)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}
