// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsptest provides an in-process fake analysis service for tests.
//
// Tests re-execute their own binary as the service process:
//
//	func TestHelperProcess(t *testing.T) {
//		if os.Getenv(lsptest.EnvHelper) != "1" {
//			return
//		}
//		os.Exit(lsptest.Main())
//	}
//
// and launch it with lsptest.Config(mode).
package lsptest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/mastevb/vscode-antimony/services/antimony/lsp"
)

// Environment variables understood by Main.
const (
	EnvHelper = "ANTIMONY_LSPTEST_HELPER"
	EnvMode   = "ANTIMONY_LSPTEST_MODE"
)

// Mode selects the fake service's behaviour.
type Mode string

const (
	// ModeOK completes the handshake and answers executeCommand requests.
	ModeOK Mode = "ok"

	// ModeFailInit answers initialize with an error.
	ModeFailInit Mode = "fail-init"

	// ModeHang never answers initialize and ignores stdin closing.
	ModeHang Mode = "hang"

	// ModeCrash exits with status 3 before reading anything.
	ModeCrash Mode = "crash"
)

// ServerName is the name the fake reports in initialize.
const ServerName = "fake-stibium"

// CommandOpened returns the URIs of every didOpen received, in order.
const CommandOpened = "antimony.openedDocuments"

// Commands is what the fake advertises in executeCommandProvider.
var Commands = []string{"antimony.toSBML", "antimony.toAntimony", "antimony.querySpecies", "antimony.echo", CommandOpened}

// Config returns a server config that launches the current test binary
// as a fake service in the given mode.
func Config(mode Mode) lsp.ServerConfig {
	return lsp.ServerConfig{
		Name:             "fake",
		Command:          os.Args[0],
		Args:             []string{"-test.run=TestHelperProcess", "--"},
		Env:              []string{EnvHelper + "=1", EnvMode + "=" + string(mode)},
		Selector:         lsp.DocumentSelector{{Scheme: "file", Language: "antimony"}},
		HandshakeTimeout: 5 * time.Second,
		ShutdownTimeout:  500 * time.Millisecond,
	}
}

// Main runs the fake on stdin/stdout using the mode from the environment
// and returns the process exit code.
func Main() int {
	mode := Mode(os.Getenv(EnvMode))
	if mode == ModeCrash {
		return 3
	}
	if err := Serve(os.Stdin, os.Stdout, mode); err != nil {
		return 1
	}
	return 0
}

// Echo is the result of executeCommand for commands without special handling.
type Echo struct {
	Command   string            `json:"command"`
	Arguments []json.RawMessage `json:"arguments"`
}

// FailFolder makes the fake conversions report an error.
const FailFolder = "/fail"

// executeCommand returns canned conversion and query results and echoes
// everything else.
func executeCommand(command string, args []json.RawMessage) interface{} {
	str := func(i int) string {
		var s string
		if i < len(args) {
			_ = json.Unmarshal(args[i], &s)
		}
		return s
	}

	switch command {
	case "antimony.toSBML", "antimony.toAntimony":
		folder := str(1)
		if folder == FailFolder {
			return map[string]string{"error": "conversion failed"}
		}
		ext := ".xml"
		if command == "antimony.toAntimony" {
			ext = ".ant"
		}
		base := strings.TrimSuffix(path.Base(lsp.URIPath(str(0))), path.Ext(str(0)))
		return map[string]string{
			"msg":  "Model converted",
			"file": path.Join(folder, base+ext),
		}
	case "antimony.querySpecies":
		return map[string]interface{}{
			"query": str(1),
			"items": []map[string]interface{}{{
				"label":       str(1),
				"description": str(0),
				"entity":      map[string]string{"id": "15422", "prefix": str(0)},
			}},
		}
	}
	return Echo{Command: command, Arguments: args}
}

// Serve answers client requests read from r until exit or EOF.
func Serve(r io.Reader, w io.Writer, mode Mode) error {
	p := lsp.NewProtocol(r, w)

	done := make(chan struct{})
	var once sync.Once

	var (
		openedMu sync.Mutex
		opened   = []string{}
	)

	p.OnNotification(func(method string, params json.RawMessage) {
		switch method {
		case "textDocument/didOpen":
			var in lsp.DidOpenTextDocumentParams
			if json.Unmarshal(params, &in) == nil {
				openedMu.Lock()
				opened = append(opened, in.TextDocument.URI)
				openedMu.Unlock()
			}
		case "initialized":
			_ = p.SendNotification("window/logMessage", lsp.LogMessageParams{
				Type:    lsp.MessageTypeInfo,
				Message: "fake service initialized",
			})
		case "exit":
			once.Do(func() { close(done) })
		}
	})

	p.OnRequest(func(method string, params json.RawMessage) (interface{}, *lsp.ResponseError) {
		switch method {
		case "initialize":
			switch mode {
			case ModeFailInit:
				return nil, &lsp.ResponseError{Code: -32603, Message: "initialization refused"}
			case ModeHang:
				time.Sleep(time.Hour)
			}
			return lsp.InitializeResult{
				Capabilities: lsp.ServerCapabilities{
					ExecuteCommandProvider: &lsp.ExecuteCommandOptions{Commands: Commands},
				},
				ServerInfo: &lsp.ServerInfo{Name: ServerName},
			}, nil
		case "shutdown":
			return nil, nil
		case "workspace/executeCommand":
			var in struct {
				Command   string            `json:"command"`
				Arguments []json.RawMessage `json:"arguments"`
			}
			if err := json.Unmarshal(params, &in); err != nil {
				return nil, &lsp.ResponseError{Code: -32602, Message: err.Error()}
			}
			if in.Command == CommandOpened {
				openedMu.Lock()
				defer openedMu.Unlock()
				out := make([]string, len(opened))
				copy(out, opened)
				return out, nil
			}
			return executeCommand(in.Command, in.Arguments), nil
		default:
			return nil, &lsp.ResponseError{Code: -32601, Message: "method not found: " + method}
		}
	})

	errCh := make(chan error, 1)
	go func() { errCh <- p.ReadLoop(context.Background()) }()

	select {
	case <-done:
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, lsp.ErrServerCrashed) {
			return nil
		}
		return err
	}
}
