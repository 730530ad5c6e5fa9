// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package connection owns the single connection to the Antimony analysis
// service.
//
// # Lifecycle
//
//	        Start (interpreter ok)          handshake ok
//	none ─────────────────────────► active ──────────────► active+ready
//	  ▲                                │                        │
//	  └──────────── Stop ◄─────────────┴────────────────────────┘
//
// Restart is Stop followed by Start under one lock, so at most one
// connection exists at any time and a stop always finishes before the
// next start begins.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/mastevb/vscode-antimony/pkg/logging"
	"github.com/mastevb/vscode-antimony/services/antimony/host"
	"github.com/mastevb/vscode-antimony/services/antimony/interpreter"
	"github.com/mastevb/vscode-antimony/services/antimony/lsp"
	"github.com/mastevb/vscode-antimony/services/antimony/settings"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// ServerName names the analysis service in logs.
const ServerName = "Antimony Language Server"

// LanguageID is the document language the service handles.
const LanguageID = "antimony"

// EditInSettings is the action offered with interpreter errors.
const EditInSettings = "Edit in settings"

// InterpreterSetting is the fully-qualified interpreter setting.
const InterpreterSetting = settings.Section + "." + settings.KeyPythonInterpreter

// Selector is the document selector bound to every connection.
var Selector = lsp.DocumentSelector{{Scheme: "file", Language: LanguageID}}

// DefaultServerEntry returns the service entry script under root.
func DefaultServerEntry(root string) string {
	return filepath.Join(root, "src", "server", "main.py")
}

// =============================================================================
// CAPABILITIES
// =============================================================================

// SettingsSource provides the current settings.
type SettingsSource interface {
	Get() settings.Settings
}

// Resolver validates an interpreter.
type Resolver interface {
	Resolve(ctx context.Context, executable string) interpreter.Result
	MinVersion() string
}

// Handle is one running analysis service. *lsp.Server implements it.
type Handle interface {
	AwaitReady(ctx context.Context) error
	Shutdown(ctx context.Context) error
	ExecuteCommand(ctx context.Context, command string, args ...interface{}) (json.RawMessage, error)
	DidOpen(item lsp.TextDocumentItem) error
	State() lsp.ServerState
	OnDispose(fn func())
	Exited() <-chan struct{}
}

// Launcher starts an analysis service.
type Launcher interface {
	Launch(ctx context.Context, cfg lsp.ServerConfig) (Handle, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, cfg lsp.ServerConfig) (Handle, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch(ctx context.Context, cfg lsp.ServerConfig) (Handle, error) {
	return f(ctx, cfg)
}

// ServerLauncher launches real processes with lsp.Server.
type ServerLauncher struct{}

// Launch implements Launcher.
func (ServerLauncher) Launch(ctx context.Context, cfg lsp.ServerConfig) (Handle, error) {
	s := lsp.NewServer(cfg)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// =============================================================================
// MANAGER
// =============================================================================

// Config wires a Manager.
type Config struct {
	Settings SettingsSource
	Resolver Resolver
	Launcher Launcher
	Messages host.Messages
	Commands host.Commands

	// ExtensionRoot locates the default server entry and is the working
	// directory of the service.
	ExtensionRoot string

	Logger *logging.Logger
}

// Manager owns the at-most-one analysis service connection.
//
// Thread Safety:
//
//	Safe for concurrent use. Start, Stop and Restart are serialised.
type Manager struct {
	cfg    Config
	logger *logging.Logger

	lifecycle sync.Mutex
	closed    bool

	mu     sync.RWMutex
	active Handle
	// retiring is the handle stop is shutting down. Its exit is expected.
	retiring Handle
}

// NewManager creates a manager with no connection.
func NewManager(cfg Config) *Manager {
	if cfg.Launcher == nil {
		cfg.Launcher = ServerLauncher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "connection"),
	}
}

// Start resolves the interpreter and launches the service.
//
// Description:
//
//	When the interpreter is rejected the user sees an error with an
//	"Edit in settings" action and no connection is created. Otherwise the
//	service is launched and the handshake continues in the background;
//	the connection is active immediately and ready later. Starting while
//	a connection is active is a no-op.
//
// Errors:
//
//	*InterpreterError (ErrInterpreterRejected) - interpreter unusable or too old
//	ErrStartFailed - the process could not be launched
//	ErrClosed - Close was called
//	ctx.Err() - ctx ended while the interpreter was checked
func (m *Manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.start(ctx)
}

func (m *Manager) start(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	if m.Active() {
		return nil
	}

	ctx, span := startLifecycleSpan(ctx, "Manager.Start")
	defer span.End()

	st := m.cfg.Settings.Get()
	exe := st.PythonInterpreter

	res := m.cfg.Resolver.Resolve(ctx, exe)
	if err := ctx.Err(); err != nil {
		// A cancelled check says nothing about the interpreter.
		m.logger.Debug("Start abandoned", "interpreter", exe, "error", err)
		recordStart(ctx, "cancelled")
		return err
	}
	if !res.OK() {
		m.logger.Warn("Interpreter rejected",
			"interpreter", exe,
			"status", res.Status.String(),
			"output", res.Output,
			"error", res.Err,
		)
		recordStart(ctx, "interpreter_"+res.Status.String())
		m.reportInterpreter(ctx, res)
		return &InterpreterError{Result: res}
	}

	entry := st.ServerEntry
	if entry == "" {
		entry = DefaultServerEntry(m.cfg.ExtensionRoot)
	}

	h, err := m.cfg.Launcher.Launch(ctx, lsp.ServerConfig{
		Name:      ServerName,
		Command:   exe,
		Args:      []string{entry},
		Dir:       m.cfg.ExtensionRoot,
		RootPath:  m.cfg.ExtensionRoot,
		Selector:  Selector,
		OnMessage: m.forwardMessage,
	})
	if err != nil {
		m.logger.Error("Failed to launch language server", "interpreter", exe, "entry", entry, "error", err)
		recordStart(ctx, "launch_failed")
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	h.OnDispose(func() {
		m.logger.Debug("Connection disposed", "interpreter", exe)
	})

	m.mu.Lock()
	m.active = h
	m.mu.Unlock()

	go m.watchExit(h)

	recordStart(ctx, "launched")
	m.logger.Info("Language server launched", "interpreter", exe, "entry", entry)
	return nil
}

// reportInterpreter shows the interpreter error and opens the settings
// when the user picks the action.
func (m *Manager) reportInterpreter(ctx context.Context, res interpreter.Result) {
	if m.cfg.Messages == nil {
		return
	}
	msg := InterpreterMessage(res, m.cfg.Resolver.MinVersion())
	choice, err := m.cfg.Messages.ShowError(ctx, msg, EditInSettings)
	if err != nil {
		m.logger.Warn("Failed to show interpreter error", "error", err)
		return
	}
	if choice != EditInSettings || m.cfg.Commands == nil {
		return
	}
	if _, err := m.cfg.Commands.ExecuteCommand(ctx, host.CommandOpenSettings, InterpreterSetting); err != nil {
		m.logger.Warn("Failed to open settings", "error", err)
	}
}

func (m *Manager) forwardMessage(msg lsp.LogMessageParams) {
	if m.cfg.Messages == nil {
		return
	}
	// The protocol read loop must not block on the user.
	go func() {
		ctx := context.Background()
		if msg.Type == lsp.MessageTypeError {
			_, _ = m.cfg.Messages.ShowError(ctx, msg.Message)
			return
		}
		_, _ = m.cfg.Messages.ShowInfo(ctx, msg.Message)
	}()
}

// watchExit clears a connection whose process exited without stop
// asking it to, so the next Start launches a fresh one.
func (m *Manager) watchExit(h Handle) {
	<-h.Exited()
	m.mu.Lock()
	crashed := m.active == h && m.retiring != h
	if crashed {
		m.active = nil
	}
	m.mu.Unlock()
	if !crashed {
		return
	}

	m.logger.Warn("Language server exited unexpectedly")
	// Releases the pipes and runs the disposers.
	if err := h.Shutdown(context.Background()); err != nil {
		m.logger.Debug("Cleanup after exit reported an error", "error", err)
	}
}

// Stop shuts down the active connection, if any, and clears it. The
// connection is cleared even when shutdown reports an error.
func (m *Manager) Stop(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.stop(ctx)
}

func (m *Manager) stop(ctx context.Context) error {
	m.mu.Lock()
	h := m.active
	m.retiring = h
	m.mu.Unlock()
	if h == nil {
		return nil
	}

	ctx, span := startLifecycleSpan(ctx, "Manager.Stop")
	defer span.End()

	err := h.Shutdown(ctx)

	m.mu.Lock()
	m.active = nil
	m.retiring = nil
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("Language server shutdown reported an error", "error", err)
		span.RecordError(err)
		return err
	}
	m.logger.Info("Language server stopped")
	return nil
}

// Close stops the connection and makes every later Start and Restart
// return ErrClosed. Idempotent.
func (m *Manager) Close(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.closed = true
	return m.stop(ctx)
}

// Restart stops then starts. The stop always completes first, and an
// error from it does not prevent the start.
func (m *Manager) Restart(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.closed {
		return ErrClosed
	}

	recordRestart(ctx)
	m.logger.Info("Restarting language server")

	stopErr := m.stop(ctx)
	startErr := m.start(ctx)
	return errors.Join(stopErr, startErr)
}

// AwaitReady blocks until the active connection's handshake completes.
//
// Errors:
//
//	ErrNotStarted - no active connection
//	ErrStartFailed - handshake failed or did not finish within ReadyTimeout
//	ctx.Err() - the caller gave up first
func (m *Manager) AwaitReady(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	m.mu.RLock()
	h := m.active
	m.mu.RUnlock()
	if h == nil {
		return ErrNotStarted
	}

	waitCtx := ctx
	timeout := m.cfg.Settings.Get().ReadyTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := h.AwaitReady(waitCtx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) && waitCtx.Err() != nil:
		m.logger.Warn("Language server not ready in time", "timeout", timeout.String())
		return fmt.Errorf("%w: not ready after %s", ErrStartFailed, time.Since(start).Round(time.Millisecond))
	default:
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
}

// IsReady reports whether the active connection completed its handshake.
func (m *Manager) IsReady() bool {
	m.mu.RLock()
	h := m.active
	m.mu.RUnlock()
	return h != nil && h.State() == lsp.ServerStateReady
}

// Active reports whether a connection exists.
func (m *Manager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active != nil
}

// ExecuteCommand sends workspace/executeCommand to the active connection.
func (m *Manager) ExecuteCommand(ctx context.Context, command string, args ...interface{}) (json.RawMessage, error) {
	m.mu.RLock()
	h := m.active
	m.mu.RUnlock()
	if h == nil {
		return nil, ErrNotStarted
	}
	return h.ExecuteCommand(ctx, command, args...)
}

// OpenDocument forwards didOpen for documents the selector matches.
// Other documents are ignored.
func (m *Manager) OpenDocument(ctx context.Context, doc host.Document) error {
	if !Selector.Matches(doc.LanguageID, doc.Scheme()) {
		return nil
	}
	m.mu.RLock()
	h := m.active
	m.mu.RUnlock()
	if h == nil {
		return ErrNotStarted
	}
	return h.DidOpen(doc.Item())
}
