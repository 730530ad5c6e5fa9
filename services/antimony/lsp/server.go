// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState is the lifecycle state of an analysis-service process.
type ServerState int

const (
	// ServerStateUninitialized is the state before Start.
	ServerStateUninitialized ServerState = iota

	// ServerStateStarting means the process runs but the handshake is pending.
	ServerStateStarting

	// ServerStateReady means the handshake completed.
	ServerStateReady

	// ServerStateStopping means Shutdown is in progress.
	ServerStateStopping

	// ServerStateStopped means the process has terminated or never launched.
	ServerStateStopped
)

// String returns a human-readable state name.
func (s ServerState) String() string {
	names := []string{"uninitialized", "starting", "ready", "stopping", "stopped"}
	if int(s) >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// SERVER CONFIG
// =============================================================================

// ServerConfig describes how to launch and talk to the analysis service.
type ServerConfig struct {
	// Name is used in logs, e.g. "Antimony Language Server".
	Name string

	// Command is the executable (absolute path or $PATH name).
	Command string

	// Args are passed verbatim after Command.
	Args []string

	// Dir is the working directory of the process. Empty inherits ours.
	Dir string

	// Env adds KEY=VALUE pairs to the inherited environment.
	Env []string

	// RootPath is reported as the workspace root in initialize. Optional.
	RootPath string

	// Selector is the set of documents this server handles.
	Selector DocumentSelector

	// InitializationOptions is passed through in initialize.
	InitializationOptions interface{}

	// HandshakeTimeout bounds the initialize request. Zero waits forever.
	HandshakeTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown before the process is killed.
	// Zero means 5 seconds.
	ShutdownTimeout time.Duration

	// OnMessage receives window/showMessage payloads. Optional.
	OnMessage func(LogMessageParams)
}

// =============================================================================
// SERVER
// =============================================================================

// Server is one running analysis-service process.
//
// Description:
//
//	Start launches the process and returns immediately; the initialize
//	handshake continues in the background. AwaitReady blocks until the
//	handshake settles. Shutdown stops the process and runs the disposal
//	callbacks registered with OnDispose.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Server struct {
	config ServerConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	protocol     *Protocol
	capabilities ServerCapabilities

	state   ServerState
	stateMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	readDone chan struct{}
	exited   chan struct{}
	exitErr  error

	ready      chan struct{}
	failed     chan struct{}
	startErr   error
	settleOnce sync.Once

	// stopped is closed when the Shutdown that moved the server to
	// stopping has finished.
	stopped chan struct{}

	// pendingOpens holds didOpen items received during the handshake.
	// Lock order: pendingMu before stateMu.
	pendingMu    sync.Mutex
	pendingOpens []TextDocumentItem

	disposeMu sync.Mutex
	disposers []func()
}

// NewServer creates a server that is not started.
func NewServer(config ServerConfig) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		config:   config,
		state:    ServerStateUninitialized,
		readDone: make(chan struct{}),
		exited:   make(chan struct{}),
		ready:    make(chan struct{}),
		failed:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the process and begins the handshake in the background.
//
// Description:
//
//	Returns once the process is running. The server is "starting" until
//	the handshake completes; use AwaitReady to wait for it.
//
// Inputs:
//
//	ctx - Only checked for nil; the process outlives it.
//
// Outputs:
//
//	error - Non-nil if the process could not be launched.
//
// Errors:
//
//	ErrServerAlreadyStarted - Start called more than once
//	ErrLaunchFailed - executable missing or not runnable
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.stateMu.Lock()
	if s.state != ServerStateUninitialized {
		s.stateMu.Unlock()
		return ErrServerAlreadyStarted
	}
	s.state = ServerStateStarting
	s.stateMu.Unlock()

	path, err := exec.LookPath(s.config.Command)
	if err != nil {
		s.fail(fmt.Errorf("%w: %s: %v", ErrLaunchFailed, s.config.Command, err))
		s.setState(ServerStateStopped)
		recordServerSpawn(ctx, false)
		return s.startErr
	}

	slog.Info("Starting analysis service",
		slog.String("name", s.config.Name),
		slog.String("command", path),
		slog.Any("args", s.config.Args),
	)

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.cmd = exec.Command(path, s.config.Args...)
	s.cmd.Dir = s.config.Dir
	if len(s.config.Env) > 0 {
		s.cmd.Env = append(os.Environ(), s.config.Env...)
	}
	s.cmd.Stderr = &stderrLogger{name: s.config.Name}

	if s.stdin, err = s.cmd.StdinPipe(); err != nil {
		return s.launchFailed(ctx, fmt.Errorf("stdin pipe: %w", err))
	}
	if s.stdout, err = s.cmd.StdoutPipe(); err != nil {
		return s.launchFailed(ctx, fmt.Errorf("stdout pipe: %w", err))
	}
	if err := s.cmd.Start(); err != nil {
		return s.launchFailed(ctx, fmt.Errorf("%w: %v", ErrLaunchFailed, err))
	}
	recordServerSpawn(ctx, true)

	s.protocol = NewProtocol(s.stdout, s.stdin)
	s.protocol.OnNotification(s.handleNotification)
	s.protocol.OnRequest(func(method string, _ json.RawMessage) (interface{}, *ResponseError) {
		slog.Debug("Analysis service request", slog.String("method", method))
		return nil, nil
	})

	go func() {
		s.exitErr = s.cmd.Wait()
		close(s.exited)
	}()

	go func() {
		defer close(s.readDone)
		err := s.protocol.ReadLoop(s.ctx)
		s.protocol.Close()
		if st := s.State(); st == ServerStateStarting || st == ServerStateReady {
			slog.Warn("Analysis service connection lost",
				slog.String("name", s.config.Name),
				slog.Any("error", err),
			)
			s.setState(ServerStateStopped)
		}
	}()

	go s.handshake()

	return nil
}

func (s *Server) launchFailed(ctx context.Context, err error) error {
	s.cleanup()
	s.fail(err)
	recordServerSpawn(ctx, false)
	return err
}

// handshake performs initialize/initialized and settles readiness.
func (s *Server) handshake() {
	ctx := s.ctx
	if s.config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.HandshakeTimeout)
		defer cancel()
	}

	caps, err := s.initialize(ctx)
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrInitializeFailed, err))
		slog.Error("Analysis service handshake failed",
			slog.String("name", s.config.Name),
			slog.String("error", err.Error()),
		)
		_ = s.Shutdown(context.Background())
		return
	}

	s.pendingMu.Lock()
	s.stateMu.Lock()
	if s.state != ServerStateStarting {
		s.stateMu.Unlock()
		s.pendingOpens = nil
		s.pendingMu.Unlock()
		s.fail(ErrServerNotRunning)
		return
	}
	s.state = ServerStateReady
	s.capabilities = caps
	s.stateMu.Unlock()
	s.replayOpens()
	s.pendingMu.Unlock()

	s.settleOnce.Do(func() { close(s.ready) })

	slog.Info("Analysis service ready",
		slog.String("name", s.config.Name),
		slog.Int("pid", s.PID()),
	)
}

// replayOpens sends the didOpen items queued during the handshake, in
// order. Caller holds pendingMu.
func (s *Server) replayOpens() {
	opens := s.pendingOpens
	s.pendingOpens = nil
	for _, item := range opens {
		if err := s.protocol.SendNotification("textDocument/didOpen", DidOpenTextDocumentParams{TextDocument: item}); err != nil {
			slog.Warn("Failed to replay didOpen",
				slog.String("name", s.config.Name),
				slog.String("uri", item.URI),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

func (s *Server) initialize(ctx context.Context) (ServerCapabilities, error) {
	params := InitializeParams{
		ProcessID:  os.Getpid(),
		ClientInfo: &ClientInfo{Name: "antimony-bridge"},
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Synchronization: &TextDocumentSyncClientCapabilities{DidSave: true},
			},
			Workspace: WorkspaceClientCapabilities{
				ExecuteCommand: &ExecuteCommandClientCapabilities{},
			},
		},
		InitializationOptions: s.config.InitializationOptions,
	}
	if s.config.RootPath != "" {
		uri := FileURI(s.config.RootPath)
		params.RootURI = &uri
		params.WorkspaceFolders = []WorkspaceFolder{{URI: uri, Name: "workspace"}}
	}

	resp, err := s.protocol.SendRequest(ctx, "initialize", params)
	if err != nil {
		return ServerCapabilities{}, fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return ServerCapabilities{}, fmt.Errorf("parse initialize result: %w", err)
		}
	}

	if err := s.protocol.SendNotification("initialized", struct{}{}); err != nil {
		return ServerCapabilities{}, fmt.Errorf("initialized notification: %w", err)
	}
	return result.Capabilities, nil
}

func (s *Server) handleNotification(method string, params json.RawMessage) {
	switch method {
	case "window/logMessage", "window/showMessage":
		var msg LogMessageParams
		if err := json.Unmarshal(params, &msg); err != nil {
			return
		}
		level := slog.LevelDebug
		switch msg.Type {
		case MessageTypeError:
			level = slog.LevelError
		case MessageTypeWarning:
			level = slog.LevelWarn
		case MessageTypeInfo:
			level = slog.LevelInfo
		}
		slog.Log(context.Background(), level, msg.Message, slog.String("source", s.config.Name))
		if method == "window/showMessage" && s.config.OnMessage != nil {
			s.config.OnMessage(msg)
		}
	default:
		slog.Debug("Analysis service notification", slog.String("method", method))
	}
}

// fail records the start error once and releases AwaitReady callers.
func (s *Server) fail(err error) {
	s.settleOnce.Do(func() {
		s.startErr = err
		close(s.failed)
	})
}

// AwaitReady blocks until the handshake completes, fails, or ctx ends.
func (s *Server) AwaitReady(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	select {
	case <-s.ready:
		return nil
	case <-s.failed:
		return s.startErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once the handshake succeeds.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Exited is closed when the process has exited.
func (s *Server) Exited() <-chan struct{} {
	return s.exited
}

// Shutdown gracefully stops the server.
//
// Description:
//
//	Sends shutdown and exit, closes stdin, waits for the process and kills
//	it after ShutdownTimeout. Disposal callbacks run last. Idempotent.
//
//	A call that finds another shutdown in progress, including the one a
//	failed handshake starts, waits for it to finish. ctx bounds only
//	that wait and the shutdown request.
//
// Errors:
//
//	ctx.Err() - ctx ended while another shutdown was still running
func (s *Server) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.stateMu.Lock()
	prev := s.state
	switch prev {
	case ServerStateStopping:
		s.stateMu.Unlock()
		select {
		case <-s.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case ServerStateStopped:
		s.stateMu.Unlock()
		s.cleanup()
		// The connection can drop while the process lives on.
		s.reap()
		s.dispose()
		return nil
	case ServerStateUninitialized:
		s.state = ServerStateStopped
		s.stateMu.Unlock()
		s.fail(ErrServerNotRunning)
		return nil
	}
	s.state = ServerStateStopping
	s.stateMu.Unlock()

	slog.Info("Shutting down analysis service", slog.String("name", s.config.Name))

	defer close(s.stopped)
	defer s.dispose()
	defer s.cleanup()
	s.fail(ErrServerNotRunning)

	if s.protocol != nil && !s.protocol.Closed() {
		if prev == ServerStateReady {
			shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
			_, _ = s.protocol.SendRequest(shutdownCtx, "shutdown", nil)
			cancel()
		}
		_ = s.protocol.SendNotification("exit", nil)
		s.protocol.Close()
	}

	if s.stdin != nil {
		_ = s.stdin.Close()
	}

	s.reap()

	if s.cancel != nil {
		s.cancel()
	}
	if s.protocol != nil {
		select {
		case <-s.readDone:
		case <-time.After(time.Second):
		}
	}
	return nil
}

// reap waits for the process to exit and kills it after ShutdownTimeout.
func (s *Server) reap() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	select {
	case <-s.exited:
	case <-time.After(s.config.ShutdownTimeout):
		_ = s.cmd.Process.Kill()
		<-s.exited
	}
}

func (s *Server) cleanup() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	s.setState(ServerStateStopped)
}

// OnDispose registers a callback run once after the server stops.
func (s *Server) OnDispose(fn func()) {
	s.disposeMu.Lock()
	s.disposers = append(s.disposers, fn)
	s.disposeMu.Unlock()
}

func (s *Server) dispose() {
	s.disposeMu.Lock()
	fns := s.disposers
	s.disposers = nil
	s.disposeMu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current server state.
func (s *Server) State() ServerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Config returns the launch configuration.
func (s *Server) Config() ServerConfig {
	return s.config
}

// Capabilities returns what the service reported in initialize. Zero
// until ready.
func (s *Server) Capabilities() ServerCapabilities {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.capabilities
}

// PID returns the process ID, or 0 if the process never started.
func (s *Server) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// =============================================================================
// REQUEST METHODS
// =============================================================================

// Request sends a request and waits for the response. The server must be ready.
func (s *Server) Request(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if s.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}

	ctx, span := startRequestSpan(ctx, method)
	defer span.End()

	start := time.Now()
	resp, err := s.protocol.SendRequest(ctx, method, params)
	recordRequest(ctx, method, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
	}
	return resp, err
}

// Notify sends a notification. The server must be ready.
func (s *Server) Notify(method string, params interface{}) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	return s.protocol.SendNotification(method, params)
}

// ExecuteCommand runs workspace/executeCommand and returns the raw result.
func (s *Server) ExecuteCommand(ctx context.Context, command string, args ...interface{}) (json.RawMessage, error) {
	resp, err := s.Request(ctx, "workspace/executeCommand", ExecuteCommandParams{
		Command:   command,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// DidOpen notifies the service that a document was opened. Documents
// opened during the handshake are queued and sent, in order, as soon as
// the server is ready.
func (s *Server) DidOpen(item TextDocumentItem) error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.State() == ServerStateStarting {
		s.pendingOpens = append(s.pendingOpens, item)
		return nil
	}
	return s.Notify("textDocument/didOpen", DidOpenTextDocumentParams{TextDocument: item})
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (s *Server) setState(state ServerState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// stderrLogger forwards the service's stderr to the debug log line by line.
type stderrLogger struct {
	name string
	mu   sync.Mutex
	buf  []byte
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.buf[:i], "\r")
		if len(line) > 0 {
			slog.Debug("Analysis service stderr",
				slog.String("name", w.name),
				slog.String("line", string(line)),
			)
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
