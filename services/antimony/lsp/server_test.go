// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastevb/vscode-antimony/services/antimony/lsp"
	"github.com/mastevb/vscode-antimony/services/antimony/lsp/lsptest"
)

func TestHelperProcess(t *testing.T) {
	if os.Getenv(lsptest.EnvHelper) != "1" {
		return
	}
	os.Exit(lsptest.Main())
}

func startFake(t *testing.T, mode lsptest.Mode) *lsp.Server {
	t.Helper()
	s := lsp.NewServer(lsptest.Config(mode))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestServerState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", lsp.ServerStateUninitialized.String())
	assert.Equal(t, "ready", lsp.ServerStateReady.String())
	assert.Equal(t, "stopped", lsp.ServerStateStopped.String())
	assert.Equal(t, "unknown", lsp.ServerState(42).String())
}

func TestServer_Start_RequiresContext(t *testing.T) {
	s := lsp.NewServer(lsptest.Config(lsptest.ModeOK))
	err := s.Start(nil) //nolint:staticcheck
	assert.Error(t, err)
}

func TestServer_Start_MissingExecutable(t *testing.T) {
	s := lsp.NewServer(lsp.ServerConfig{Name: "missing", Command: "/nonexistent/antimony-server"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, lsp.ErrLaunchFailed))
	assert.Equal(t, lsp.ServerStateStopped, s.State())

	err = s.AwaitReady(context.Background())
	assert.True(t, errors.Is(err, lsp.ErrLaunchFailed))
}

func TestServer_Start_Twice(t *testing.T) {
	s := startFake(t, lsptest.ModeOK)
	assert.Equal(t, lsp.ErrServerAlreadyStarted, s.Start(context.Background()))
}

func TestServer_HandshakeCompletes(t *testing.T) {
	s := startFake(t, lsptest.ModeOK)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.AwaitReady(ctx))

	assert.Equal(t, lsp.ServerStateReady, s.State())
	assert.NotZero(t, s.PID())
	caps := s.Capabilities()
	assert.True(t, caps.SupportsCommand("antimony.toSBML"))
	assert.False(t, caps.SupportsCommand("antimony.unknown"))

	select {
	case <-s.Ready():
	default:
		t.Fatal("Ready channel should be closed")
	}
}

func TestServer_Capabilities_DuringHandshake(t *testing.T) {
	s := startFake(t, lsptest.ModeOK)

	// Read while the handshake stores them; run with -race.
	deadline := time.After(10 * time.Second)
	for {
		caps := s.Capabilities()
		select {
		case <-deadline:
			t.Fatal("handshake did not complete")
		case <-s.Ready():
			readyCaps := s.Capabilities()
			assert.True(t, readyCaps.SupportsCommand(lsptest.CommandOpened))
			return
		case <-time.After(time.Millisecond):
			if s.State() == lsp.ServerStateStarting {
				assert.False(t, caps.SupportsCommand("antimony.unknown"))
			}
		}
	}
}

func TestServer_ExecuteCommand(t *testing.T) {
	s := startFake(t, lsptest.ModeOK)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.AwaitReady(ctx))

	raw, err := s.ExecuteCommand(ctx, "antimony.echo", "file:///tmp/a.ant", "/tmp/out")
	require.NoError(t, err)

	var echo lsptest.Echo
	require.NoError(t, json.Unmarshal(raw, &echo))
	assert.Equal(t, "antimony.echo", echo.Command)
	require.Len(t, echo.Arguments, 2)
	assert.JSONEq(t, `"file:///tmp/a.ant"`, string(echo.Arguments[0]))
	assert.JSONEq(t, `"/tmp/out"`, string(echo.Arguments[1]))
}

func TestServer_Request_UnknownMethod(t *testing.T) {
	s := startFake(t, lsptest.ModeOK)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.AwaitReady(ctx))

	_, err := s.Request(ctx, "antimony/nothing", nil)
	var lspErr *lsp.LSPError
	require.True(t, errors.As(err, &lspErr))
	assert.True(t, lspErr.IsMethodNotFound())
}

func TestServer_DidOpen(t *testing.T) {
	s := startFake(t, lsptest.ModeOK)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.AwaitReady(ctx))

	assert.NoError(t, s.DidOpen(lsp.TextDocumentItem{URI: "file:///a.ant", LanguageID: "antimony", Version: 1}))
}

func TestServer_DidOpen_DuringHandshake(t *testing.T) {
	s := startFake(t, lsptest.ModeOK)

	// Opened straight after Start, before the handshake has settled.
	require.NoError(t, s.DidOpen(lsp.TextDocumentItem{URI: "file:///a.ant", LanguageID: "antimony", Version: 1}))
	require.NoError(t, s.DidOpen(lsp.TextDocumentItem{URI: "file:///b.ant", LanguageID: "antimony", Version: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.AwaitReady(ctx))

	raw, err := s.ExecuteCommand(ctx, lsptest.CommandOpened)
	require.NoError(t, err)
	var opened []string
	require.NoError(t, json.Unmarshal(raw, &opened))
	assert.Equal(t, []string{"file:///a.ant", "file:///b.ant"}, opened)
}

func TestServer_DidOpen_AfterFailedHandshake(t *testing.T) {
	s := startFake(t, lsptest.ModeFailInit)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.Error(t, s.AwaitReady(ctx))
	require.Eventually(t, func() bool {
		return s.State() != lsp.ServerStateStarting
	}, 2*time.Second, 10*time.Millisecond)

	err := s.DidOpen(lsp.TextDocumentItem{URI: "file:///a.ant", LanguageID: "antimony"})
	assert.Equal(t, lsp.ErrServerNotRunning, err)
}

func TestServer_Request_BeforeReady(t *testing.T) {
	s := lsp.NewServer(lsptest.Config(lsptest.ModeOK))
	_, err := s.Request(context.Background(), "initialize", nil)
	assert.Equal(t, lsp.ErrServerNotRunning, err)
}

func TestServer_HandshakeRefused(t *testing.T) {
	s := startFake(t, lsptest.ModeFailInit)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.AwaitReady(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lsp.ErrInitializeFailed))

	select {
	case <-s.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process should exit after a failed handshake")
	}
	assert.Eventually(t, func() bool {
		return s.State() == lsp.ServerStateStopped
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_HandshakeTimeout(t *testing.T) {
	cfg := lsptest.Config(lsptest.ModeHang)
	cfg.HandshakeTimeout = 200 * time.Millisecond
	cfg.ShutdownTimeout = 200 * time.Millisecond
	s := lsp.NewServer(cfg)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	err := s.AwaitReady(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, lsp.ErrInitializeFailed))

	select {
	case <-s.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("hung process should be killed")
	}
}

func TestServer_Crash(t *testing.T) {
	s := startFake(t, lsptest.ModeCrash)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.AwaitReady(ctx)
	assert.Error(t, err)

	select {
	case <-s.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("crashed process should be reaped")
	}
}

func TestServer_AwaitReady_ContextCancelled(t *testing.T) {
	cfg := lsptest.Config(lsptest.ModeHang)
	cfg.HandshakeTimeout = 0
	cfg.ShutdownTimeout = 200 * time.Millisecond
	s := lsp.NewServer(cfg)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := s.AwaitReady(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, lsp.ServerStateStarting, s.State())
}

func TestServer_Shutdown(t *testing.T) {
	s := startFake(t, lsptest.ModeOK)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.AwaitReady(ctx))

	var disposed int32
	s.OnDispose(func() { atomic.AddInt32(&disposed, 1) })

	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, lsp.ServerStateStopped, s.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&disposed))

	select {
	case <-s.Exited():
	default:
		t.Fatal("process should have exited")
	}

	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&disposed), "disposers run once")

	_, err := s.ExecuteCommand(ctx, "antimony.echo")
	assert.Equal(t, lsp.ErrServerNotRunning, err)
}

func TestServer_Shutdown_DuringHandshake(t *testing.T) {
	cfg := lsptest.Config(lsptest.ModeHang)
	cfg.HandshakeTimeout = 0
	cfg.ShutdownTimeout = 200 * time.Millisecond
	s := lsp.NewServer(cfg)
	require.NoError(t, s.Start(context.Background()))

	waitErr := make(chan error, 1)
	go func() { waitErr <- s.AwaitReady(context.Background()) }()

	require.NoError(t, s.Shutdown(context.Background()))

	select {
	case err := <-waitErr:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("AwaitReady should return after Shutdown")
	}
	assert.Equal(t, lsp.ServerStateStopped, s.State())
}

func TestServer_Shutdown_WaitsForHandshakeCleanup(t *testing.T) {
	cfg := lsptest.Config(lsptest.ModeHang)
	cfg.HandshakeTimeout = 200 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	s := lsp.NewServer(cfg)
	require.NoError(t, s.Start(context.Background()))

	require.Error(t, s.AwaitReady(context.Background()))
	// The failed handshake is now shutting the hung process down.
	require.Eventually(t, func() bool {
		return s.State() == lsp.ServerStateStopping
	}, time.Second, 5*time.Millisecond)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(short), context.DeadlineExceeded)

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case <-s.Exited():
	default:
		t.Fatal("Shutdown returned while the process was still running")
	}
	assert.Equal(t, lsp.ServerStateStopped, s.State())
}

func TestServer_Shutdown_NeverStarted(t *testing.T) {
	s := lsp.NewServer(lsptest.Config(lsptest.ModeOK))
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, lsp.ServerStateStopped, s.State())
	assert.Equal(t, lsp.ErrServerNotRunning, s.AwaitReady(context.Background()))
}
