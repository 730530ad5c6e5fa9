// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastevb/vscode-antimony/services/antimony/host/hosttest"
)

type fakeConn struct {
	active   bool
	readyErr error
	wait     chan struct{}
	awaits   atomic.Int32
}

func (c *fakeConn) Active() bool { return c.active }

func (c *fakeConn) AwaitReady(ctx context.Context) error {
	c.awaits.Add(1)
	if c.wait != nil {
		select {
		case <-c.wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.readyErr
}

func TestGuard_NoConnection(t *testing.T) {
	conn := &fakeConn{}
	h := hosttest.New()
	g := New(conn, h, nil)

	err := g.Guard(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, 1, h.ErrorCount())
	assert.Equal(t, UnavailableMessage, h.Errors[0].Text)
	assert.Empty(t, h.Errors[0].Actions)
	assert.Equal(t, int32(0), conn.awaits.Load())
}

func TestGuard_Ready(t *testing.T) {
	conn := &fakeConn{active: true}
	h := hosttest.New()
	g := New(conn, h, nil)

	require.NoError(t, g.Guard(context.Background()))
	assert.Equal(t, 0, h.ErrorCount())
	assert.Equal(t, int32(1), conn.awaits.Load())
}

func TestGuard_WaitsForReadiness(t *testing.T) {
	conn := &fakeConn{active: true, wait: make(chan struct{})}
	g := New(conn, hosttest.New(), nil)

	done := make(chan error, 1)
	go func() { done <- g.Guard(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Guard returned before the connection was ready")
	case <-time.After(50 * time.Millisecond):
	}

	close(conn.wait)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Guard did not return after readiness")
	}
}

func TestGuard_ReadinessFailure(t *testing.T) {
	startErr := errors.New("handshake refused")
	conn := &fakeConn{active: true, readyErr: startErr}
	h := hosttest.New()
	g := New(conn, h, nil)

	err := g.Guard(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, startErr)
	assert.Equal(t, 1, h.ErrorCount())
}

func TestGuard_CallerCancelledIsSilent(t *testing.T) {
	conn := &fakeConn{active: true, wait: make(chan struct{})}
	h := hosttest.New()
	g := New(conn, h, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Guard(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, h.ErrorCount())
}

func TestGuard_NilContext(t *testing.T) {
	g := New(&fakeConn{}, hosttest.New(), nil)
	//nolint:staticcheck
	assert.Error(t, g.Guard(nil))
}

func TestWrap_RechecksEveryInvocation(t *testing.T) {
	conn := &fakeConn{active: true}
	h := hosttest.New()
	g := New(conn, h, nil)

	var calls atomic.Int32
	var gotArgs []interface{}
	cmd := g.Wrap("antimony.test", func(ctx context.Context, args ...interface{}) error {
		calls.Add(1)
		gotArgs = args
		return nil
	})

	require.NoError(t, cmd(context.Background(), "a", 2))
	assert.Equal(t, []interface{}{"a", 2}, gotArgs)

	conn.active = false
	err := cmd(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	conn.active = true
	require.NoError(t, cmd(context.Background()))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(2), conn.awaits.Load())
	assert.Equal(t, 1, h.ErrorCount())
}

func TestWrap_PropagatesHandlerError(t *testing.T) {
	g := New(&fakeConn{active: true}, hosttest.New(), nil)
	want := errors.New("request failed")
	cmd := g.Wrap("antimony.test", func(context.Context, ...interface{}) error { return want })
	assert.ErrorIs(t, cmd(context.Background()), want)
}
