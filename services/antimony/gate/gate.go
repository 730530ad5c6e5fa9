// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gate checks that the analysis service is ready before a
// command that depends on it runs.
//
// The check is per invocation. A connection that was ready for one
// command may be gone for the next after a reconfiguration restart.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mastevb/vscode-antimony/pkg/logging"
	"github.com/mastevb/vscode-antimony/services/antimony/host"
)

// UnavailableMessage is shown when a gated command cannot run.
const UnavailableMessage = `The Antimony language server is not available. Check the "antimony.pythonInterpreter" setting.`

// ErrUnavailable indicates the analysis service cannot serve a command.
// The user has already been told.
var ErrUnavailable = errors.New("language server unavailable")

// Connection is the part of connection.Manager the gate needs.
type Connection interface {
	Active() bool
	AwaitReady(ctx context.Context) error
}

// Handler is a host command implementation.
type Handler func(ctx context.Context, args ...interface{}) error

// Gate guards commands on connection readiness.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Gate struct {
	conn     Connection
	messages host.Messages
	logger   *logging.Logger
}

// New creates a gate. logger may be nil.
func New(conn Connection, messages host.Messages, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{
		conn:     conn,
		messages: messages,
		logger:   logger.With("component", "gate"),
	}
}

// Guard returns nil once the connection is ready.
//
// Description:
//
//	Without an active connection Guard reports UnavailableMessage and
//	returns ErrUnavailable immediately. Otherwise it suspends on
//	AwaitReady. A readiness failure is reported the same way and
//	returned wrapped in ErrUnavailable. When ctx itself ends, ctx.Err()
//	is returned and nothing is shown.
//
// Inputs:
//
//	ctx - Bounds the wait. Must not be nil.
//
// Outputs:
//
//	error - Nil when the command may proceed.
func (g *Gate) Guard(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	if !g.conn.Active() {
		g.notify(ctx)
		return ErrUnavailable
	}

	if err := g.conn.AwaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.logger.Warn("Language server not ready", "error", err)
		g.notify(ctx)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (g *Gate) notify(ctx context.Context) {
	if g.messages == nil {
		return
	}
	if _, err := g.messages.ShowError(ctx, UnavailableMessage); err != nil {
		g.logger.Warn("Failed to show message", "error", err)
	}
}

// Wrap returns a handler that runs Guard before fn on every call.
//
// A guard failure ends the invocation: fn is not called and the guard
// error is returned.
func (g *Gate) Wrap(name string, fn Handler) Handler {
	return func(ctx context.Context, args ...interface{}) error {
		ctx, span := startCommandSpan(ctx, name)
		defer span.End()
		start := time.Now()

		if err := g.Guard(ctx); err != nil {
			span.SetStatus(codes.Error, "gated")
			span.SetAttributes(attribute.Bool("antimony.gated", true))
			recordCommand(ctx, name, "gated", time.Since(start))
			return err
		}

		err := fn(ctx, args...)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		recordCommand(ctx, name, outcome, time.Since(start))
		return err
	}
}
