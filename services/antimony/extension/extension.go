// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extension activates the Antimony bridge inside a host.
//
// Activation starts the analysis service, registers the gated commands
// and the help lens, and connects settings changes to the debounced
// restart. Deactivation stops the service and releases everything that
// activation registered.
package extension

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mastevb/vscode-antimony/pkg/logging"
	"github.com/mastevb/vscode-antimony/services/antimony/codelens"
	"github.com/mastevb/vscode-antimony/services/antimony/connection"
	"github.com/mastevb/vscode-antimony/services/antimony/gate"
	"github.com/mastevb/vscode-antimony/services/antimony/host"
	"github.com/mastevb/vscode-antimony/services/antimony/interpreter"
	"github.com/mastevb/vscode-antimony/services/antimony/reconfig"
	"github.com/mastevb/vscode-antimony/services/antimony/settings"
	"github.com/mastevb/vscode-antimony/services/antimony/workflow"
)

// Options configures Activate.
type Options struct {
	// Host provides the user-facing capabilities. Required.
	Host host.Host

	// Store holds the settings. Required. Activate loads it.
	Store *settings.Store

	// ExtensionRoot locates the default service entry script.
	ExtensionRoot string

	// Resolver validates the interpreter. Nil means interpreter.NewResolver
	// with defaults.
	Resolver connection.Resolver

	// Launcher starts the service. Nil means connection.ServerLauncher.
	Launcher connection.Launcher

	// Scheduler runs debounced restarts. Nil means time.AfterFunc.
	Scheduler reconfig.Scheduler

	// WatchSettings reloads the settings file when it changes on disk.
	WatchSettings bool

	Logger *logging.Logger
}

// Extension is an activated bridge.
type Extension struct {
	ctx       *Context
	store     *settings.Store
	manager   *connection.Manager
	debouncer *reconfig.Debouncer
	gate      *gate.Gate
	registry  *Registry
	lenses    *codelens.Provider
	logger    *logging.Logger

	cancel context.CancelFunc
	group  *errgroup.Group

	deactivateOnce sync.Once
	deactivateErr  error
}

// Activate wires every component and starts the analysis service.
//
// Description:
//
//	A rejected interpreter or a failed launch does not fail activation:
//	the user has been told, commands report the service as unavailable,
//	and fixing the setting restarts the service through the debouncer.
//
// Inputs:
//
//	ctx - Bounds the initial start. Must not be nil.
//	opts - Host and Store are required.
//
// Outputs:
//
//	*Extension - Call Deactivate when done.
//	error - Invalid options, unreadable settings or a watcher failure.
func Activate(ctx context.Context, opts Options) (*Extension, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if opts.Host == nil || opts.Store == nil {
		return nil, errors.New("extension: Host and Store are required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	logger := opts.Logger.With("component", "extension")

	if _, err := opts.Store.Load(); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.Resolver == nil {
		r, err := interpreter.NewResolver(interpreter.Config{Logger: opts.Logger})
		if err != nil {
			return nil, err
		}
		opts.Resolver = r
	}

	e := &Extension{
		ctx:      NewContext(opts.ExtensionRoot),
		store:    opts.Store,
		registry: NewRegistry(),
		lenses:   codelens.NewProvider(connection.Selector),
		logger:   logger,
	}

	e.manager = connection.NewManager(connection.Config{
		Settings:      opts.Store,
		Resolver:      opts.Resolver,
		Launcher:      opts.Launcher,
		Messages:      opts.Host,
		Commands:      opts.Host,
		ExtensionRoot: opts.ExtensionRoot,
		Logger:        opts.Logger,
	})

	if err := e.manager.Start(ctx); err != nil {
		logger.Warn("Language server not started", "error", err)
	}

	e.debouncer = reconfig.New(reconfig.Config{
		Section:   settings.Section,
		Delay:     func() time.Duration { return opts.Store.Get().DebounceDelay },
		Scheduler: opts.Scheduler,
		Action:    e.manager.Restart,
		Logger:    opts.Logger,
	})
	e.ctx.Subscribe(DisposeFunc(func() error {
		e.debouncer.Close()
		return nil
	}))

	e.gate = gate.New(e.manager, opts.Host, opts.Logger)
	runner := workflow.NewRunner(workflow.Config{
		Host:           opts.Host,
		Service:        e.manager,
		Gate:           e.gate,
		RequestTimeout: func() time.Duration { return opts.Store.Get().RequestTimeout },
		Logger:         opts.Logger,
	})
	for name, h := range runner.Handlers() {
		d, err := e.registry.Register(name, h)
		if err != nil {
			_ = e.ctx.Dispose()
			return nil, err
		}
		e.ctx.Subscribe(d)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.group, runCtx = errgroup.WithContext(runCtx)

	if opts.WatchSettings {
		wopts := settings.DefaultWatcherOptions()
		wopts.OnInvalid = func(err error) {
			if _, serr := opts.Host.ShowError(context.Background(), SettingsNotAppliedMessage(err)); serr != nil {
				logger.Warn("Failed to show settings error", "error", serr)
			}
		}
		w, err := settings.NewWatcher(opts.Store, opts.Logger, &wopts)
		if err != nil {
			cancel()
			_ = e.ctx.Dispose()
			return nil, fmt.Errorf("watch settings: %w", err)
		}
		if err := w.Start(runCtx); err != nil {
			cancel()
			w.Stop()
			_ = e.ctx.Dispose()
			return nil, fmt.Errorf("watch settings: %w", err)
		}
		e.ctx.Subscribe(DisposeFunc(func() error {
			w.Stop()
			return nil
		}))
		e.group.Go(func() error {
			err := e.debouncer.Run(runCtx, w.Events())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	logger.Info("Extension activated", "commands", e.registry.Commands())
	return e, nil
}

// Deactivate stops the analysis service and releases every
// subscription. Idempotent.
func (e *Extension) Deactivate(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	e.deactivateOnce.Do(func() {
		e.cancel()
		disposeErr := e.ctx.Dispose()
		groupErr := e.group.Wait()
		stopErr := e.manager.Close(ctx)
		e.deactivateErr = errors.Join(stopErr, disposeErr, groupErr)
		e.logger.Info("Extension deactivated")
	})
	return e.deactivateErr
}

// SettingsNotAppliedMessage is shown when the settings file changes to
// content that fails validation. The previous settings stay in effect.
func SettingsNotAppliedMessage(err error) string {
	return "Antimony settings not applied: " + err.Error()
}

// ExecuteCommand runs a registered command.
func (e *Extension) ExecuteCommand(ctx context.Context, name string, args ...interface{}) error {
	return e.registry.Execute(ctx, name, args...)
}

// Commands returns the registered command names.
func (e *Extension) Commands() []string {
	return e.registry.Commands()
}

// SettingsChanged feeds a change event to the debouncer. Hosts that do
// not use the file watcher call this after updating settings.
func (e *Extension) SettingsChanged(ev settings.ChangeEvent) {
	e.debouncer.Notify(ev)
}

// DidOpen forwards a document to the analysis service.
func (e *Extension) DidOpen(ctx context.Context, doc host.Document) error {
	return e.manager.OpenDocument(ctx, doc)
}

// CodeLenses returns the lenses for doc.
func (e *Extension) CodeLenses(doc host.Document) []codelens.Lens {
	return e.lenses.Provide(doc)
}

// Manager exposes the connection for status queries.
func (e *Extension) Manager() *connection.Manager {
	return e.manager
}

// Context returns the subscription context.
func (e *Extension) Context() *Context {
	return e.ctx
}
