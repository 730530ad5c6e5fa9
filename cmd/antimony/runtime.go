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
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mastevb/vscode-antimony/pkg/logging"
	"github.com/mastevb/vscode-antimony/pkg/telemetry"
	"github.com/mastevb/vscode-antimony/pkg/ux"
	"github.com/mastevb/vscode-antimony/services/antimony/connection"
	"github.com/mastevb/vscode-antimony/services/antimony/extension"
	"github.com/mastevb/vscode-antimony/services/antimony/host/terminal"
	"github.com/mastevb/vscode-antimony/services/antimony/lsp"
	"github.com/mastevb/vscode-antimony/services/antimony/settings"
)

// EnvExtensionRoot locates the service scripts when --extension-root is
// not given.
const EnvExtensionRoot = "ANTIMONY_EXTENSION_ROOT"

// Overridden by tests.
var (
	testResolver connection.Resolver
	testLauncher connection.Launcher
	testPrompter terminal.Prompter
)

// shownError marks an error the user has already seen.
type shownError struct {
	err error
}

func (e *shownError) Error() string { return e.err.Error() }
func (e *shownError) Unwrap() error { return e.err }

// globalFlags are the persistent flags of the root command.
type globalFlags struct {
	settingsPath  string
	logLevel      string
	logDir        string
	output        string
	metricsAddr   string
	traceExporter string
	extensionRoot string
}

// runtime is the per-invocation state shared by every subcommand.
type runtime struct {
	flags   *globalFlags
	cmd     *cobra.Command
	printer *ux.Printer
	logger  *logging.Logger
	store   *settings.Store

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	shutdownTelemetry func(context.Context) error
}

// newRuntime loads settings and starts logging and telemetry.
func newRuntime(cmd *cobra.Command, flags *globalFlags) (*runtime, error) {
	out := cmd.OutOrStdout()
	mode := ux.DetectMode(out)
	if flags.output != "" {
		mode = ux.ParseMode(flags.output)
	}
	ux.SetMode(mode)
	printer := ux.NewPrinterMode(out, mode)

	path := flags.settingsPath
	if path == "" {
		p, err := settings.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	// The log level lives in the settings file, so read it before the
	// logger exists.
	initial, err := settings.NewStore(path, nil).Load()
	if err != nil {
		return nil, err
	}
	levelName := initial.LogLevel
	if flags.logLevel != "" {
		levelName = flags.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:    level,
		LogDir:   flags.logDir,
		Service:  "antimony",
		JSON:     mode == ux.ModeJSON,
		Exporter: telemetry.NewLogCounter(),
		Writer:   cmd.ErrOrStderr(),
	})

	store := settings.NewStore(path, logger)
	if _, err := store.Load(); err != nil {
		_ = logger.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	rt := &runtime{
		flags:   flags,
		cmd:     cmd,
		printer: printer,
		logger:  logger,
		store:   store,
		cancel:  cancel,
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.Writer = cmd.ErrOrStderr()
	if flags.traceExporter != "" {
		tcfg.TraceExporter = flags.traceExporter
	}
	if flags.metricsAddr != "" {
		tcfg.MetricExporter = telemetry.ExporterPrometheus
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		cancel()
		_ = logger.Close()
		return nil, err
	}
	rt.shutdownTelemetry = shutdown

	rt.group, rt.ctx = errgroup.WithContext(ctx)
	if flags.metricsAddr != "" {
		addr := flags.metricsAddr
		rt.group.Go(func() error {
			return telemetry.ServeMetrics(rt.ctx, addr)
		})
		logger.Info("Serving metrics", "addr", addr)
	}
	return rt, nil
}

// close stops background work and flushes telemetry and logs.
func (rt *runtime) close() error {
	rt.cancel()
	groupErr := rt.group.Wait()
	telErr := rt.shutdownTelemetry(context.Background())
	logErr := rt.logger.Close()
	return errors.Join(groupErr, telErr, logErr)
}

func (rt *runtime) extensionRoot() string {
	if rt.flags.extensionRoot != "" {
		return rt.flags.extensionRoot
	}
	if root := os.Getenv(EnvExtensionRoot); root != "" {
		return root
	}
	wd, _ := os.Getwd()
	return wd
}

// session is an activated extension on a terminal host.
type session struct {
	term *terminal.Terminal
	ext  *extension.Extension
}

// activate starts the extension on a terminal host. opts.In, Out, Printer,
// Store, OnSettingsChanged and Logger are filled in.
func (rt *runtime) activate(opts terminal.Options, watch bool) (*session, error) {
	s := &session{}
	opts.In = rt.cmd.InOrStdin()
	opts.Out = rt.cmd.OutOrStdout()
	opts.Printer = rt.printer
	opts.Store = rt.store
	opts.Logger = rt.logger
	if testPrompter != nil {
		opts.Prompter = testPrompter
	}
	opts.OnSettingsChanged = func(ev settings.ChangeEvent) {
		if s.ext != nil {
			s.ext.SettingsChanged(ev)
		}
	}
	s.term = terminal.New(opts)

	ext, err := extension.Activate(rt.ctx, extension.Options{
		Host:          s.term,
		Store:         rt.store,
		ExtensionRoot: rt.extensionRoot(),
		Resolver:      testResolver,
		Launcher:      testLauncher,
		WatchSettings: watch,
		Logger:        rt.logger,
	})
	if err != nil {
		return nil, err
	}
	s.ext = ext
	return s, nil
}

// open makes path the active document and tells the service about it.
func (s *session) open(ctx context.Context, path string) error {
	doc, err := s.term.Open(ctx, path)
	if err != nil {
		return err
	}
	err = s.ext.DidOpen(ctx, doc)
	switch {
	case err == nil:
	case errors.Is(err, connection.ErrNotStarted), errors.Is(err, lsp.ErrServerNotRunning):
		// The command gate reports the unavailable service.
	default:
		return fmt.Errorf("open %s: %w", path, err)
	}
	return nil
}

// run executes a command. Failures have been shown by the host.
func (s *session) run(ctx context.Context, command string, args ...interface{}) error {
	if err := s.ext.ExecuteCommand(ctx, command, args...); err != nil {
		return &shownError{err: err}
	}
	return nil
}

func (s *session) close() error {
	return s.ext.Deactivate(context.Background())
}
