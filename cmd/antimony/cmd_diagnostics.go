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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mastevb/vscode-antimony/pkg/ux"
	"github.com/mastevb/vscode-antimony/services/antimony/codelens"
	"github.com/mastevb/vscode-antimony/services/antimony/connection"
	"github.com/mastevb/vscode-antimony/services/antimony/host/terminal"
	"github.com/mastevb/vscode-antimony/services/antimony/interpreter"
)

// checkReport is the result of the check command.
type checkReport struct {
	Settings    string `json:"settings"`
	Interpreter string `json:"interpreter"`
	Status      string `json:"status"`
	Output      string `json:"output,omitempty"`
	MinVersion  string `json:"minVersion"`
	Server      string `json:"server,omitempty"`
}

func runCheck(cmd *cobra.Command, flags *globalFlags, startServer bool) (err error) {
	rt, err := newRuntime(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()

	resolver := testResolver
	if resolver == nil {
		r, err := interpreter.NewResolver(interpreter.Config{Logger: rt.logger})
		if err != nil {
			return err
		}
		resolver = r
	}

	var res interpreter.Result
	err = ux.WithSpinner(ux.NewPrinterMode(cmd.ErrOrStderr(), rt.printer.Mode()), "Checking Python interpreter", func() error {
		res = resolver.Resolve(rt.ctx, rt.store.PythonInterpreter())
		return nil
	})
	if err != nil {
		return err
	}

	report := checkReport{
		Settings:    rt.store.Path(),
		Interpreter: res.Executable,
		Status:      res.Status.String(),
		Output:      res.Output,
		MinVersion:  resolver.MinVersion(),
	}

	var checkErr error
	if !res.OK() {
		checkErr = errors.New(connection.InterpreterMessage(res, resolver.MinVersion()))
	} else if startServer {
		report.Server, checkErr = rt.checkServer()
	}

	if rt.printer.Mode() == ux.ModeJSON {
		enc := json.NewEncoder(rt.printer.Writer())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		keys := []string{"settings", "interpreter", "status", "minimum"}
		values := map[string]string{
			"settings":    report.Settings,
			"interpreter": report.Interpreter,
			"status":      report.Status,
			"minimum":     "Python " + report.MinVersion,
		}
		if report.Server != "" {
			keys = append(keys, "server")
			values["server"] = report.Server
		}
		rt.printer.KeyValues(keys, values)
	}

	if checkErr != nil {
		if rt.printer.Mode() != ux.ModeJSON {
			rt.printer.Error(checkErr.Error())
		}
		return &shownError{err: checkErr}
	}
	if rt.printer.Mode() != ux.ModeJSON {
		rt.printer.Success("Ready")
	}
	return nil
}

// checkServer starts the service and waits for its handshake.
func (rt *runtime) checkServer() (string, error) {
	s, err := rt.activate(terminal.Options{}, false)
	if err != nil {
		return "", err
	}
	defer func() { _ = s.close() }()

	if err := s.ext.Manager().AwaitReady(rt.ctx); err != nil {
		return "failed", fmt.Errorf("language server did not become ready: %w", err)
	}
	return "ready", nil
}

func runLens(cmd *cobra.Command, flags *globalFlags, file string) (err error) {
	rt, err := newRuntime(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()

	term := terminal.New(terminal.Options{
		In:      cmd.InOrStdin(),
		Out:     cmd.OutOrStdout(),
		Printer: rt.printer,
		Logger:  rt.logger,
	})
	doc, err := term.OpenTextDocument(rt.ctx, file)
	if err != nil {
		return err
	}
	lenses := codelens.NewProvider(connection.Selector).Provide(doc)

	if rt.printer.Mode() == ux.ModeJSON {
		if lenses == nil {
			lenses = []codelens.Lens{}
		}
		return json.NewEncoder(rt.printer.Writer()).Encode(lenses)
	}
	for _, lens := range lenses {
		rt.printer.Info(fmt.Sprintf("%d:%d %s: %v", lens.Range.Start.Line+1, lens.Range.Start.Character+1,
			lens.Command.Title, lens.Command.Arguments[0]))
	}
	return nil
}
