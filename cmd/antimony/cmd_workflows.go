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
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mastevb/vscode-antimony/services/antimony/connection"
	"github.com/mastevb/vscode-antimony/services/antimony/host"
	"github.com/mastevb/vscode-antimony/services/antimony/host/terminal"
	"github.com/mastevb/vscode-antimony/services/antimony/workflow"
)

// conversionCommand maps a --to value to its workflow command.
func conversionCommand(to string) (string, error) {
	switch strings.ToLower(to) {
	case "sbml", "xml":
		return workflow.CommandConvertToSBML, nil
	case "antimony", "ant":
		return workflow.CommandConvertToAnt, nil
	default:
		return "", fmt.Errorf("unknown target format %q: use sbml or antimony", to)
	}
}

func runConvert(cmd *cobra.Command, flags *globalFlags, file, to, out string) (err error) {
	command, err := conversionCommand(to)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()

	s, err := rt.activate(terminal.Options{Directory: out}, false)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.close()) }()

	if err := s.open(rt.ctx, file); err != nil {
		return err
	}
	return s.run(rt.ctx, command)
}

func runAnnotate(cmd *cobra.Command, flags *globalFlags, file, entity, query string) (err error) {
	rt, err := newRuntime(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()

	s, err := rt.activate(terminal.Options{}, false)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.close()) }()

	if err := s.open(rt.ctx, file); err != nil {
		return err
	}
	if entity != "" && !s.term.SelectText(entity) {
		return fmt.Errorf("%q does not occur in %s", entity, file)
	}

	var args []interface{}
	if query != "" {
		args = []interface{}{nil, query}
	}
	return s.run(rt.ctx, workflow.CommandCreateAnnotation, args...)
}

// =============================================================================
// SESSION
// =============================================================================

const (
	actionOpen        = "open"
	actionToSBML      = "sbml"
	actionToAntimony  = "antimony"
	actionAnnotate    = "annotate"
	actionInterpreter = "interpreter"
	actionStatus      = "status"
	actionQuit        = "quit"
)

var sessionMenu = []host.QuickPickItem{
	{Label: "Open a model", Value: actionOpen},
	{Label: "Convert to SBML", Value: actionToSBML},
	{Label: "Convert to Antimony", Value: actionToAntimony},
	{Label: "Create annotation", Value: actionAnnotate},
	{Label: "Change Python interpreter", Value: actionInterpreter},
	{Label: "Show status", Value: actionStatus},
	{Label: "Quit", Value: actionQuit},
}

func runSession(cmd *cobra.Command, flags *globalFlags, file string, watch bool) (err error) {
	rt, err := newRuntime(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()

	s, err := rt.activate(terminal.Options{Pager: true}, watch)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.close()) }()

	if file != "" {
		if err := rt.openAndShowLenses(s, file); err != nil {
			rt.printer.Error(err.Error())
		}
	}

	for {
		title := "Antimony"
		if doc, ok := s.term.ActiveDocument(); ok {
			title += ": " + doc.Path()
		}
		item, err := s.term.ShowQuickPick(rt.ctx, sessionMenu, host.QuickPickOptions{Title: title})
		if err != nil {
			if rt.ctx.Err() != nil {
				return nil
			}
			return err
		}
		if item == nil || item.Value == actionQuit {
			return nil
		}
		if err := rt.sessionAction(s, item.Value); err != nil {
			var shown *shownError
			if !errors.As(err, &shown) {
				rt.printer.Error(err.Error())
			}
			rt.logger.Debug("Session action failed", "action", item.Value, "error", err)
		}
	}
}

func (rt *runtime) sessionAction(s *session, action string) error {
	ctx := rt.ctx
	switch action {
	case actionOpen:
		path, ok, err := s.term.ShowInputBox(ctx, host.InputBoxOptions{
			Title:       "Open a model",
			Prompt:      "Path to an Antimony or SBML file",
			Placeholder: "model.ant",
		})
		if err != nil || !ok || path == "" {
			return err
		}
		return rt.openAndShowLenses(s, path)

	case actionToSBML:
		return s.run(ctx, workflow.CommandConvertToSBML)

	case actionToAntimony:
		return s.run(ctx, workflow.CommandConvertToAnt)

	case actionAnnotate:
		entity, ok, err := s.term.ShowInputBox(ctx, host.InputBoxOptions{
			Title:  "Create annotation",
			Prompt: "Entity to annotate (leave empty to name it later)",
		})
		if err != nil || !ok {
			return err
		}
		if entity != "" && !s.term.SelectText(entity) {
			rt.printer.Warning(fmt.Sprintf("%q does not occur in the model", entity))
		}
		return s.run(ctx, workflow.CommandCreateAnnotation)

	case actionInterpreter:
		_, err := s.term.ExecuteCommand(ctx, host.CommandOpenSettings, connection.InterpreterSetting)
		return err

	case actionStatus:
		rt.printStatus(s)
		return nil
	}
	return nil
}

func (rt *runtime) openAndShowLenses(s *session, path string) error {
	if err := s.open(rt.ctx, path); err != nil {
		return err
	}
	doc, _ := s.term.ActiveDocument()
	for _, lens := range s.ext.CodeLenses(doc) {
		rt.printer.Info(fmt.Sprintf("%s: %v", lens.Command.Title, lens.Command.Arguments[0]))
	}
	return nil
}

func (rt *runtime) printStatus(s *session) {
	m := s.ext.Manager()
	state := "not running"
	switch {
	case m.IsReady():
		state = "ready"
	case m.Active():
		state = "starting"
	}
	active := "none"
	if doc, ok := s.term.ActiveDocument(); ok {
		active = doc.Path()
	}
	rt.printer.KeyValues(
		[]string{"server", "interpreter", "document", "settings"},
		map[string]string{
			"server":      state,
			"interpreter": rt.store.PythonInterpreter(),
			"document":    active,
			"settings":    rt.store.Path(),
		},
	)
}
