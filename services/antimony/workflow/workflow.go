// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow implements the dialog-driven commands: model format
// conversion and annotation lookup.
//
// Every run follows the same state machine:
//
//	idle → awaiting-gate → awaiting-input → request-in-flight → succeeded
//	                 │              │                  │
//	                 └──────────────┴──► cancelled     └──► failed
//
// A dismissed dialog ends the run silently: no request is sent and no
// message is shown.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mastevb/vscode-antimony/pkg/logging"
	"github.com/mastevb/vscode-antimony/services/antimony/annotation"
	"github.com/mastevb/vscode-antimony/services/antimony/gate"
	"github.com/mastevb/vscode-antimony/services/antimony/host"
)

// Command names registered with the host.
const (
	CommandCreateAnnotation = "antimony.createAnnotationDialog"
	CommandConvertToSBML    = "antimony.convertAntimonyToSBML"
	CommandConvertToAnt     = "antimony.convertSBMLToAntimony"
)

// ErrConversionFailed indicates the service reported a conversion error.
var ErrConversionFailed = errors.New("conversion failed")

// Conversion describes one direction of model conversion.
type Conversion struct {
	// Command is the host command name.
	Command string

	// Request is the analysis service command.
	Request string

	// Target names the output format in messages.
	Target string

	// OpenLabel labels the folder picker's accept button.
	OpenLabel string

	Filter host.FileFilter
}

var (
	// ToSBML converts the active Antimony model to SBML.
	ToSBML = Conversion{
		Command:   CommandConvertToSBML,
		Request:   "antimony.toSBML",
		Target:    "SBML",
		OpenLabel: "Select",
		Filter:    host.FileFilter{Name: "SBML", Extensions: []string{"xml"}},
	}

	// ToAntimony converts the active SBML model to Antimony.
	ToAntimony = Conversion{
		Command:   CommandConvertToAnt,
		Request:   "antimony.toAntimony",
		Target:    "Antimony",
		OpenLabel: "Save",
		Filter:    host.FileFilter{Name: "Antimony", Extensions: []string{"ant"}},
	}
)

// DialogTitle is the conversion folder picker's title.
const DialogTitle = "Select a location to save your converted model"

// ConversionResult is the service's answer to a conversion request.
// Either Error is set, or Msg and File are.
type ConversionResult struct {
	Error string `json:"error,omitempty"`
	Msg   string `json:"msg,omitempty"`
	File  string `json:"file,omitempty"`
}

// Service sends commands to the analysis service.
type Service interface {
	ExecuteCommand(ctx context.Context, command string, args ...interface{}) (json.RawMessage, error)
}

// Gate guards commands on service readiness.
type Gate interface {
	Wrap(name string, fn gate.Handler) gate.Handler
}

// Config wires a Runner.
type Config struct {
	Host    host.Host
	Service Service
	Gate    Gate

	// RequestTimeout returns the bound for one service request. Nil or
	// zero means no bound.
	RequestTimeout func() time.Duration

	// OnFinish, if set, receives every run once it reaches a terminal
	// state.
	OnFinish func(*Run)

	Logger *logging.Logger
}

// Runner executes workflows.
type Runner struct {
	cfg    Config
	logger *logging.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Runner{cfg: cfg, logger: cfg.Logger.With("component", "workflow")}
}

// Handlers returns the gated command handlers keyed by command name.
func (r *Runner) Handlers() map[string]gate.Handler {
	return map[string]gate.Handler{
		CommandConvertToSBML:    r.handler(CommandConvertToSBML, r.convertStep(ToSBML)),
		CommandConvertToAnt:     r.handler(CommandConvertToAnt, r.convertStep(ToAntimony)),
		CommandCreateAnnotation: r.handler(CommandCreateAnnotation, r.annotate),
	}
}

// step is the body of a workflow after the gate has passed.
type step func(ctx context.Context, run *Run, log *logging.Logger, args []interface{}) error

// handler builds a command that creates a Run, passes it through the
// gate and runs body.
func (r *Runner) handler(name string, body step) gate.Handler {
	return func(ctx context.Context, args ...interface{}) error {
		run := newRun(name)
		log := r.logger.With("workflow", name, "run_id", run.ID.String())
		ctx, span := startRunSpan(ctx, run)
		defer span.End()

		_ = run.to(StateAwaitingGate)
		log.Debug("Workflow started")

		gated := r.cfg.Gate.Wrap(name, func(ctx context.Context, args ...interface{}) error {
			return body(ctx, run, log, args)
		})
		err := gated(ctx, args...)

		if run.State() == StateAwaitingGate {
			if ctx.Err() != nil {
				_ = run.to(StateCancelled)
			} else {
				_ = run.to(StateFailed)
			}
		}
		r.finish(ctx, span, run, log, err)
		return err
	}
}

func (r *Runner) finish(ctx context.Context, span trace.Span, run *Run, log *logging.Logger, err error) {
	state := run.State()
	span.SetAttributes(attribute.String("antimony.workflow.state", state.String()))
	recordRun(ctx, run.Workflow, state, time.Since(run.Started))
	if err != nil {
		log.Warn("Workflow failed", "state", state.String(), "error", err)
	} else {
		log.Debug("Workflow finished", "state", state.String())
	}
	if r.cfg.OnFinish != nil {
		r.cfg.OnFinish(run)
	}
}

// focus brings the editor group forward. Failure is not fatal.
func (r *Runner) focus(ctx context.Context, log *logging.Logger) {
	if _, err := r.cfg.Host.ExecuteCommand(ctx, host.CommandFocusEditorGroup); err != nil {
		log.Debug("Focus editor group failed", "error", err)
	}
}

func (r *Runner) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.RequestTimeout == nil {
		return ctx, func() {}
	}
	if d := r.cfg.RequestTimeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}

// fail moves run to StateFailed and shows message.
func (r *Runner) fail(ctx context.Context, run *Run, log *logging.Logger, message string) {
	_ = run.to(StateFailed)
	if _, err := r.cfg.Host.ShowError(ctx, message); err != nil {
		log.Warn("Failed to show message", "error", err)
	}
}

// =============================================================================
// CONVERSION
// =============================================================================

func (r *Runner) convertStep(conv Conversion) step {
	return func(ctx context.Context, run *Run, log *logging.Logger, _ []interface{}) error {
		r.focus(ctx, log)

		doc, ok := r.cfg.Host.ActiveDocument()
		if !ok {
			r.fail(ctx, run, log, fmt.Sprintf("Could not convert file to %s: %s", conv.Target, host.ErrNoActiveEditor))
			return host.ErrNoActiveEditor
		}

		_ = run.to(StateAwaitingInput)
		picked, err := r.cfg.Host.ShowOpenDialog(ctx, host.OpenDialogOptions{
			Title:            DialogTitle,
			OpenLabel:        conv.OpenLabel,
			CanSelectFolders: true,
			Filters:          []host.FileFilter{conv.Filter},
		})
		if err != nil {
			_ = run.to(StateFailed)
			return fmt.Errorf("folder picker: %w", err)
		}
		if len(picked) == 0 || picked[0] == "" {
			_ = run.to(StateCancelled)
			return nil
		}
		folder := picked[0]

		_ = run.to(StateRequestInFlight)
		reqCtx, cancel := r.requestContext(ctx)
		raw, err := r.cfg.Service.ExecuteCommand(reqCtx, conv.Request, doc.URI, folder)
		cancel()
		if err != nil {
			r.fail(ctx, run, log, fmt.Sprintf("Could not convert file to %s: %s", conv.Target, err))
			return err
		}

		var res ConversionResult
		if err := json.Unmarshal(raw, &res); err != nil {
			r.fail(ctx, run, log, fmt.Sprintf("Could not convert file to %s: %s", conv.Target, err))
			return fmt.Errorf("decode %s result: %w", conv.Request, err)
		}
		return r.renderConversion(ctx, run, log, conv, res)
	}
}

// renderConversion shows the outcome: one error message, or one info
// message followed by opening exactly the produced file.
func (r *Runner) renderConversion(ctx context.Context, run *Run, log *logging.Logger, conv Conversion, res ConversionResult) error {
	if res.Error != "" {
		r.fail(ctx, run, log, fmt.Sprintf("Could not convert file to %s: %s", conv.Target, res.Error))
		return fmt.Errorf("%w: %s", ErrConversionFailed, res.Error)
	}

	_ = run.to(StateSucceeded)
	if _, err := r.cfg.Host.ShowInfo(ctx, res.Msg); err != nil {
		log.Warn("Failed to show message", "error", err)
	}

	doc, err := r.cfg.Host.OpenTextDocument(ctx, res.File)
	if err != nil {
		return fmt.Errorf("open converted file %s: %w", res.File, err)
	}
	return r.cfg.Host.ShowTextDocument(ctx, doc)
}

// =============================================================================
// ANNOTATION
// =============================================================================

func (r *Runner) annotate(ctx context.Context, run *Run, log *logging.Logger, args []interface{}) error {
	r.focus(ctx, log)

	selected := host.SelectedText(r.cfg.Host)
	entity := selected
	if entity == "" {
		entity = annotation.DefaultEntityName
	}
	query := selected
	if len(args) == 2 && args[1] != nil {
		query = fmt.Sprint(args[1])
	}

	_ = run.to(StateAwaitingInput)
	picker := annotation.NewPicker(r.cfg.Host, &runQuerier{runner: r, run: run}, log)
	item, err := picker.Pick(ctx, query)
	if err != nil {
		r.fail(ctx, run, log, err.Error())
		return err
	}
	if item == nil {
		_ = run.to(StateCancelled)
		return nil
	}

	doc, ok := r.cfg.Host.ActiveDocument()
	if !ok {
		r.fail(ctx, run, log, host.ErrNoActiveEditor.Error())
		return host.ErrNoActiveEditor
	}
	if err := r.cfg.Host.InsertSnippet(ctx, annotation.Snippet(entity, item.Entity), annotation.InsertionPoint(doc)); err != nil {
		r.fail(ctx, run, log, err.Error())
		return err
	}
	_ = run.to(StateSucceeded)
	return nil
}

// runQuerier tracks the query request in the run's state.
type runQuerier struct {
	runner *Runner
	run    *Run
}

func (q *runQuerier) ExecuteCommand(ctx context.Context, command string, args ...interface{}) (json.RawMessage, error) {
	_ = q.run.to(StateRequestInFlight)
	reqCtx, cancel := q.runner.requestContext(ctx)
	defer cancel()
	raw, err := q.runner.cfg.Service.ExecuteCommand(reqCtx, command, args...)
	if err != nil {
		return nil, err
	}
	_ = q.run.to(StateAwaitingInput)
	return raw, nil
}
