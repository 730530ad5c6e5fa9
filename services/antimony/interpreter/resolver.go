// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package interpreter decides whether a configured Python interpreter can
// host the Antimony analysis service.
//
// The check runs the interpreter once with a one-line script that prints
// whether sys.version_info meets the minimum. The outcome is a tri-state
// Status, never a Go error: callers branch on the status to choose the
// message they show.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"
	"golang.org/x/sync/singleflight"

	"github.com/mastevb/vscode-antimony/pkg/logging"
)

// DefaultMinVersion is the oldest Python the analysis service runs on.
const DefaultMinVersion = "3.7"

// DefaultProbeTimeout bounds a single interpreter probe.
const DefaultProbeTimeout = 10 * time.Second

// ErrInvalidMinVersion is returned by NewResolver for a malformed minimum.
var ErrInvalidMinVersion = errors.New("invalid minimum interpreter version")

// =============================================================================
// STATUS
// =============================================================================

// Status is the outcome of probing an interpreter.
type Status int

const (
	// StatusValid means the interpreter ran and meets the minimum version.
	StatusValid Status = iota

	// StatusWrongVersion means the interpreter ran but is too old, or
	// printed something other than True.
	StatusWrongVersion

	// StatusUnusable means the interpreter could not be run at all.
	StatusUnusable
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusWrongVersion:
		return "wrong-version"
	case StatusUnusable:
		return "unusable"
	default:
		return "unknown"
	}
}

// Result is the outcome of Resolve.
type Result struct {
	// Executable is the path that was probed, as configured.
	Executable string

	// Status is the tri-state verdict.
	Status Status

	// Output is the trimmed standard output of the probe.
	Output string

	// Err is the underlying failure, if any. Informational only.
	Err error
}

// OK reports whether the interpreter is usable.
func (r Result) OK() bool {
	return r.Status == StatusValid
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner runs a program and returns its standard output.
//
// An error implementing ExitCode() int means the program started and
// exited unsuccessfully; any other error means it could not be started.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// =============================================================================
// RESOLVER
// =============================================================================

// Config configures a Resolver.
type Config struct {
	// MinVersion is "major.minor". Empty means DefaultMinVersion.
	MinVersion string

	// ProbeTimeout bounds each probe. Zero means DefaultProbeTimeout.
	ProbeTimeout time.Duration

	// Runner executes the probe. Nil means ExecRunner.
	Runner Runner

	// Logger receives probe outcomes. Nil means logging.Nop().
	Logger *logging.Logger
}

// Resolver validates interpreter paths.
//
// Thread Safety:
//
//	Safe for concurrent use. Concurrent probes of the same path share one
//	process.
type Resolver struct {
	minVersion string
	major      int
	minor      int
	timeout    time.Duration
	runner     Runner
	logger     *logging.Logger
	group      singleflight.Group
}

// NewResolver creates a resolver.
//
// Outputs:
//
//	*Resolver - Ready to use.
//	error - ErrInvalidMinVersion if MinVersion is not "major.minor".
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.MinVersion == "" {
		cfg.MinVersion = DefaultMinVersion
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	major, minor, err := parseMinVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	return &Resolver{
		minVersion: cfg.MinVersion,
		major:      major,
		minor:      minor,
		timeout:    cfg.ProbeTimeout,
		runner:     cfg.Runner,
		logger:     cfg.Logger,
	}, nil
}

func parseMinVersion(v string) (int, int, error) {
	canonical := "v" + strings.TrimPrefix(v, "v")
	if !semver.IsValid(canonical) || semver.Prerelease(canonical) != "" || semver.Build(canonical) != "" {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMinVersion, v)
	}
	parts := strings.SplitN(strings.TrimPrefix(semver.MajorMinor(canonical), "v"), ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMinVersion, v)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMinVersion, v)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMinVersion, v)
	}
	return major, minor, nil
}

// MinVersion returns the minimum as configured, e.g. "3.7".
func (r *Resolver) MinVersion() string {
	return r.minVersion
}

// ProbeScript returns the Python source passed with -c.
func (r *Resolver) ProbeScript() string {
	return fmt.Sprintf("import sys; print(sys.version_info >= (%d, %d))", r.major, r.minor)
}

// Resolve probes the interpreter at executable.
//
// Description:
//
//	Runs `<executable> -c <probe>`. Trimmed stdout "True" is valid. A
//	process that ran but printed anything else, or exited non-zero, is
//	wrong-version. A process that could not be started, or did not finish
//	before the probe timeout, is unusable.
//
// Inputs:
//
//	ctx - Cancellation for the probe. Must not be nil.
//	executable - Interpreter path or $PATH name.
//
// Outputs:
//
//	Result - Never an error; see Result.Status.
func (r *Resolver) Resolve(ctx context.Context, executable string) Result {
	if ctx == nil {
		return Result{Executable: executable, Status: StatusUnusable, Err: fmt.Errorf("ctx must not be nil")}
	}
	if strings.TrimSpace(executable) == "" {
		return Result{Executable: executable, Status: StatusUnusable, Err: fmt.Errorf("empty interpreter path")}
	}

	v, _, _ := r.group.Do(executable, func() (interface{}, error) {
		return r.probe(ctx, executable), nil
	})
	return v.(Result)
}

func (r *Resolver) probe(ctx context.Context, executable string) Result {
	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := r.runner.Run(probeCtx, executable, "-c", r.ProbeScript())
	res := Result{
		Executable: executable,
		Output:     strings.TrimSpace(string(out)),
		Err:        err,
	}

	var exited interface{ ExitCode() int }
	switch {
	case err == nil && res.Output == "True":
		res.Status = StatusValid
	case err == nil:
		res.Status = StatusWrongVersion
	case probeCtx.Err() != nil:
		res.Status = StatusUnusable
	case errors.As(err, &exited):
		res.Status = StatusWrongVersion
	default:
		res.Status = StatusUnusable
	}

	r.logger.Debug("Interpreter probed",
		"executable", executable,
		"status", res.Status.String(),
		"output", res.Output,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}
