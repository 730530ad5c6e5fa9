// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package connection

import (
	"errors"
	"fmt"

	"github.com/mastevb/vscode-antimony/services/antimony/interpreter"
)

var (
	// ErrNotStarted indicates there is no active connection.
	ErrNotStarted = errors.New("language server not started")

	// ErrStartFailed indicates the connection never became ready.
	ErrStartFailed = errors.New("language server failed to start")

	// ErrInterpreterRejected indicates the interpreter check failed. The
	// user has already been told.
	ErrInterpreterRejected = errors.New("python interpreter rejected")

	// ErrClosed indicates the manager was closed and starts nothing more.
	ErrClosed = errors.New("language server manager closed")
)

// InterpreterError carries the probe result behind ErrInterpreterRejected.
type InterpreterError struct {
	Result interpreter.Result
}

// Error implements the error interface.
func (e *InterpreterError) Error() string {
	return fmt.Sprintf("%s: %q is %s", ErrInterpreterRejected, e.Result.Executable, e.Result.Status)
}

// Unwrap lets errors.Is match ErrInterpreterRejected.
func (e *InterpreterError) Unwrap() error {
	return ErrInterpreterRejected
}

// InterpreterMessage is the user-facing text for a rejected interpreter.
// minVersion is "major.minor".
func InterpreterMessage(res interpreter.Result, minVersion string) string {
	if res.Status == interpreter.StatusWrongVersion {
		return fmt.Sprintf(`Failed to launch language server: "%s" is not Python %s+`, res.Executable, minVersion)
	}
	return fmt.Sprintf(`Failed to launch language server: Unable to run "%s"`, res.Executable)
}
