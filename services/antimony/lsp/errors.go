// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the analysis-service transport.
var (
	// ErrServerNotRunning indicates the server is not in the ready state.
	ErrServerNotRunning = errors.New("analysis service not running")

	// ErrLaunchFailed indicates the server process could not be started.
	ErrLaunchFailed = errors.New("analysis service launch failed")

	// ErrInitializeFailed indicates the initialize handshake failed.
	ErrInitializeFailed = errors.New("analysis service initialize failed")

	// ErrRequestTimeout indicates a request's context ended before a response.
	ErrRequestTimeout = errors.New("analysis service request timeout")

	// ErrServerCrashed indicates the process exited while it was expected to run.
	ErrServerCrashed = errors.New("analysis service crashed")

	// ErrServerAlreadyStarted indicates Start was called twice.
	ErrServerAlreadyStarted = errors.New("analysis service already started")

	// ErrConnectionClosed indicates the protocol was closed with requests pending.
	ErrConnectionClosed = errors.New("analysis service connection closed")
)

// LSPError is a JSON-RPC error returned by the analysis service.
//
// Codes follow JSON-RPC plus the LSP additions:
//   - -32700 parse error, -32601 method not found, -32602 invalid params
//   - -32603 internal error, -32802 server not initialized
//   - -32800 request cancelled
type LSPError struct {
	Code    int
	Message string
	Data    interface{}
}

// Error implements the error interface.
func (e *LSPError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("LSP error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("LSP error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound reports whether the service does not implement the method.
func (e *LSPError) IsMethodNotFound() bool {
	return e.Code == -32601
}

// IsRequestCancelled reports whether the request was cancelled.
func (e *LSPError) IsRequestCancelled() bool {
	return e.Code == -32800
}

// IsServerNotInitialized reports whether the request arrived before initialize.
func (e *LSPError) IsServerNotInitialized() bool {
	return e.Code == -32802
}
