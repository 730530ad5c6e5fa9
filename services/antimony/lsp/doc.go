// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp is the client side of the Language Server Protocol used to
// talk to the Antimony analysis service (the stibium server).
//
// The package knows nothing about Antimony itself. It launches a process,
// frames JSON-RPC messages with Content-Length headers over the process's
// stdio, performs the initialize handshake in the background and exposes
// readiness, requests and shutdown.
//
// # Components
//
//   - Protocol: JSON-RPC framing and request/response correlation
//   - Server: one analysis-service process and its lifecycle
//
// # Lifecycle
//
//	uninitialized ──Start──► starting ──handshake ok──► ready
//	                            │                        │
//	                            └──handshake failed──┐   │ Shutdown / crash
//	                                                 ▼   ▼
//	                                               stopped
//
// Start returns as soon as the process is running. AwaitReady blocks until
// the handshake completes or fails.
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
package lsp
