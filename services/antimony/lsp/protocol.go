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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// JSONRPCVersion is the JSON-RPC version used by LSP.
const JSONRPCVersion = "2.0"

// =============================================================================
// JSON-RPC MESSAGE TYPES
// =============================================================================

// Request is an outgoing JSON-RPC request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is a JSON-RPC response to one of our requests.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error member of a JSON-RPC response.
type ResponseError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Notification is a JSON-RPC message without an ID.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// reply answers a request initiated by the server. The ID is echoed
// verbatim because servers may use string IDs.
type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// incoming is the union of everything the server can send.
type incoming struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// =============================================================================
// HANDLERS
// =============================================================================

// NotificationHandler receives server notifications such as window/logMessage.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler answers server-initiated requests such as
// client/registerCapability. A nil result is sent as JSON null.
type RequestHandler func(method string, params json.RawMessage) (interface{}, *ResponseError)

// =============================================================================
// PROTOCOL
// =============================================================================

// Protocol frames JSON-RPC messages with Content-Length headers and
// correlates responses with pending requests.
//
// Thread Safety:
//
//	Safe for concurrent use. ReadLoop must run in exactly one goroutine.
type Protocol struct {
	reader    *bufio.Reader
	writer    io.Writer
	writeMu   sync.Mutex
	nextID    int64
	pending   map[int64]chan Response
	pendingMu sync.Mutex
	closed    int32

	onNotification NotificationHandler
	onRequest      RequestHandler
}

// NewProtocol creates a protocol reading server output from r and writing
// client messages to w.
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	return &Protocol{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan Response),
	}
}

// OnNotification installs the notification handler. Call before ReadLoop.
func (p *Protocol) OnNotification(h NotificationHandler) {
	p.onNotification = h
}

// OnRequest installs the server-request handler. Call before ReadLoop.
func (p *Protocol) OnRequest(h RequestHandler) {
	p.onRequest = h
}

// SendRequest sends a request and blocks until its response arrives or ctx
// ends. A JSON-RPC error response is returned as *LSPError.
func (p *Protocol) SendRequest(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if atomic.LoadInt32(&p.closed) == 1 {
		return nil, ErrServerNotRunning
	}

	id := atomic.AddInt64(&p.nextID, 1)
	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}

	respCh := make(chan Response, 1)
	p.pendingMu.Lock()
	if atomic.LoadInt32(&p.closed) == 1 {
		p.pendingMu.Unlock()
		return nil, ErrConnectionClosed
	}
	p.pending[id] = respCh
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	if err := p.writeMessage(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrRequestTimeout, method, ctx.Err())
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if resp.Error != nil {
			return nil, &LSPError{
				Code:    resp.Error.Code,
				Message: resp.Error.Message,
				Data:    resp.Error.Data,
			}
		}
		return &resp, nil
	}
}

// SendNotification sends a notification. No response is expected.
func (p *Protocol) SendNotification(method string, params interface{}) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrServerNotRunning
	}
	return p.writeMessage(Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	})
}

func (p *Protocol) writeMessage(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := p.writer.Write([]byte(header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := p.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadLoop reads and dispatches messages until the stream ends, ctx is
// cancelled or the protocol is closed. EOF while open is reported as
// ErrServerCrashed.
func (p *Protocol) ReadLoop(ctx context.Context) error {
	if p.reader == nil {
		return fmt.Errorf("no reader configured")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := p.readMessage()
		if err != nil {
			if atomic.LoadInt32(&p.closed) == 1 {
				return nil
			}
			if err == io.EOF {
				return ErrServerCrashed
			}
			return fmt.Errorf("read: %w", err)
		}

		p.handleMessage(msg)
	}
}

func (p *Protocol) readMessage() (json.RawMessage, error) {
	var contentLength int

	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}

		if strings.HasPrefix(line, "Content-Length:") {
			lenStr := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
			contentLength, err = strconv.Atoi(lenStr)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length value %q: %w", lenStr, err)
			}
			if contentLength < 0 {
				return nil, fmt.Errorf("negative Content-Length: %d", contentLength)
			}
		}
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing or zero Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(p.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (p *Protocol) handleMessage(msg json.RawMessage) {
	var in incoming
	if err := json.Unmarshal(msg, &in); err != nil {
		return
	}

	hasID := len(in.ID) > 0 && string(in.ID) != "null"

	switch {
	case in.Method != "" && hasID:
		p.answerServerRequest(in)
	case in.Method != "":
		if p.onNotification != nil {
			p.onNotification(in.Method, in.Params)
		}
	case hasID:
		id, err := strconv.ParseInt(string(in.ID), 10, 64)
		if err != nil {
			return
		}
		// Send under the lock so Close cannot close ch concurrently.
		p.pendingMu.Lock()
		if ch, ok := p.pending[id]; ok {
			select {
			case ch <- Response{JSONRPC: JSONRPCVersion, ID: id, Result: in.Result, Error: in.Error}:
			default:
			}
		}
		p.pendingMu.Unlock()
	}
}

func (p *Protocol) answerServerRequest(in incoming) {
	var (
		result interface{}
		rerr   *ResponseError
	)
	if p.onRequest != nil {
		result, rerr = p.onRequest(in.Method, in.Params)
	}
	_ = p.writeMessage(reply{
		JSONRPC: JSONRPCVersion,
		ID:      in.ID,
		Result:  result,
		Error:   rerr,
	})
}

// Close stops further sends and fails every pending request with
// ErrConnectionClosed. The underlying streams are not closed.
func (p *Protocol) Close() {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}

	p.pendingMu.Lock()
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
}

// Closed reports whether Close has been called.
func (p *Protocol) Closed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}
