// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extension

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mastevb/vscode-antimony/services/antimony/gate"
)

var (
	// ErrUnknownCommand indicates no handler is registered for a command.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrDuplicateCommand indicates a command is already registered.
	ErrDuplicateCommand = errors.New("command already registered")
)

// Disposable releases a resource.
type Disposable interface {
	Dispose() error
}

// DisposeFunc adapts a function to Disposable.
type DisposeFunc func() error

// Dispose implements Disposable.
func (f DisposeFunc) Dispose() error { return f() }

// Context is what activation registers its resources with.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Context struct {
	// ExtensionRoot is the installation directory.
	ExtensionRoot string

	mu            sync.Mutex
	subscriptions []Disposable
	disposed      bool
}

// NewContext returns an empty context rooted at root.
func NewContext(root string) *Context {
	return &Context{ExtensionRoot: root}
}

// Subscribe adds disposables. After Dispose they are released at once.
func (c *Context) Subscribe(ds ...Disposable) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		for _, d := range ds {
			_ = d.Dispose()
		}
		return
	}
	c.subscriptions = append(c.subscriptions, ds...)
	c.mu.Unlock()
}

// Subscriptions returns the number of live subscriptions.
func (c *Context) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions)
}

// Dispose releases every subscription, newest first. Idempotent.
func (c *Context) Dispose() error {
	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = nil
	c.disposed = true
	c.mu.Unlock()

	var errs []error
	for i := len(subs) - 1; i >= 0; i-- {
		if err := subs[i].Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry maps command names to handlers.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]gate.Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]gate.Handler)}
}

// Register adds a handler. Disposing the result unregisters it.
func (r *Registry) Register(name string, h gate.Handler) (Disposable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	r.handlers[name] = h
	return DisposeFunc(func() error {
		r.mu.Lock()
		delete(r.handlers, name)
		r.mu.Unlock()
		return nil
	}), nil
}

// Execute runs the named command.
func (r *Registry) Execute(ctx context.Context, name string, args ...interface{}) error {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return h(ctx, args...)
}

// Commands returns the registered names, sorted.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
