// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reconfig coalesces bursts of settings changes into one restart.
//
// Every qualifying change mints a new Token and schedules a check after
// the delay. When the check fires it runs the action only if its token
// is still the live one. Timers are never cancelled; a newer change
// simply makes older checks stale.
package reconfig

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mastevb/vscode-antimony/pkg/logging"
	"github.com/mastevb/vscode-antimony/services/antimony/settings"
)

// DefaultDelay is the quiet period before a restart.
const DefaultDelay = 3 * time.Second

// Token identifies one change event. Tokens are strictly increasing.
type Token int64

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// TimeScheduler schedules with time.AfterFunc.
type TimeScheduler struct{}

// AfterFunc implements Scheduler.
func (TimeScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// Action is what a surviving change triggers, typically a restart.
type Action func(ctx context.Context) error

// Config configures a Debouncer.
type Config struct {
	// Section is the settings section that triggers the action.
	Section string

	// Delay returns the current quiet period. Nil means DefaultDelay.
	Delay func() time.Duration

	// Scheduler runs delayed checks. Nil means TimeScheduler.
	Scheduler Scheduler

	// Action runs when a check finds its token still live.
	Action Action

	// Now mints tokens. Nil means time.Now.
	Now func() time.Time

	Logger *logging.Logger
}

// Debouncer coalesces change events.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Debouncer struct {
	cfg    Config
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	live   Token
	closed bool
}

// New creates a debouncer.
func New(cfg Config) *Debouncer {
	if cfg.Section == "" {
		cfg.Section = settings.Section
	}
	if cfg.Delay == nil {
		cfg.Delay = func() time.Duration { return DefaultDelay }
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = TimeScheduler{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "reconfig"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Notify handles one change event.
//
// Outputs:
//
//	Token - The minted token.
//	bool - False if the event was ignored.
func (d *Debouncer) Notify(ev settings.ChangeEvent) (Token, bool) {
	if !ev.AffectsConfiguration(d.cfg.Section) {
		return 0, false
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, false
	}
	token := Token(d.cfg.Now().UnixNano())
	if token <= d.live {
		token = d.live + 1
	}
	d.live = token
	d.mu.Unlock()

	delay := d.cfg.Delay()
	if delay < 0 {
		delay = 0
	}
	d.logger.Debug("Restart scheduled", "token", int64(token), "delay", delay.String())
	record(d.ctx, "scheduled")

	d.cfg.Scheduler.AfterFunc(delay, func() { d.fire(token) })
	return token, true
}

func (d *Debouncer) fire(token Token) {
	d.mu.Lock()
	stale := d.closed || token != d.live
	d.mu.Unlock()

	if stale {
		d.logger.Debug("Restart superseded", "token", int64(token))
		record(d.ctx, "superseded")
		return
	}

	record(d.ctx, "fired")
	d.logger.Info("Configuration settled, restarting language server")
	if d.cfg.Action == nil {
		return
	}
	if err := d.cfg.Action(d.ctx); err != nil {
		d.logger.Warn("Restart after configuration change failed", "error", err)
	}
}

// Live returns the most recently minted token.
func (d *Debouncer) Live() Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// Run feeds events to Notify until ctx ends or events closes.
func (d *Debouncer) Run(ctx context.Context, events <-chan settings.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Notify(ev)
		}
	}
}

// Close turns every pending check into a no-op. Idempotent.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
}

// =============================================================================
// METRICS
// =============================================================================

var (
	meter      = otel.Meter("antimony.reconfig")
	eventsOnce sync.Once
	events     metric.Int64Counter
)

func record(ctx context.Context, outcome string) {
	eventsOnce.Do(func() {
		events, _ = meter.Int64Counter(
			"antimony_reconfig_events_total",
			metric.WithDescription("Reconfiguration checks by outcome"),
		)
	})
	if events == nil {
		return
	}
	events.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
