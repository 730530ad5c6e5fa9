// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mastevb/vscode-antimony/pkg/logging"
)

// LogCounter is a logging.LogExporter that counts entries by level and
// service as antimony_log_entries_total.
//
// The counter is created on first export, so a LogCounter built before
// Init still reports to the provider Init installs.
//
// Thread Safety:
//
//	Safe for concurrent use.
type LogCounter struct {
	once    sync.Once
	counter metric.Int64Counter
	err     error
}

// NewLogCounter creates a LogCounter.
func NewLogCounter() *LogCounter {
	return &LogCounter{}
}

// Export implements logging.LogExporter.
func (c *LogCounter) Export(ctx context.Context, entry logging.LogEntry) error {
	c.once.Do(func() {
		c.counter, c.err = otel.Meter("antimony.logging").Int64Counter(
			"antimony_log_entries_total",
			metric.WithDescription("Log entries by level"),
		)
	})
	if c.err != nil {
		return c.err
	}
	c.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("level", strings.ToLower(entry.Level.String())),
		attribute.String("service", entry.Service),
	))
	return nil
}

// Flush implements logging.LogExporter. Counts are pushed by the meter
// provider.
func (c *LogCounter) Flush(context.Context) error { return nil }

// Close implements logging.LogExporter.
func (c *LogCounter) Close() error { return nil }

var _ logging.LogExporter = (*LogCounter)(nil)
