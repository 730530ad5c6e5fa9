// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gate

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("antimony.gate")
	meter  = otel.Meter("antimony.gate")
)

var (
	commandTotal   metric.Int64Counter
	commandLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		commandTotal, err = meter.Int64Counter(
			"antimony_command_total",
			metric.WithDescription("Command invocations by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commandLatency, err = meter.Float64Histogram(
			"antimony_command_duration_seconds",
			metric.WithDescription("Command duration including the readiness wait"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startCommandSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "command."+name,
		trace.WithAttributes(attribute.String("antimony.command", name)),
	)
}

func recordCommand(ctx context.Context, name, outcome string, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("command", name),
		attribute.String("outcome", outcome),
	)
	commandTotal.Add(ctx, 1, attrs)
	commandLatency.Record(ctx, d.Seconds(), attrs)
}
