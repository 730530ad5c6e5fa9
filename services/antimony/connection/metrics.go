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
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("antimony.connection")
	meter  = otel.Meter("antimony.connection")
)

var (
	startTotal   metric.Int64Counter
	restartTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		startTotal, err = meter.Int64Counter(
			"antimony_connection_start_total",
			metric.WithDescription("Connection start attempts by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		restartTotal, err = meter.Int64Counter(
			"antimony_connection_restart_total",
			metric.WithDescription("Connection restarts"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startLifecycleSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

func recordStart(ctx context.Context, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	startTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordRestart(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	restartTotal.Add(ctx, 1)
}
