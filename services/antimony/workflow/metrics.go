// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

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
	tracer = otel.Tracer("antimony.workflow")
	meter  = otel.Meter("antimony.workflow")
)

var (
	runTotal    metric.Int64Counter
	runDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runTotal, err = meter.Int64Counter(
			"antimony_workflow_runs_total",
			metric.WithDescription("Workflow runs by final state"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"antimony_workflow_duration_seconds",
			metric.WithDescription("Workflow run duration including dialogs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startRunSpan(ctx context.Context, run *Run) (context.Context, trace.Span) {
	return tracer.Start(ctx, "workflow."+run.Workflow,
		trace.WithAttributes(
			attribute.String("antimony.workflow", run.Workflow),
			attribute.String("antimony.run_id", run.ID.String()),
		),
	)
}

func recordRun(ctx context.Context, workflow string, state State, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("state", state.String()),
	)
	runTotal.Add(ctx, 1, attrs)
	runDuration.Record(ctx, d.Seconds(), attrs)
}
