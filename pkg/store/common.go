package store

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "flowmirror"

func addDBStatsToSpan(span trace.Span, system, statement string, recordCount int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("recordCount", recordCount),
		attribute.String("db.system", system),
		attribute.String("db.statement", statement),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}
