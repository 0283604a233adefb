package store

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// retryCeiling is the number of recorded failures after which a queued action
// is deleted rather than kept for another drain pass.
const retryCeiling = 5

func addDBStatsToSpan(span trace.Span, system, statement string, rowCount int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("rowCount", rowCount),
		attribute.String("db.system", system),
		attribute.String("db.statement", statement),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}
