package reasoning

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/go-go-golems/ruminate/reasoning")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func runAttributes(runID, requesterID string, totalSteps int) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("requester_id", requesterID),
		attribute.Int("total_steps", totalSteps),
	)
}
