package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartRunSpan creates the root span of a pipeline run.
//
//	ctx, span := telemetry.StartRunSpan(ctx, runID, "scraper", len(jobs))
//	defer span.End()
func StartRunSpan(ctx context.Context, runID, pipeline string, jobs int) (context.Context, trace.Span) {
	ctx, span := tracer("orchestrator").Start(ctx, "run")
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("pipeline", pipeline),
		attribute.Int("run.jobs", jobs),
	)
	return ctx, span
}

// StartJobSpan creates a span covering one job from dispatch to harvest.
func StartJobSpan(ctx context.Context, jobID, imageKey string) (context.Context, trace.Span) {
	ctx, span := tracer("orchestrator").Start(ctx, "job."+jobID)
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.image", imageKey),
	)
	return ctx, span
}

// StartBuildSpan creates a span for an image resolution.
func StartBuildSpan(ctx context.Context, specHash string) (context.Context, trace.Span) {
	ctx, span := tracer("image").Start(ctx, "image.resolve")
	span.SetAttributes(attribute.String("image.spec_hash", specHash))
	return ctx, span
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error in a span and sets error status.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.Bool("error", true))
}

// RecordDuration records the duration of an operation as a span attribute.
func RecordDuration(span trace.Span, name string, duration time.Duration) {
	span.SetAttributes(attribute.Int64(name+"_ms", duration.Milliseconds()))
}
