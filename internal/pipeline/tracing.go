package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
)

var tracer = otel.Tracer("validator-pipeline")

// startStageSpan opens a span covering one stage of a run, generalized
// from a per-HTTP-request span to a per-pipeline-stage span: one span
// per (run, stage) instead of one per request.
func startStageSpan(ctx context.Context, runID string, stage domain.RunStage) (context.Context, trace.Span) {
	return tracer.Start(ctx, "run."+string(stage),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.stage", string(stage)),
		),
	)
}
