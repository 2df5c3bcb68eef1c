package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "aisecretary/pipeline"

const (
	AttrMeetingID = "meeting_id"
	AttrOwnerID   = "owner_id"
	AttrStage     = "stage"
	AttrToken     = "stage_token"
	AttrKind      = "failure_kind"
)

// Tracer starts spans around pipeline stages. Without a configured provider
// the global no-op tracer is used.
type Tracer struct {
	tracer trace.Tracer
}

func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartStage opens the span for one stage run of one meeting.
func (t *Tracer) StartStage(ctx context.Context, stage string, meetingID, ownerID, token int64) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pipeline.stage."+stage,
		trace.WithAttributes(
			attribute.String(AttrStage, stage),
			attribute.Int64(AttrMeetingID, meetingID),
			attribute.Int64(AttrOwnerID, ownerID),
			attribute.Int64(AttrToken, token),
		),
	)
}

// EndStage closes span, marking it failed when err is set.
func EndStage(span trace.Span, kind string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind != "" {
			span.SetAttributes(attribute.String(AttrKind, kind))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
