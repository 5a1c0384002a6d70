// Package otel bridges observe.Sink to OpenTelemetry tracing.
//
// Campaign loop events become spans so that runs, recipients and pipeline
// stages show up in any OpenTelemetry-compatible backend.
package otel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/PipeOpsHQ/campaign-engine/observe"
)

const instrumentationName = "github.com/PipeOpsHQ/campaign-engine"

// Sink implements observe.Sink by emitting OpenTelemetry spans.
type Sink struct {
	tracer trace.Tracer
}

// NewSink creates an OTel sink using the given TracerProvider.
// If tp is nil, it uses a noop tracer provider.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{
		tracer: tp.Tracer(instrumentationName),
	}
}

// Emit converts an observe.Event into an OTel span.
func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()

	startTime := event.Timestamp
	_, span := s.tracer.Start(context.Background(), spanNameFor(event), trace.WithTimestamp(startTime))

	attrs := []attribute.KeyValue{
		attribute.String("campaign.event.kind", string(event.Kind)),
	}
	if event.CampaignID != "" {
		attrs = append(attrs, attribute.String("campaign.id", event.CampaignID))
	}
	if event.Generation > 0 {
		attrs = append(attrs, attribute.Int64("campaign.generation", int64(event.Generation)))
	}
	if event.Recipient != "" {
		attrs = append(attrs,
			attribute.String("campaign.recipient", event.Recipient),
			attribute.Int("campaign.recipient.index", event.Index),
		)
	}
	if event.Step != "" {
		attrs = append(attrs, attribute.String("campaign.step", event.Step))
	}
	if event.Status != "" {
		attrs = append(attrs, attribute.String("campaign.status", string(event.Status)))
	}
	if event.Message != "" {
		attrs = append(attrs, attribute.String("campaign.message", truncate(event.Message, 1024)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("campaign.duration_ms", event.DurationMs))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("campaign.attr."+k, fmt.Sprintf("%v", v)))
	}
	span.SetAttributes(attrs...)

	switch event.Status {
	case observe.StatusFailed:
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(fmt.Errorf("%s", event.Error))
		}
	case observe.StatusCompleted:
		span.SetStatus(codes.Ok, "")
	}

	endTime := startTime
	if event.DurationMs > 0 {
		endTime = startTime.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	span.End(trace.WithTimestamp(endTime))
	return nil
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindCampaign:
		return "campaign.run"
	case observe.KindRecipient:
		return "campaign.recipient"
	case observe.KindStage:
		if event.Step != "" {
			return "campaign.stage." + strings.ToLower(event.Step)
		}
		return "campaign.stage"
	case observe.KindCheckpoint:
		return "campaign.checkpoint"
	default:
		if event.Name != "" {
			return "campaign." + event.Name
		}
		return "campaign.event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
