package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "respondmesh"

// StartDelegationSpan starts a span covering one delegation attempt end to
// end, including failover.
func StartDelegationSpan(ctx context.Context, correlationID, source, target string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "delegation",
		trace.WithAttributes(
			attribute.String("correlation.id", correlationID),
			attribute.String("agent.source", source),
			attribute.String("agent.target", target),
		),
	)
}

// StartHandshakeSpan starts a span for a handshake request/response cycle.
func StartHandshakeSpan(ctx context.Context, correlationID, target string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "handshake",
		trace.WithAttributes(
			attribute.String("correlation.id", correlationID),
			attribute.String("agent.target", target),
		),
	)
}

// StartSendSpan starts a span for one message delivery including retries.
func StartSendSpan(ctx context.Context, target string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "send",
		trace.WithAttributes(
			attribute.String("agent.target", target),
		),
	)
}
