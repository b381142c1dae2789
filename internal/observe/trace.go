package observe

import (
	"context"
	"log/slog"
	"regexp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/skystories"

// CorrelationHeader carries the request correlation id in both directions.
const CorrelationHeader = "X-Correlation-ID"

// Inbound ids are echoed into headers and logs, so only short tokens pass.
var validCorrelationID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

type ctxKey int

const (
	correlationKey ctxKey = iota
	sessionKey
)

// SessionInfo identifies the live websocket session a context belongs to.
type SessionInfo struct {
	ID        string
	Kind      string
	Character string
}

func (s SessionInfo) attrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("skystories.session_id", s.ID),
		attribute.String("skystories.session_kind", s.Kind),
		attribute.String("skystories.character", s.Character),
	}
}

// Tracer returns the package-level [trace.Tracer] of the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the global provider. When ctx belongs to a
// session (see [WithSession]) the span is tagged with the session, so spans
// of one conversation or story can be found together. The caller must end
// the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if s, ok := SessionFrom(ctx); ok {
		opts = append(opts, trace.WithAttributes(s.attrs()...))
	}
	return Tracer().Start(ctx, name, opts...)
}

// WithCorrelationID pins the correlation id of ctx to id, overriding the
// trace id. Ids that are empty or not short printable tokens are ignored.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if !validCorrelationID.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationID returns the id a client can quote when reporting a problem:
// the id pinned by [WithCorrelationID], else the trace id of the active span,
// else "".
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithSession attaches s to ctx and tags the active span with it.
func WithSession(ctx context.Context, s SessionInfo) context.Context {
	trace.SpanFromContext(ctx).SetAttributes(s.attrs()...)
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFrom returns the session attached by [WithSession].
func SessionFrom(ctx context.Context) (SessionInfo, bool) {
	s, ok := ctx.Value(sessionKey).(SessionInfo)
	return s, ok
}

// Logger returns the default logger enriched with what ctx knows about the
// request: correlation_id, trace_id and span_id of the active span, and the
// session, kind and character of a websocket session.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	var attrs []any
	if id, ok := ctx.Value(correlationKey).(string); ok {
		attrs = append(attrs, slog.String("correlation_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if s, ok := SessionFrom(ctx); ok {
		attrs = append(attrs,
			slog.String("session", s.ID),
			slog.String("kind", s.Kind),
			slog.String("character", s.Character),
		)
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
