package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/skystories/internal/observe"
	"github.com/MrWong99/skystories/pkg/provider/convai"
	"github.com/MrWong99/skystories/pkg/provider/image"
	"github.com/MrWong99/skystories/pkg/provider/llm"
)

// Provider decorators that record latency, request and error metrics and a
// span per backend call.

var (
	_ llm.Provider    = meteredLLM{}
	_ image.Generator = meteredImage{}
	_ convai.Provider = meteredConvAI{}
)

type meteredLLM struct {
	llm.Provider
	name string
	m    *observe.Metrics
}

func (p meteredLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	ctx, span := observe.StartSpan(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("provider", p.name),
		attribute.String("model", p.Model()),
	))
	defer span.End()

	start := time.Now()
	resp, err := p.Provider.Complete(ctx, req)
	p.m.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", p.name)))
	record(ctx, span, p.m, p.name, "llm", err)
	return resp, err
}

type meteredImage struct {
	image.Generator
	name string
	m    *observe.Metrics
}

func (g meteredImage) Generate(ctx context.Context, req image.Request) (*image.Result, error) {
	ctx, span := observe.StartSpan(ctx, "image.generate",
		trace.WithAttributes(attribute.String("provider", g.name)))
	defer span.End()

	start := time.Now()
	res, err := g.Generator.Generate(ctx, req)
	g.m.ImageDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", g.name)))
	record(ctx, span, g.m, g.name, "image", err)
	return res, err
}

type meteredConvAI struct {
	convai.Provider
	name string
	m    *observe.Metrics
}

func (p meteredConvAI) Connect(ctx context.Context, cfg convai.SessionConfig) (convai.Session, error) {
	ctx, span := observe.StartSpan(ctx, "convai.connect",
		trace.WithAttributes(attribute.String("provider", p.name)))
	defer span.End()

	start := time.Now()
	sess, err := p.Provider.Connect(ctx, cfg)
	p.m.ConnectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", p.name)))
	record(ctx, span, p.m, p.name, "convai", err)
	return sess, err
}

func record(ctx context.Context, span trace.Span, m *observe.Metrics, provider, kind string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.RecordProviderRequest(ctx, provider, kind, "error")
		m.RecordProviderError(ctx, provider, kind)
		return
	}
	m.RecordProviderRequest(ctx, provider, kind, "ok")
}
