package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/graphcache/internal/eventbus"
	events "github.com/hanpama/graphcache/internal/events"
	reqid "github.com/hanpama/graphcache/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Attach(otel.Tracer("graphcache"))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach subscribes tracer to client events on the global bus.
func Attach(tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type subscriber struct {
	tracer     trace.Tracer
	fetchSpans sync.Map // rid -> trace.Span
	layerSpans sync.Map // layer id -> trace.Span
}

func (s *subscriber) register() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.FetchStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "graphql.fetch", trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
				attribute.Bool("graphcache.full_document", e.Full),
			)
			s.fetchSpans.Store(rid, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.FetchFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.fetchSpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(attribute.Int("graphql.error_count", e.ErrorCount))
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.CacheResult) {
			_, span := s.tracer.Start(ctx, "graphcache.lookup")
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphcache.fingerprint", e.Fingerprint),
				attribute.Bool("graphcache.hit", e.Hit),
				attribute.Int("graphcache.missing_units", e.MissingUnits),
			)
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.OptimisticPush) {
			_, span := s.tracer.Start(ctx, "graphcache.optimistic")
			span.SetAttributes(
				attribute.String("graphcache.layer", e.LayerID),
				attribute.String("graphql.operation.name", e.OperationName),
			)
			s.layerSpans.Store(e.LayerID, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.OptimisticSettle) {
			v, ok := s.layerSpans.LoadAndDelete(e.LayerID)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(attribute.Bool("graphcache.rolled_back", e.RolledBack))
			span.End()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
