package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	eventbus "github.com/hanpama/graphcache/internal/eventbus"
	events "github.com/hanpama/graphcache/internal/events"
	reqid "github.com/hanpama/graphcache/internal/reqid"
)

func TestSetup_NoEndpoint(t *testing.T) {
	shutdown, err := Setup("", "svc")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestAttach_RecordsFetchAndLayerSpans(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	unsubscribe := Attach(tp.Tracer("test"))
	defer unsubscribe()

	ctx, _ := reqid.NewContext(context.Background())
	eventbus.Publish(ctx, events.FetchStart{OperationName: "Q", OperationType: "query"})
	eventbus.Publish(ctx, events.FetchFinish{OperationName: "Q", Err: errors.New("boom")})
	eventbus.Publish(ctx, events.OptimisticPush{LayerID: "l1"})
	eventbus.Publish(ctx, events.OptimisticSettle{LayerID: "l1", RolledBack: true})

	ended := rec.Ended()
	require.Len(t, ended, 2)
	require.Equal(t, "graphql.fetch", ended[0].Name())
	require.Len(t, ended[0].Events(), 1)
	require.Equal(t, "graphcache.optimistic", ended[1].Name())
}
