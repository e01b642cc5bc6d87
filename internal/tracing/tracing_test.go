package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracer_WithoutEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracer(ctx, Config{ServiceName: "runledger-test", SampleRatio: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown(ctx, tp) })

	_, span := otel.Tracer("test").Start(ctx, "op")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()
}

func TestInitTracer_ZeroRatioDropsRoots(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracer(ctx, Config{ServiceName: "runledger-test", SampleRatio: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Shutdown(ctx, tp) })

	_, span := tp.Tracer("test").Start(ctx, "op")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
}

func TestShutdown_Nil(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background(), nil))
}
