package apm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fd1az/triarb/internal/config"
	"github.com/fd1az/triarb/internal/logger"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders("x-team=abc, dataset=arb,broken,=nokey")
	assert.Equal(t, map[string]string{"x-team": "abc", "dataset": "arb"}, got)
	assert.Empty(t, ParseHeaders(""))
}

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tp, err := NewTraceProvider(context.Background(), config.TelemetryConfig{TraceExporter: "stdout"}, logger.NewDiscard())
	require.NoError(t, err)
	assert.NoError(t, tp.Stop())
}

func TestUnknownExporterFallsBackToNoop(t *testing.T) {
	cfg := config.TelemetryConfig{Enabled: true, TraceExporter: "carrier-pigeon"}
	tp, err := NewTraceProvider(context.Background(), cfg, logger.NewDiscard())
	require.NoError(t, err)
	assert.IsType(t, emptyProvider{}, tp)
}

func TestTraceIDFromContext(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	assert.Len(t, TraceID(ctx), 32)
}
