package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInitTelemetryDisabled(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := InitTelemetry(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	assert.Equal(t, before, otel.GetTracerProvider(), "выключенная телеметрия не трогает глобальный провайдер")
	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()
}

func TestInitTelemetryEnabled(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	shutdown, err := InitTelemetry(context.Background(), Config{
		Enabled:  true,
		Endpoint: "127.0.0.1:4318",
		Insecure: true,
	})
	require.NoError(t, err)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok, "устанавливается SDK-провайдер")
	assert.NoError(t, shutdown(context.Background()), "без спанов остановка не обращается к коллектору")
}
