package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/antisplit/pkg/config"
)

func TestInit_Disabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")

	shutdown, err := Init(context.Background())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.False(t, Enabled())
}

func TestInitWithConfig_OverlayEnables(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_SERVICE_NAME", "test-service")

	ctx := context.Background()
	shutdown, err := InitWithConfig(ctx, &config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "http://127.0.0.1:4318",
		Protocol: "http/protobuf",
	})
	require.NoError(t, err)
	defer shutdown(ctx)

	cfg := GetConfig()
	assert.True(t, Enabled())
	assert.Equal(t, "test-service", cfg.ServiceName)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "http://127.0.0.1:4318", cfg.Endpoint)
	setConfig(LoadFromEnv())
}

func TestStartSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, span := StartSpan(context.Background(), "dex_merge", attribute.Int("modules", 2))
	EndSpan(span, errors.New("boom"))

	_, span = StartSpan(context.Background(), "writing")
	EndSpan(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "dex_merge", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.Int("modules", 2))
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	assert.Equal(t, TracerName, spans[0].InstrumentationScope().Name)
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		in    string
		host  string
		plain bool
	}{
		{"http://collector:4318", "collector:4318", true},
		{"https://collector:4317", "collector:4317", false},
		{"collector:4317", "collector:4317", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, plain := splitEndpoint(tt.in)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.plain, plain)
		})
	}
}
